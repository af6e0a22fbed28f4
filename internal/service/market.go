package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tradewell/connector/internal/domain"
)

// marketLoop is the single goroutine that mutates trackers and books. Frames
// are applied in arrival order; a malformed or stale frame is dropped and
// never stops the loop.
func (c *Connector) marketLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-c.marketQueue:
			c.handleMarketMessage(ctx, raw)
		}
	}
}

func (c *Connector) handleMarketMessage(ctx context.Context, raw []byte) {
	kind, err := c.adapter.Classify(raw)
	if err != nil {
		c.logger.Warn("unclassifiable market frame", slog.String("error", err.Error()))
		return
	}

	switch kind {
	case domain.KindSnapshot:
		msg, err := c.adapter.ParseSnapshot(raw)
		if err != nil {
			c.logger.Warn("malformed snapshot", slog.String("error", err.Error()))
			return
		}
		c.applySnapshot(ctx, msg)

	case domain.KindDiff:
		msg, err := c.adapter.ParseDiff(raw)
		if err != nil {
			c.logger.Warn("malformed diff", slog.String("error", err.Error()))
			return
		}
		c.applyDiff(ctx, msg)

	case domain.KindTrade:
		msg, err := c.adapter.ParseTrade(raw)
		if err != nil {
			c.logger.Warn("malformed trade", slog.String("error", err.Error()))
			return
		}
		c.applyTrade(ctx, msg)

	default:
		c.logger.Debug("ignoring market frame", slog.String("kind", string(kind)))
	}
}

func (c *Connector) applySnapshot(ctx context.Context, msg domain.SnapshotMessage) {
	tracker, ok := c.trackers[msg.TradingPair]
	if !ok {
		return
	}
	bids, asks := tracker.ApplySnapshot(msg)

	c.booksMu.Lock()
	c.books[msg.TradingPair].ApplySnapshotRows(bids, asks)
	top, topOK := c.books[msg.TradingPair].Top()
	c.booksMu.Unlock()

	c.logger.Debug("snapshot applied",
		slog.String("pair", msg.TradingPair),
		slog.Uint64("update_id", msg.UpdateID),
		slog.Int("bids", len(bids)),
		slog.Int("asks", len(asks)),
	)
	if topOK {
		c.mirrorTop(ctx, top)
	}
}

func (c *Connector) applyDiff(ctx context.Context, msg domain.DiffMessage) {
	tracker, ok := c.trackers[msg.TradingPair]
	if !ok {
		return
	}
	rows, err := tracker.ApplyDiff(msg)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrStaleUpdate):
			c.logger.Debug("stale diff dropped",
				slog.String("pair", msg.TradingPair),
				slog.Uint64("update_id", msg.UpdateID),
			)
		default:
			c.logger.Error("diff rejected",
				slog.String("pair", msg.TradingPair),
				slog.Uint64("update_id", msg.UpdateID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	c.booksMu.Lock()
	ob := c.books[msg.TradingPair]
	ob.ApplyRows(msg.Side, rows)
	top, topOK := ob.Top()
	c.booksMu.Unlock()

	if topOK {
		c.mirrorTop(ctx, top)
	}
}

func (c *Connector) applyTrade(ctx context.Context, msg domain.TradeMessage) {
	tracker, ok := c.trackers[msg.TradingPair]
	if !ok {
		return
	}
	ev, err := tracker.ParseTrade(msg)
	if err != nil {
		c.logger.Warn("malformed trade dropped",
			slog.String("pair", msg.TradingPair),
			slog.String("error", err.Error()),
		)
		return
	}
	if c.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.bus.Publish(pctx, "trades:"+strings.ToLower(c.cfg.Name), payload); err != nil {
		c.logger.Warn("publish trade failed", slog.String("error", err.Error()))
	}
}

func (c *Connector) mirrorTop(ctx context.Context, top domain.TopOfBook) {
	if c.cache == nil {
		return
	}
	mctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.cache.SetTop(mctx, top); err != nil {
		c.logger.Warn("mirror top of book failed",
			slog.String("pair", top.TradingPair),
			slog.String("error", err.Error()),
		)
	}
}

// rulesLoop refreshes trading rules and fee rates on a fixed interval.
func (c *Connector) rulesLoop(ctx context.Context) error {
	interval := c.cfg.RuleRefreshInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.refreshRules(ctx); err != nil {
				c.logger.Warn("trading rule refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// refreshRules replaces the rule map and fee schedule wholesale so a pair
// delisted by the venue stops being tradable.
func (c *Connector) refreshRules(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	rules, err := c.client.TradingRules(rctx)
	if err != nil {
		return err
	}
	fees, feeErr := c.client.FeeRates(rctx)

	c.rulesMu.Lock()
	next := make(map[string]domain.TradingRule, len(rules))
	for _, r := range rules {
		next[r.TradingPair] = r
	}
	c.rules = next
	if feeErr == nil {
		c.fees = fees
	}
	c.rulesMu.Unlock()

	c.logger.Info("trading rules refreshed", slog.Int("pairs", len(rules)))
	if feeErr != nil {
		c.logger.Warn("fee rate refresh failed", slog.String("error", feeErr.Error()))
	}
	return nil
}
