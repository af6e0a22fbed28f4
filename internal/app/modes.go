package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/tradewell/connector/internal/domain"
	"github.com/tradewell/connector/internal/feed"
	"github.com/tradewell/connector/internal/platform/paper"
)

// PaperMode runs the connector against the simulated venue: one synthetic
// market-data feed per trading pair plus the full tracking and
// reconciliation stack.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	conn := deps.Connector
	if err := conn.Start(ctx); err != nil {
		return fmt.Errorf("app: start connector: %w", err)
	}
	defer func() {
		if err := conn.Stop(); err != nil {
			a.logger.Warn("connector stop", slog.String("error", err.Error()))
		}
	}()

	g, runCtx := errgroup.WithContext(ctx)

	for _, pair := range a.cfg.Connector.TradingPairs {
		simFeed := paper.NewFeed(pair,
			decimal.NewFromInt(50_000),
			decimal.RequireFromString("0.5"),
			time.Second,
			conn.HandleMarketFrame,
		)
		g.Go(func() error { return simFeed.Run(runCtx) })
	}

	g.Go(func() error { return a.drainEvents(runCtx, conn.Events()) })

	err := g.Wait()
	if err == context.Canceled || runCtx.Err() != nil {
		return context.Canceled
	}
	return err
}

// LiveMode connects real market and user websocket streams to the
// connector. A venue integration must supply the adapter and client through
// Wire before this mode is usable.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	conn := deps.Connector
	if err := conn.Start(ctx); err != nil {
		return fmt.Errorf("app: start connector: %w", err)
	}
	defer func() {
		if err := conn.Stop(); err != nil {
			a.logger.Warn("connector stop", slog.String("error", err.Error()))
		}
	}()

	marketWS := feed.NewClient(a.cfg.Feed.MarketWsURL, conn.HandleMarketFrame, a.logger)
	if err := marketWS.Connect(ctx); err != nil {
		return fmt.Errorf("app: market feed: %w", err)
	}
	defer marketWS.Close()
	if err := marketWS.Subscribe(a.cfg.Feed.MarketChannels, a.cfg.Connector.TradingPairs); err != nil {
		return fmt.Errorf("app: market subscribe: %w", err)
	}

	userWS := feed.NewClient(a.cfg.Feed.UserWsURL, conn.HandleUserFrame, a.logger)
	if err := userWS.Connect(ctx); err != nil {
		return fmt.Errorf("app: user feed: %w", err)
	}
	defer userWS.Close()
	if err := userWS.Subscribe(a.cfg.Feed.UserChannels, a.cfg.Connector.TradingPairs); err != nil {
		return fmt.Errorf("app: user subscribe: %w", err)
	}

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.drainEvents(runCtx, conn.Events()) })

	err := g.Wait()
	if err == context.Canceled || runCtx.Err() != nil {
		return context.Canceled
	}
	return err
}

// drainEvents logs the connector's lifecycle events until the context ends.
// Strategy processes embedding the connector consume this channel directly;
// the daemon just makes the activity visible.
func (a *App) drainEvents(ctx context.Context, events <-chan domain.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.logger.Info("order event",
				slog.String("kind", domain.Kind(e)),
				slog.Time("at", e.EventTime()),
			)
		}
	}
}
