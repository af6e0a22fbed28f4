package paper

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// FrameSink receives raw frames exactly as a websocket feed would deliver
// them.
type FrameSink func(ctx context.Context, raw []byte) error

// Feed synthesizes market data for one trading pair: an initial snapshot
// followed by random-walk level updates around a mid price. Frames use the
// same envelope format the Adapter decodes.
type Feed struct {
	tradingPair string
	mid         decimal.Decimal
	tick        decimal.Decimal
	interval    time.Duration
	sink        FrameSink

	updateID uint64
	rng      *rand.Rand
}

// NewFeed creates a simulator around the given mid price.
func NewFeed(tradingPair string, mid, tick decimal.Decimal, interval time.Duration, sink FrameSink) *Feed {
	if interval <= 0 {
		interval = time.Second
	}
	return &Feed{
		tradingPair: tradingPair,
		mid:         mid,
		tick:        tick,
		interval:    interval,
		sink:        sink,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run emits a snapshot and then periodic diffs until the context ends.
func (f *Feed) Run(ctx context.Context) error {
	if err := f.emitSnapshot(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.emitDiff(ctx); err != nil {
				return err
			}
		}
	}
}

func (f *Feed) emitSnapshot(ctx context.Context) error {
	var bids, asks []levelJSON
	for i := 1; i <= 5; i++ {
		offset := f.tick.Mul(decimal.NewFromInt(int64(i)))
		size := decimal.NewFromInt(int64(f.rng.Intn(9) + 1))
		bids = append(bids, levelJSON{
			Price:  f.mid.Sub(offset).String(),
			Amount: size.String(),
		})
		asks = append(asks, levelJSON{
			Price:  f.mid.Add(offset).String(),
			Amount: size.String(),
		})
	}

	f.updateID++
	payload, err := json.Marshal(snapshotJSON{Bids: bids, Asks: asks})
	if err != nil {
		return fmt.Errorf("paper: marshal snapshot: %w", err)
	}
	return f.send(ctx, "snapshot", payload)
}

func (f *Feed) emitDiff(ctx context.Context) error {
	// Walk the mid one tick at a time and requote one level near it.
	if f.rng.Intn(2) == 0 {
		f.mid = f.mid.Add(f.tick)
	} else {
		f.mid = f.mid.Sub(f.tick)
	}

	side := "bid"
	price := f.mid.Sub(f.tick)
	if f.rng.Intn(2) == 0 {
		side = "ask"
		price = f.mid.Add(f.tick)
	}

	f.updateID++
	payload, err := json.Marshal(diffJSON{
		Action: "insert",
		Side:   side,
		Price:  price.String(),
		Amount: decimal.NewFromInt(int64(f.rng.Intn(9) + 1)).String(),
	})
	if err != nil {
		return fmt.Errorf("paper: marshal diff: %w", err)
	}
	return f.send(ctx, "diff", payload)
}

func (f *Feed) send(ctx context.Context, kind string, payload json.RawMessage) error {
	raw, err := json.Marshal(envelope{
		Type:        kind,
		TradingPair: f.tradingPair,
		UpdateID:    f.updateID,
		Timestamp:   time.Now().UnixMilli(),
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("paper: marshal envelope: %w", err)
	}
	return f.sink(ctx, raw)
}
