package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewell/connector/internal/domain"
)

// scriptAdapter decodes the minimal JSON frames the listener tests feed in.
type scriptAdapter struct{}

type scriptFrame struct {
	Kind    string             `json:"kind"`
	Report  domain.OrderReport `json:"report"`
	Asset   string             `json:"asset"`
	Total   string             `json:"total"`
	Avail   string             `json:"avail"`
	BadBody bool               `json:"bad_body"`
}

func (scriptAdapter) Classify(raw []byte) (domain.MessageKind, error) {
	var f scriptFrame
	if err := json.Unmarshal(raw, &f); err != nil || f.Kind == "" {
		return "", fmt.Errorf("classify: %w", domain.ErrMalformedMessage)
	}
	return domain.MessageKind(f.Kind), nil
}

func (scriptAdapter) ParseSnapshot([]byte) (domain.SnapshotMessage, error) {
	return domain.SnapshotMessage{}, nil
}
func (scriptAdapter) ParseDiff([]byte) (domain.DiffMessage, error) {
	return domain.DiffMessage{}, nil
}
func (scriptAdapter) ParseTrade([]byte) (domain.TradeMessage, error) {
	return domain.TradeMessage{}, nil
}

func (scriptAdapter) ParseOrderReport(raw []byte) (domain.OrderReport, error) {
	var f scriptFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return domain.OrderReport{}, err
	}
	if f.BadBody {
		return domain.OrderReport{}, fmt.Errorf("order body: %w", domain.ErrMalformedMessage)
	}
	return f.Report, nil
}

func (scriptAdapter) ParseBalance(raw []byte) (domain.BalanceUpdate, error) {
	var f scriptFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return domain.BalanceUpdate{}, err
	}
	if f.BadBody {
		return domain.BalanceUpdate{}, fmt.Errorf("balance body: %w", domain.ErrMalformedMessage)
	}
	total, _ := decimal.NewFromString(f.Total)
	avail, _ := decimal.NewFromString(f.Avail)
	return domain.BalanceUpdate{Asset: f.Asset, Total: total, Available: avail}, nil
}

func frame(t *testing.T, f scriptFrame) []byte {
	t.Helper()
	raw, err := json.Marshal(f)
	require.NoError(t, err)
	return raw
}

func TestListenerOrderFrameAppliesReport(t *testing.T) {
	f := newFixture(t)
	f.track("c1", domain.TradeBuy, "10")
	l := NewListener(f.proc, scriptAdapter{}, 16, testLogger())

	l.handle(context.Background(), frame(t, scriptFrame{
		Kind: "order",
		Report: domain.OrderReport{
			ClientOrderID: "c1", Status: domain.OrderStatusPartiallyFilled,
			FilledBase: d("3"), TradeID: "t1",
		},
	}))

	assert.Equal(t, []string{"order_filled"}, f.events.kinds())
	snap, ok := f.registry.Get("c1")
	require.True(t, ok)
	assert.True(t, snap.ExecutedBase.Equal(d("3")))
}

func TestListenerTradeFrameUsesSameReportPath(t *testing.T) {
	f := newFixture(t)
	f.track("c1", domain.TradeBuy, "10")
	l := NewListener(f.proc, scriptAdapter{}, 16, testLogger())

	l.handle(context.Background(), frame(t, scriptFrame{
		Kind: "trade",
		Report: domain.OrderReport{
			ClientOrderID: "c1", Status: domain.OrderStatusPartiallyFilled,
			FilledBase: d("5"), TradeID: "t9",
		},
	}))

	assert.Equal(t, []string{"order_filled"}, f.events.kinds())
}

func TestListenerBalanceFrameStoredAndEmitted(t *testing.T) {
	f := newFixture(t)
	l := NewListener(f.proc, scriptAdapter{}, 16, testLogger())

	l.handle(context.Background(), frame(t, scriptFrame{
		Kind: "balance", Asset: "USDT", Total: "1000", Avail: "600",
	}))

	total, avail, ok := l.Balance("USDT")
	require.True(t, ok)
	assert.True(t, total.Equal(d("1000")))
	assert.True(t, avail.Equal(d("600")))
	assert.Equal(t, []string{"balance_update"}, f.events.kinds())

	_, _, ok = l.Balance("BTC")
	assert.False(t, ok)
}

func TestListenerMalformedFramesDropped(t *testing.T) {
	f := newFixture(t)
	f.track("c1", domain.TradeBuy, "10")
	l := NewListener(f.proc, scriptAdapter{}, 16, testLogger())
	ctx := context.Background()

	l.handle(ctx, []byte("not json"))
	l.handle(ctx, frame(t, scriptFrame{Kind: "order", BadBody: true}))
	l.handle(ctx, frame(t, scriptFrame{Kind: "balance", BadBody: true}))
	l.handle(ctx, frame(t, scriptFrame{Kind: "snapshot"})) // market kinds ignored here

	assert.Empty(t, f.events.events)
	assert.Equal(t, 1, f.registry.Len(), "state untouched by dropped frames")
}

func TestListenerEnqueueStampsLastRecv(t *testing.T) {
	f := newFixture(t)
	l := NewListener(f.proc, scriptAdapter{}, 16, testLogger())

	assert.True(t, l.LastRecv().IsZero())

	require.NoError(t, l.Enqueue(context.Background(), []byte("{}")))
	assert.Equal(t, f.clk.Now().UnixNano(), l.LastRecv().UnixNano())

	f.clk.Advance(time.Minute)
	require.NoError(t, l.Enqueue(context.Background(), []byte("{}")))
	assert.Equal(t, f.clk.Now().UnixNano(), l.LastRecv().UnixNano())
}

func TestListenerRunConsumesQueue(t *testing.T) {
	f := newFixture(t)
	f.track("c1", domain.TradeBuy, "10")
	l := NewListener(f.proc, scriptAdapter{}, 16, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.NoError(t, l.Enqueue(ctx, frame(t, scriptFrame{
		Kind: "order",
		Report: domain.OrderReport{
			ClientOrderID: "c1", Status: domain.OrderStatusCanceled,
		},
	})))

	require.Eventually(t, func() bool { return f.registry.Len() == 0 },
		2*time.Second, 10*time.Millisecond, "canceled order retired by the run goroutine")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on context cancel")
	}
}
