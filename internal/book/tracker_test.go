package book

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewell/connector/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func snapshotMsg(updateID uint64) domain.SnapshotMessage {
	return domain.SnapshotMessage{
		TradingPair: "BTC-USDT",
		UpdateID:    updateID,
		Timestamp:   time.Now(),
		Bids: []domain.SnapshotEntry{
			{OrderID: "b1", Price: d("100"), Size: d("2")},
			{OrderID: "b2", Price: d("100"), Size: d("3")},
			{OrderID: "b3", Price: d("99"), Size: d("1")},
		},
		Asks: []domain.SnapshotEntry{
			{OrderID: "a1", Price: d("101"), Size: d("4")},
			{OrderID: "a2", Price: d("102"), Size: d("5")},
		},
	}
}

func TestApplySnapshotAggregatesAndSorts(t *testing.T) {
	tr := NewTracker("BTC-USDT", false, testLogger())

	bids, asks := tr.ApplySnapshot(snapshotMsg(7))

	require.Len(t, bids, 2)
	assert.True(t, bids[0].Price.Equal(d("100")), "bids sorted descending")
	assert.True(t, bids[0].Amount.Equal(d("5")), "per-order sizes aggregate")
	assert.True(t, bids[1].Price.Equal(d("99")))

	require.Len(t, asks, 2)
	assert.True(t, asks[0].Price.Equal(d("101")), "asks sorted ascending")
	assert.True(t, asks[1].Price.Equal(d("102")))

	assert.Equal(t, uint64(7), tr.LastUpdateID())
}

func TestApplySnapshotDiscardsPriorState(t *testing.T) {
	tr := NewTracker("BTC-USDT", false, testLogger())
	tr.ApplySnapshot(snapshotMsg(1))

	bids, asks := tr.ApplySnapshot(domain.SnapshotMessage{
		TradingPair: "BTC-USDT",
		UpdateID:    2,
		Bids:        []domain.SnapshotEntry{{Price: d("50"), Size: d("1")}},
	})

	require.Len(t, bids, 1)
	assert.True(t, bids[0].Price.Equal(d("50")))
	assert.Empty(t, asks)
}

func TestApplyDiffStale(t *testing.T) {
	tr := NewTracker("BTC-USDT", false, testLogger())
	tr.ApplySnapshot(snapshotMsg(10))

	_, err := tr.ApplyDiff(domain.DiffMessage{
		Action: domain.ActionInsert, Side: domain.SideBid,
		Price: d("98"), Size: d("1"), UpdateID: 10,
	})
	assert.ErrorIs(t, err, domain.ErrStaleUpdate)

	_, err = tr.ApplyDiff(domain.DiffMessage{
		Action: domain.ActionInsert, Side: domain.SideBid,
		Price: d("98"), Size: d("1"), UpdateID: 9,
	})
	assert.ErrorIs(t, err, domain.ErrStaleUpdate)
}

func TestApplyDiffUnknownActionLeavesStateUntouched(t *testing.T) {
	tr := NewTracker("BTC-USDT", false, testLogger())
	tr.ApplySnapshot(snapshotMsg(1))

	_, err := tr.ApplyDiff(domain.DiffMessage{
		Action: domain.DiffAction("replace"), Side: domain.SideBid,
		Price: d("100"), Size: d("9"), UpdateID: 2,
	})
	require.ErrorIs(t, err, domain.ErrUnknownAction)
	assert.Equal(t, uint64(1), tr.LastUpdateID(), "failed diff must not advance the sequence")
}

func TestApplyDiffInsertDuplicateUnderUniqueLevels(t *testing.T) {
	tr := NewTracker("TOKEN-USD", true, testLogger())
	_, err := tr.ApplyDiff(domain.DiffMessage{
		Action: domain.ActionInsert, Side: domain.SideAsk,
		Price: d("10"), Size: d("1"), UpdateID: 1,
	})
	require.NoError(t, err)

	_, err = tr.ApplyDiff(domain.DiffMessage{
		Action: domain.ActionInsert, Side: domain.SideAsk,
		Price: d("10"), Size: d("2"), UpdateID: 2,
	})
	assert.ErrorIs(t, err, domain.ErrLevelExists)
}

func TestApplyDiffUpdateUnknownLevelDropped(t *testing.T) {
	tr := NewTracker("BTC-USDT", false, testLogger())
	tr.ApplySnapshot(snapshotMsg(1))

	rows, err := tr.ApplyDiff(domain.DiffMessage{
		Action: domain.ActionUpdate, Side: domain.SideBid,
		Price: d("42"), Size: d("1"), UpdateID: 2,
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, uint64(2), tr.LastUpdateID(), "dropped diff still advances the sequence")
}

func TestApplyDiffMatchDecrementsAggregate(t *testing.T) {
	tr := NewTracker("BTC-USDT", false, testLogger())
	tr.ApplySnapshot(snapshotMsg(1))

	rows, err := tr.ApplyDiff(domain.DiffMessage{
		Action: domain.ActionMatch, Side: domain.SideBid,
		OrderID: "b1", Price: d("100"), Size: d("2"), UpdateID: 2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Amount.Equal(d("3")), "b1 fully consumed, b2 remains")
}

func TestApplyDiffMatchToZeroEmitsRemovalRow(t *testing.T) {
	tr := NewTracker("BTC-USDT", false, testLogger())
	tr.ApplySnapshot(snapshotMsg(1))

	rows, err := tr.ApplyDiff(domain.DiffMessage{
		Action: domain.ActionMatch, Side: domain.SideBid,
		Price: d("99"), Size: d("1"), UpdateID: 2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Amount.IsZero())
	assert.True(t, rows[0].Price.Equal(d("99")))
}

func TestApplyDiffDeleteOrderRecomputesLevel(t *testing.T) {
	tr := NewTracker("BTC-USDT", false, testLogger())
	tr.ApplySnapshot(snapshotMsg(1))

	rows, err := tr.ApplyDiff(domain.DiffMessage{
		Action: domain.ActionDelete, Side: domain.SideBid,
		OrderID: "b2", Price: d("100"), UpdateID: 2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Amount.Equal(d("2")), "only b1 remains at 100")
}

func TestApplyDiffNotionalDerivesSize(t *testing.T) {
	tr := NewTracker("BTC-USDT", false, testLogger())
	tr.ApplySnapshot(domain.SnapshotMessage{
		TradingPair: "BTC-USDT", UpdateID: 1,
		Asks: []domain.SnapshotEntry{{Price: d("200"), Size: d("1")}},
	})

	rows, err := tr.ApplyDiff(domain.DiffMessage{
		Action: domain.ActionUpdate, Side: domain.SideAsk,
		Price: d("200"), Notional: d("500"), UpdateID: 2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Amount.Equal(d("2.5")))
}

func TestApplyDiffDeleteThroughClearsWorseLevels(t *testing.T) {
	tr := NewTracker("BTC-USDT", false, testLogger())
	tr.ApplySnapshot(snapshotMsg(1))

	rows, err := tr.ApplyDiff(domain.DiffMessage{
		Action: domain.ActionDeleteThrough, Side: domain.SideBid,
		Price: d("100"), UpdateID: 2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1, "only the 99 bid is worse than the pivot")
	assert.True(t, rows[0].Price.Equal(d("99")))
	assert.True(t, rows[0].Amount.IsZero())
}

func TestApplyDiffDeleteFromClearsBetterLevels(t *testing.T) {
	tr := NewTracker("BTC-USDT", false, testLogger())
	tr.ApplySnapshot(snapshotMsg(1))

	rows, err := tr.ApplyDiff(domain.DiffMessage{
		Action: domain.ActionDeleteFrom, Side: domain.SideAsk,
		Price: d("102"), UpdateID: 2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1, "only the 101 ask is better than the pivot")
	assert.True(t, rows[0].Price.Equal(d("101")))
}

func TestParseTrade(t *testing.T) {
	tr := NewTracker("BTC-USDT", false, testLogger())

	tests := []struct {
		name    string
		msg     domain.TradeMessage
		wantErr bool
	}{
		{
			name: "valid",
			msg: domain.TradeMessage{
				TradeID: "t1", Side: domain.TradeBuy,
				Price: d("100"), Size: d("1"),
			},
		},
		{
			name:    "missing trade id",
			msg:     domain.TradeMessage{Side: domain.TradeBuy, Price: d("100"), Size: d("1")},
			wantErr: true,
		},
		{
			name:    "zero price",
			msg:     domain.TradeMessage{TradeID: "t2", Side: domain.TradeSell, Price: d("0"), Size: d("1")},
			wantErr: true,
		},
		{
			name:    "negative size",
			msg:     domain.TradeMessage{TradeID: "t3", Side: domain.TradeSell, Price: d("100"), Size: d("-1")},
			wantErr: true,
		},
		{
			name:    "bad side",
			msg:     domain.TradeMessage{TradeID: "t4", Side: domain.TradeType("short"), Price: d("100"), Size: d("1")},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := tr.ParseTrade(tc.msg)
			if tc.wantErr {
				assert.ErrorIs(t, err, domain.ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "BTC-USDT", ev.TradingPair)
			assert.Equal(t, tc.msg.TradeID, ev.TradeID)
		})
	}
}
