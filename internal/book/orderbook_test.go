package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewell/connector/internal/domain"
)

func TestOrderBookApplyRowsIdempotent(t *testing.T) {
	ob := NewOrderBook("BTC-USDT")
	rows := []domain.OrderBookRow{
		{Price: d("100"), Amount: d("2"), UpdateID: 1},
		{Price: d("99"), Amount: d("1"), UpdateID: 1},
	}

	ob.ApplyRows(domain.SideBid, rows)
	ob.ApplyRows(domain.SideBid, rows)

	best, err := ob.BestRow(domain.SideBid)
	require.NoError(t, err)
	assert.True(t, best.Price.Equal(d("100")))
	assert.True(t, best.Amount.Equal(d("2")), "replaying rows must not change amounts")
}

func TestOrderBookZeroAmountRemovesLevel(t *testing.T) {
	ob := NewOrderBook("BTC-USDT")
	ob.ApplyRows(domain.SideAsk, []domain.OrderBookRow{
		{Price: d("101"), Amount: d("4"), UpdateID: 1},
		{Price: d("102"), Amount: d("5"), UpdateID: 1},
	})

	ob.ApplyRows(domain.SideAsk, []domain.OrderBookRow{
		{Price: d("101"), Amount: d("0"), UpdateID: 2},
	})

	best, err := ob.BestPrice(domain.SideAsk)
	require.NoError(t, err)
	assert.True(t, best.Equal(d("102")))
	assert.Equal(t, uint64(2), ob.LastUpdateID())
}

func TestOrderBookBestPriceEmptySide(t *testing.T) {
	ob := NewOrderBook("BTC-USDT")
	_, err := ob.BestPrice(domain.SideBid)
	assert.ErrorIs(t, err, domain.ErrNoSuchLevel)
}

func TestOrderBookTop(t *testing.T) {
	ob := NewOrderBook("BTC-USDT")

	_, ok := ob.Top()
	assert.False(t, ok, "top requires both sides populated")

	ob.ApplyRows(domain.SideBid, []domain.OrderBookRow{{Price: d("100"), Amount: d("1"), UpdateID: 3}})
	_, ok = ob.Top()
	assert.False(t, ok)

	ob.ApplyRows(domain.SideAsk, []domain.OrderBookRow{{Price: d("101"), Amount: d("1"), UpdateID: 4}})
	top, ok := ob.Top()
	require.True(t, ok)
	assert.True(t, top.BestBid.Equal(d("100")))
	assert.True(t, top.BestAsk.Equal(d("101")))
	assert.Equal(t, uint64(4), top.UpdateID)
	assert.Equal(t, "BTC-USDT", top.TradingPair)
}

func TestOrderBookSnapshotReplacesState(t *testing.T) {
	ob := NewOrderBook("BTC-USDT")
	ob.ApplyRows(domain.SideBid, []domain.OrderBookRow{{Price: d("90"), Amount: d("1"), UpdateID: 1}})

	ob.ApplySnapshotRows(
		[]domain.OrderBookRow{{Price: d("100"), Amount: d("2"), UpdateID: 2}},
		[]domain.OrderBookRow{{Price: d("101"), Amount: d("3"), UpdateID: 2}},
	)

	best, err := ob.BestPrice(domain.SideBid)
	require.NoError(t, err)
	assert.True(t, best.Equal(d("100")), "stale levels cleared by snapshot")
}
