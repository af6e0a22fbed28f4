package book

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewell/connector/internal/domain"
)

// OrderBook is the queryable depth view built from tracker row streams. It
// stores one aggregate amount per price and applies rows idempotently: a
// zero-amount row removes the level, a positive-amount row replaces it.
//
// OrderBook intentionally cannot be reconstructed from a stored
// snapshot-and-diffs log. For venues that report individual resting orders,
// the diff history alone does not identify which orders existed, so replay
// would silently produce a wrong book; only live tracker output is a valid
// input.
type OrderBook struct {
	tradingPair  string
	bids         map[string]domain.OrderBookRow
	asks         map[string]domain.OrderBookRow
	lastUpdateID uint64
	lastApplied  time.Time
}

// NewOrderBook creates an empty book for one trading pair.
func NewOrderBook(tradingPair string) *OrderBook {
	return &OrderBook{
		tradingPair: tradingPair,
		bids:        make(map[string]domain.OrderBookRow),
		asks:        make(map[string]domain.OrderBookRow),
	}
}

// ApplySnapshotRows replaces the whole book with the given row sequences.
func (ob *OrderBook) ApplySnapshotRows(bidRows, askRows []domain.OrderBookRow) {
	ob.bids = make(map[string]domain.OrderBookRow, len(bidRows))
	ob.asks = make(map[string]domain.OrderBookRow, len(askRows))
	ob.ApplyRows(domain.SideBid, bidRows)
	ob.ApplyRows(domain.SideAsk, askRows)
}

// ApplyRows applies aggregate rows to one side. Application is idempotent;
// replaying a row leaves the book unchanged.
func (ob *OrderBook) ApplyRows(side domain.BookSide, rows []domain.OrderBookRow) {
	levels := ob.bids
	if side == domain.SideAsk {
		levels = ob.asks
	}
	for _, r := range rows {
		key := r.Price.String()
		if r.Amount.Sign() <= 0 {
			delete(levels, key)
		} else {
			levels[key] = r
		}
		if r.UpdateID > ob.lastUpdateID {
			ob.lastUpdateID = r.UpdateID
		}
	}
	ob.lastApplied = time.Now()
}

// BestPrice returns the highest bid or lowest ask. An empty side reports
// ErrNoSuchLevel.
func (ob *OrderBook) BestPrice(side domain.BookSide) (decimal.Decimal, error) {
	r, err := ob.bestRow(side)
	if err != nil {
		return decimal.Zero, err
	}
	return r.Price, nil
}

// BestRow returns the full best row for one side.
func (ob *OrderBook) BestRow(side domain.BookSide) (domain.OrderBookRow, error) {
	return ob.bestRow(side)
}

func (ob *OrderBook) bestRow(side domain.BookSide) (domain.OrderBookRow, error) {
	levels := ob.bids
	if side == domain.SideAsk {
		levels = ob.asks
	}
	if len(levels) == 0 {
		return domain.OrderBookRow{}, fmt.Errorf("book: %s of %s empty: %w", side, ob.tradingPair, domain.ErrNoSuchLevel)
	}

	var best domain.OrderBookRow
	first := true
	for _, r := range levels {
		if first {
			best = r
			first = false
			continue
		}
		if side == domain.SideBid && r.Price.GreaterThan(best.Price) {
			best = r
		}
		if side == domain.SideAsk && r.Price.LessThan(best.Price) {
			best = r
		}
	}
	return best, nil
}

// Top returns the current top of book for mirroring to external readers.
// ok is false while either side is empty.
func (ob *OrderBook) Top() (top domain.TopOfBook, ok bool) {
	bid, bidErr := ob.bestRow(domain.SideBid)
	ask, askErr := ob.bestRow(domain.SideAsk)
	if bidErr != nil || askErr != nil {
		return domain.TopOfBook{}, false
	}
	return domain.TopOfBook{
		TradingPair: ob.tradingPair,
		BestBid:     bid.Price,
		BestAsk:     ask.Price,
		UpdateID:    ob.lastUpdateID,
		Timestamp:   ob.lastApplied,
	}, true
}

// LastUpdateID returns the highest update id applied so far.
func (ob *OrderBook) LastUpdateID() uint64 { return ob.lastUpdateID }
