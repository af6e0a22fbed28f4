package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookSide identifies one side of an order book.
type BookSide string

const (
	SideBid BookSide = "bid"
	SideAsk BookSide = "ask"
)

// Opposite returns the other side of the book.
func (s BookSide) Opposite() BookSide {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// OrderBookRow is an immutable price-level delta. Amount is the aggregate
// resting quantity at Price after the update; a zero Amount removes the
// level. Rows are produced, never mutated in place.
type OrderBookRow struct {
	Price    decimal.Decimal
	Amount   decimal.Decimal
	UpdateID uint64
}

// DiffAction is the canonical set of incremental book update actions. Every
// exchange-native action tag must map onto one of these; anything else is a
// protocol error.
type DiffAction string

const (
	// ActionInsert opens a new resting order or price level.
	ActionInsert DiffAction = "insert"
	// ActionUpdate replaces the remaining size of an existing order or level.
	ActionUpdate DiffAction = "update"
	// ActionMatch decrements remaining size by a traded amount.
	ActionMatch DiffAction = "match"
	// ActionDelete removes an order or level entirely.
	ActionDelete DiffAction = "delete"
	// ActionDeleteThrough clears every level worse than the pivot price.
	ActionDeleteThrough DiffAction = "delete_through"
	// ActionDeleteFrom clears every level better than the pivot price.
	ActionDeleteFrom DiffAction = "delete_from"
)

// SnapshotEntry is one resting order or pre-aggregated level inside a full
// book snapshot. OrderID is empty when the venue reports aggregated depth.
type SnapshotEntry struct {
	Price   decimal.Decimal
	Size    decimal.Decimal
	OrderID string
}

// SnapshotMessage is a full replacement of both book sides at a point in
// time, already normalized by the exchange adapter.
type SnapshotMessage struct {
	TradingPair string
	Bids        []SnapshotEntry
	Asks        []SnapshotEntry
	UpdateID    uint64
	Timestamp   time.Time
}

// DiffMessage is one incremental book update, already normalized by the
// exchange adapter. Size is the absolute new size for updates, the traded
// amount for matches, and unused for deletes. Notional, when set on an
// update, derives the size as Notional / Price for venues that report value
// instead of quantity.
type DiffMessage struct {
	TradingPair string
	Action      DiffAction
	Side        BookSide
	Price       decimal.Decimal
	Size        decimal.Decimal
	Notional    decimal.Decimal
	OrderID     string
	UpdateID    uint64
	Timestamp   time.Time
}

// TradeMessage is a public trade print, already normalized by the exchange
// adapter. Side carries the adapter-decoded aggressor side; callers must not
// assume any venue-specific sign or enum convention survives to here.
type TradeMessage struct {
	TradingPair string
	Side        TradeType
	Price       decimal.Decimal
	Size        decimal.Decimal
	TradeID     string
	Timestamp   time.Time
}

// TradeEvent is a validated public trade, emitted on the market-data path.
type TradeEvent struct {
	TradingPair string
	Side        TradeType
	Price       decimal.Decimal
	Size        decimal.Decimal
	TradeID     string
	Timestamp   time.Time
}

// TopOfBook is the best-bid/best-ask view mirrored to external readers.
type TopOfBook struct {
	TradingPair string
	BestBid     decimal.Decimal
	BestAsk     decimal.Decimal
	UpdateID    uint64
	Timestamp   time.Time
}
