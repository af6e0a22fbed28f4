package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeType indicates whether an order buys or sells the base asset.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeLimitMaker OrderType = "limit_maker"
)

// OrderStatus is the canonical order lifecycle state. Exchange-native status
// strings are mapped onto this set by the per-exchange MessageAdapter.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// IsDone reports whether the status is terminal.
func (s OrderStatus) IsDone() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the status is terminal without a complete fill.
func (s OrderStatus) IsFailure() bool {
	switch s {
	case OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// OrderReport is one unit of evidence about a tracked order, produced either
// by a REST status poll or by a user-stream push message. FilledBase is the
// absolute cumulative filled quantity, never a delta, so that missed
// intermediate updates cannot corrupt fill accounting.
type OrderReport struct {
	ClientOrderID   string
	ExchangeOrderID string
	TradingPair     string
	Status          OrderStatus
	NativeStatus    string
	FilledBase      decimal.Decimal
	TotalSize       decimal.Decimal
	FillPrice       decimal.Decimal // average or last fill price; order limit price when absent
	TradeID         string          // unique report identifier; empty for pure status rows
	FeeAmount       decimal.Decimal
	FeeAsset        string
	Timestamp       time.Time
}

// FillDelta is the newly executed quantity derived from one applied report.
// It is produced at most once per unit of observed fill regardless of how
// many redundant reports describe it.
type FillDelta struct {
	ClientOrderID   string
	ExchangeOrderID string
	TradingPair     string
	TradeType       TradeType
	OrderType       OrderType
	Price           decimal.Decimal
	Amount          decimal.Decimal
	QuoteAmount     decimal.Decimal
	Fee             decimal.Decimal
	FeeAsset        string
	TradeID         string
	Timestamp       time.Time
}

// OrderSnapshot is a read-only copy of one in-flight order, exposed to
// strategy and accounting collaborators.
type OrderSnapshot struct {
	ClientOrderID   string
	ExchangeOrderID string
	TradingPair     string
	OrderType       OrderType
	TradeType       TradeType
	Price           decimal.Decimal
	Amount          decimal.Decimal
	ExecutedBase    decimal.Decimal
	ExecutedQuote   decimal.Decimal
	FeeAsset        string
	FeePaid         decimal.Decimal
	Status          OrderStatus
	LastState       string
	CreatedAt       time.Time
}

// PlaceOrderRequest is the shape sent to an ExchangeClient when submitting an
// order. All values are already quantized against the pair's trading rule.
type PlaceOrderRequest struct {
	ClientOrderID string
	TradingPair   string
	TradeType     TradeType
	OrderType     OrderType
	Price         decimal.Decimal
	Amount        decimal.Decimal
}

// CancellationResult reports the outcome of one leg of a bulk cancel. Bulk
// cancels are never atomic; each order succeeds or fails independently.
type CancellationResult struct {
	ClientOrderID string
	Success       bool
	Err           error
}

// OrderRecord is the persisted form of an in-flight order. Decimal fields are
// stored as exact strings; AppliedTradeIDs carries the de-duplication set so
// a restored order cannot double-count a fill observed before restart.
type OrderRecord struct {
	ClientOrderID   string
	ExchangeOrderID string
	TradingPair     string
	OrderType       OrderType
	TradeType       TradeType
	Price           decimal.Decimal
	Amount          decimal.Decimal
	ExecutedBase    decimal.Decimal
	ExecutedQuote   decimal.Decimal
	FeeAsset        string
	FeePaid         decimal.Decimal
	Status          OrderStatus
	LastState       string
	AppliedTradeIDs []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
