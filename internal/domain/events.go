package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is the closed set of lifecycle notifications delivered to strategy
// and accounting collaborators over a typed channel. The variants below are
// the only implementations; consumers switch on the concrete type.
type Event interface {
	EventTime() time.Time
	eventKind() string
}

// OrderFilled reports exactly one newly executed quantity on an order.
type OrderFilled struct {
	Fill FillDelta
}

func (e OrderFilled) EventTime() time.Time { return e.Fill.Timestamp }
func (OrderFilled) eventKind() string      { return "order_filled" }

// BuyOrderCompleted reports that a buy order reached a full fill.
type BuyOrderCompleted struct {
	Order     OrderSnapshot
	Timestamp time.Time
}

func (e BuyOrderCompleted) EventTime() time.Time { return e.Timestamp }
func (BuyOrderCompleted) eventKind() string      { return "buy_order_completed" }

// SellOrderCompleted reports that a sell order reached a full fill.
type SellOrderCompleted struct {
	Order     OrderSnapshot
	Timestamp time.Time
}

func (e SellOrderCompleted) EventTime() time.Time { return e.Timestamp }
func (SellOrderCompleted) eventKind() string      { return "sell_order_completed" }

// OrderCancelled reports a confirmed or inferred cancellation.
type OrderCancelled struct {
	ClientOrderID   string
	ExchangeOrderID string
	TradingPair     string
	Timestamp       time.Time
}

func (e OrderCancelled) EventTime() time.Time { return e.Timestamp }
func (OrderCancelled) eventKind() string      { return "order_cancelled" }

// OrderFailure reports a rejected or expired order, or a submission that the
// exchange refused. It is always terminal for the order it names.
type OrderFailure struct {
	ClientOrderID string
	TradingPair   string
	OrderType     OrderType
	Reason        string
	Timestamp     time.Time
}

func (e OrderFailure) EventTime() time.Time { return e.Timestamp }
func (OrderFailure) eventKind() string      { return "order_failure" }

// BalanceUpdate reports an account balance change from the user stream.
type BalanceUpdate struct {
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
	Timestamp time.Time
}

func (e BalanceUpdate) EventTime() time.Time { return e.Timestamp }
func (BalanceUpdate) eventKind() string      { return "balance_update" }

// Kind returns the wire tag for an event, used when publishing to the
// signal bus.
func Kind(e Event) string { return e.eventKind() }
