// Package orders tracks locally-submitted orders from creation to a
// terminal state, merging evidence from REST polling and user-stream push
// messages into one authoritative view without double-counting fills.
package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewell/connector/internal/domain"
)

// InFlightOrder is the per-order state machine. Fields are mutated only by
// the owning Registry under its lock; readers outside the package see value
// copies via Snapshot and Record.
type InFlightOrder struct {
	clientOrderID   string
	exchangeOrderID string
	exchangeIDReady chan struct{} // closed once exchangeOrderID is set

	tradingPair string
	orderType   domain.OrderType
	tradeType   domain.TradeType
	price       decimal.Decimal
	amount      decimal.Decimal

	executedBase  decimal.Decimal
	executedQuote decimal.Decimal
	feeAsset      string
	feePaid       decimal.Decimal

	status    domain.OrderStatus
	lastState string // exchange-native status string, kept for diagnostics

	// appliedReports de-duplicates trade/report identifiers. An id in the
	// set is never re-applied, which makes REST and stream delivery free to
	// race and to duplicate.
	appliedReports map[string]struct{}

	notFoundCount int
	createdAt     time.Time
}

func newInFlightOrder(id, pair string, orderType domain.OrderType, tradeType domain.TradeType,
	price, amount decimal.Decimal, createdAt time.Time) *InFlightOrder {
	return &InFlightOrder{
		clientOrderID:   id,
		exchangeIDReady: make(chan struct{}),
		tradingPair:     pair,
		orderType:       orderType,
		tradeType:       tradeType,
		price:           price,
		amount:          amount,
		status:          domain.OrderStatusOpen,
		appliedReports:  make(map[string]struct{}),
		createdAt:       createdAt,
	}
}

func restoreInFlightOrder(rec domain.OrderRecord) *InFlightOrder {
	o := newInFlightOrder(rec.ClientOrderID, rec.TradingPair, rec.OrderType, rec.TradeType,
		rec.Price, rec.Amount, rec.CreatedAt)
	o.executedBase = rec.ExecutedBase
	o.executedQuote = rec.ExecutedQuote
	o.feeAsset = rec.FeeAsset
	o.feePaid = rec.FeePaid
	o.status = rec.Status
	o.lastState = rec.LastState
	for _, id := range rec.AppliedTradeIDs {
		o.appliedReports[id] = struct{}{}
	}
	if rec.ExchangeOrderID != "" {
		o.exchangeOrderID = rec.ExchangeOrderID
		close(o.exchangeIDReady)
	}
	return o
}

// fullyFilled reports whether the executed amount covers the requested
// amount.
func (o *InFlightOrder) fullyFilled() bool {
	return o.amount.Sign() > 0 && o.executedBase.GreaterThanOrEqual(o.amount)
}

func (o *InFlightOrder) snapshot() domain.OrderSnapshot {
	return domain.OrderSnapshot{
		ClientOrderID:   o.clientOrderID,
		ExchangeOrderID: o.exchangeOrderID,
		TradingPair:     o.tradingPair,
		OrderType:       o.orderType,
		TradeType:       o.tradeType,
		Price:           o.price,
		Amount:          o.amount,
		ExecutedBase:    o.executedBase,
		ExecutedQuote:   o.executedQuote,
		FeeAsset:        o.feeAsset,
		FeePaid:         o.feePaid,
		Status:          o.status,
		LastState:       o.lastState,
		CreatedAt:       o.createdAt,
	}
}

func (o *InFlightOrder) record(now time.Time) domain.OrderRecord {
	ids := make([]string, 0, len(o.appliedReports))
	for id := range o.appliedReports {
		ids = append(ids, id)
	}
	return domain.OrderRecord{
		ClientOrderID:   o.clientOrderID,
		ExchangeOrderID: o.exchangeOrderID,
		TradingPair:     o.tradingPair,
		OrderType:       o.orderType,
		TradeType:       o.tradeType,
		Price:           o.price,
		Amount:          o.amount,
		ExecutedBase:    o.executedBase,
		ExecutedQuote:   o.executedQuote,
		FeeAsset:        o.feeAsset,
		FeePaid:         o.feePaid,
		Status:          o.status,
		LastState:       o.lastState,
		AppliedTradeIDs: ids,
		CreatedAt:       o.createdAt,
		UpdatedAt:       now,
	}
}
