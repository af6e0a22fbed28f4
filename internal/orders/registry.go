package orders

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewell/connector/internal/clock"
	"github.com/tradewell/connector/internal/domain"
)

// FeeEstimator supplies a fee for a fill when the exchange report does not
// carry one. The amount passed is always the fill delta, never the
// cumulative executed amount.
type FeeEstimator interface {
	EstimateFee(tradingPair string, orderType domain.OrderType, tradeType domain.TradeType,
		amount, price decimal.Decimal) (feeAsset string, fee decimal.Decimal)
}

// Registry owns the client-order-id to InFlightOrder map and answers "what
// do we currently believe about our orders". The REST reconciliation loop
// and the stream listener both mutate it through ApplyReport, which is
// idempotent per report identifier, so the two paths interleave freely.
type Registry struct {
	mu           sync.Mutex
	orders       map[string]*InFlightOrder
	byExchangeID map[string]string
	fees         FeeEstimator
	clock        clock.Clock
	logger       *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(fees FeeEstimator, clk clock.Clock, logger *slog.Logger) *Registry {
	return &Registry{
		orders:       make(map[string]*InFlightOrder),
		byExchangeID: make(map[string]string),
		fees:         fees,
		clock:        clk,
		logger:       logger.With(slog.String("component", "order_registry")),
	}
}

// StartTracking creates an order in the open state. It is called before the
// exchange has acknowledged the submission so the caller can reference the
// order immediately.
func (r *Registry) StartTracking(clientOrderID, tradingPair string, orderType domain.OrderType,
	tradeType domain.TradeType, price, amount decimal.Decimal) domain.OrderSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	o := newInFlightOrder(clientOrderID, tradingPair, orderType, tradeType, price, amount, r.clock.Now())
	r.orders[clientOrderID] = o
	return o.snapshot()
}

// StopTracking retires an order and returns its final snapshot.
func (r *Registry) StopTracking(clientOrderID string) (domain.OrderSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[clientOrderID]
	if !ok {
		return domain.OrderSnapshot{}, false
	}
	delete(r.orders, clientOrderID)
	if o.exchangeOrderID != "" {
		delete(r.byExchangeID, o.exchangeOrderID)
	}
	return o.snapshot(), true
}

// Restore rebuilds tracked orders from persisted records at process start.
// Terminal records are skipped; their events were already emitted.
func (r *Registry) Restore(recs []domain.OrderRecord) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, rec := range recs {
		if rec.Status.IsDone() {
			continue
		}
		o := restoreInFlightOrder(rec)
		r.orders[o.clientOrderID] = o
		if o.exchangeOrderID != "" {
			r.byExchangeID[o.exchangeOrderID] = o.clientOrderID
		}
		restored++
	}
	return restored
}

// ResolveExchangeID records the exchange-assigned id for an order exactly
// once and wakes any waiters.
func (r *Registry) ResolveExchangeID(clientOrderID, exchangeOrderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[clientOrderID]
	if !ok || exchangeOrderID == "" {
		return
	}
	r.resolveLocked(o, exchangeOrderID)
}

func (r *Registry) resolveLocked(o *InFlightOrder, exchangeOrderID string) {
	if o.exchangeOrderID != "" {
		return
	}
	o.exchangeOrderID = exchangeOrderID
	r.byExchangeID[exchangeOrderID] = o.clientOrderID
	close(o.exchangeIDReady)
}

// WaitExchangeID blocks until the order's exchange id is resolved or the
// context ends. Readers that need the exchange id (cancellation, status
// polling) use this instead of assuming the id arrived with the placement
// response.
func (r *Registry) WaitExchangeID(ctx context.Context, clientOrderID string) (string, error) {
	r.mu.Lock()
	o, ok := r.orders[clientOrderID]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("orders: wait exchange id %q: %w", clientOrderID, domain.ErrUnknownOrder)
	}

	select {
	case <-o.exchangeIDReady:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return o.exchangeOrderID, nil
}

// ApplyReport merges one unit of evidence into the referenced order and
// returns the newly executed quantity, if any.
//
// The report's absolute cumulative filled quantity drives the computation:
// delta = reported total - known total. A positive delta updates executed
// amounts, charges a fee for exactly the delta, and yields one FillDelta.
// A non-positive delta, a report identifier already in the de-duplication
// set, or an unknown order yields nil — this is the idempotence guarantee
// that protects against duplicate delivery across REST and stream sources.
func (r *Registry) ApplyReport(rep domain.OrderReport) (*domain.FillDelta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, err := r.lookupLocked(rep)
	if err != nil {
		return nil, err
	}

	o.notFoundCount = 0
	if rep.NativeStatus != "" {
		o.lastState = rep.NativeStatus
	}
	if rep.ExchangeOrderID != "" {
		r.resolveLocked(o, rep.ExchangeOrderID)
	}

	if rep.TradeID != "" {
		if _, applied := o.appliedReports[rep.TradeID]; applied {
			return nil, nil
		}
		o.appliedReports[rep.TradeID] = struct{}{}
	}

	var fd *domain.FillDelta
	delta := rep.FilledBase.Sub(o.executedBase)
	if delta.Sign() > 0 {
		fillPrice := rep.FillPrice
		if fillPrice.Sign() <= 0 {
			fillPrice = o.price
		}
		quote := delta.Mul(fillPrice)
		o.executedBase = rep.FilledBase
		o.executedQuote = o.executedQuote.Add(quote)

		feeAsset, fee := rep.FeeAsset, rep.FeeAmount
		if fee.IsZero() && r.fees != nil {
			feeAsset, fee = r.fees.EstimateFee(o.tradingPair, o.orderType, o.tradeType, delta, fillPrice)
		}
		o.feePaid = o.feePaid.Add(fee)
		if o.feeAsset == "" {
			o.feeAsset = feeAsset
		}

		fd = &domain.FillDelta{
			ClientOrderID:   o.clientOrderID,
			ExchangeOrderID: o.exchangeOrderID,
			TradingPair:     o.tradingPair,
			TradeType:       o.tradeType,
			OrderType:       o.orderType,
			Price:           fillPrice,
			Amount:          delta,
			QuoteAmount:     quote,
			Fee:             fee,
			FeeAsset:        feeAsset,
			TradeID:         rep.TradeID,
			Timestamp:       rep.Timestamp,
		}
	}

	r.advanceStatusLocked(o, rep.Status)
	return fd, nil
}

func (r *Registry) lookupLocked(rep domain.OrderReport) (*InFlightOrder, error) {
	if rep.ClientOrderID != "" {
		if o, ok := r.orders[rep.ClientOrderID]; ok {
			return o, nil
		}
		return nil, fmt.Errorf("orders: report for %q: %w", rep.ClientOrderID, domain.ErrUnknownOrder)
	}
	if rep.ExchangeOrderID != "" {
		if id, ok := r.byExchangeID[rep.ExchangeOrderID]; ok {
			return r.orders[id], nil
		}
	}
	return nil, fmt.Errorf("orders: report for exchange id %q: %w", rep.ExchangeOrderID, domain.ErrUnknownOrder)
}

// advanceStatusLocked applies a reported status without regressing out of a
// terminal state. Exchanges may report fills after the terminal status
// arrived; those fills are accepted (above), but the status stays terminal.
// A fully covered executed amount forces the filled state regardless of the
// reported tag.
func (r *Registry) advanceStatusLocked(o *InFlightOrder, reported domain.OrderStatus) {
	if reported != "" && !(o.status.IsDone() && !reported.IsDone()) {
		o.status = reported
	}
	if o.fullyFilled() {
		o.status = domain.OrderStatusFilled
	} else if o.status == domain.OrderStatusOpen && o.executedBase.Sign() > 0 {
		o.status = domain.OrderStatusPartiallyFilled
	}
}

// MarkNotFound counts one REST poll that failed to locate the order and
// returns the consecutive miss count. A single miss never retires an order;
// exchanges can lag behind their own acknowledgements.
func (r *Registry) MarkNotFound(clientOrderID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[clientOrderID]
	if !ok {
		return 0
	}
	o.notFoundCount++
	return o.notFoundCount
}

// Get returns a snapshot of one tracked order.
func (r *Registry) Get(clientOrderID string) (domain.OrderSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[clientOrderID]
	if !ok {
		return domain.OrderSnapshot{}, false
	}
	return o.snapshot(), true
}

// Snapshot returns read-only copies of every tracked order.
func (r *Registry) Snapshot() []domain.OrderSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.OrderSnapshot, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o.snapshot())
	}
	return out
}

// Record returns the persistable form of one tracked order.
func (r *Registry) Record(clientOrderID string) (domain.OrderRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[clientOrderID]
	if !ok {
		return domain.OrderRecord{}, false
	}
	return o.record(r.clock.Now()), true
}

// PollTargets returns the client and exchange ids of orders eligible for a
// REST status poll. Orders whose exchange id is not yet resolved are
// skipped; they cannot be matched to a venue response.
func (r *Registry) PollTargets() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.orders))
	for id, o := range r.orders {
		if o.exchangeOrderID != "" {
			out[id] = o.exchangeOrderID
		}
	}
	return out
}

// UnresolvedSince returns the client ids of orders whose exchange id is
// still unknown and that were created at or before cutoff. These orders can
// never appear in PollTargets, so the reconciliation loop ages them out
// through the same not-found accounting as pollable orders.
func (r *Registry) UnresolvedSince(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for id, o := range r.orders {
		if o.exchangeOrderID == "" && !o.createdAt.After(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// Len returns the number of tracked orders.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}
