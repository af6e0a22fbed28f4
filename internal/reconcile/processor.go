// Package reconcile merges order evidence from REST polling and user-stream
// push messages into the order registry and emits lifecycle events exactly
// once per newly-observed quantity.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tradewell/connector/internal/clock"
	"github.com/tradewell/connector/internal/domain"
	"github.com/tradewell/connector/internal/orders"
)

// Emitter delivers one domain event to subscribers. Implementations must
// not block the reconciliation path.
type Emitter func(domain.Event)

// Processor routes order reports through the registry's idempotent
// ApplyReport, emits the resulting events, retires terminal orders, and
// keeps the persistent store in step. Both the REST loop and the stream
// listener share one Processor so the two evidence paths cannot diverge.
type Processor struct {
	registry *orders.Registry
	emit     Emitter
	store    domain.OrderStore // optional
	clock    clock.Clock
	logger   *slog.Logger
}

// NewProcessor creates a Processor. store may be nil when persistence is
// disabled.
func NewProcessor(reg *orders.Registry, emit Emitter, store domain.OrderStore,
	clk clock.Clock, logger *slog.Logger) *Processor {
	return &Processor{
		registry: reg,
		emit:     emit,
		store:    store,
		clock:    clk,
		logger:   logger.With(slog.String("component", "reconciler")),
	}
}

// Apply merges one report. Reports for unknown orders are dropped with a
// diagnostic; they reference orders already retired.
func (p *Processor) Apply(ctx context.Context, rep domain.OrderReport) {
	fd, err := p.registry.ApplyReport(rep)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownOrder) {
			p.logger.Debug("dropping report for untracked order",
				slog.String("client_order_id", rep.ClientOrderID),
				slog.String("exchange_order_id", rep.ExchangeOrderID),
			)
			return
		}
		p.logger.Warn("apply report failed", slog.String("error", err.Error()))
		return
	}

	if fd != nil {
		p.emit(domain.OrderFilled{Fill: *fd})
	}

	id := rep.ClientOrderID
	if id == "" && fd != nil {
		id = fd.ClientOrderID
	}
	if id == "" {
		if snap, ok := p.lookupByExchangeID(rep.ExchangeOrderID); ok {
			id = snap.ClientOrderID
		}
	}
	if id == "" {
		return
	}

	snap, ok := p.registry.Get(id)
	if !ok {
		return
	}
	if snap.Status.IsDone() {
		p.finalize(ctx, snap)
		return
	}
	p.persist(ctx, id)
}

// RetireLost retires an order that REST polling could not locate for the
// configured number of consecutive polls, emitting a cancellation.
func (p *Processor) RetireLost(ctx context.Context, clientOrderID string, misses int) {
	snap, ok := p.registry.Get(clientOrderID)
	if !ok {
		return
	}
	p.logger.Info("order not found on exchange, treating as canceled",
		slog.String("client_order_id", clientOrderID),
		slog.Int("consecutive_misses", misses),
	)
	p.emit(domain.OrderCancelled{
		ClientOrderID:   snap.ClientOrderID,
		ExchangeOrderID: snap.ExchangeOrderID,
		TradingPair:     snap.TradingPair,
		Timestamp:       p.clock.Now(),
	})
	p.retire(ctx, clientOrderID)
}

// finalize emits the terminal event for an order and evicts it once fully
// reconciled. A filled status with an executed amount still short of the
// requested amount keeps the order tracked: the missing fills are expected
// to arrive as late reports.
func (p *Processor) finalize(ctx context.Context, snap domain.OrderSnapshot) {
	now := p.clock.Now()
	switch snap.Status {
	case domain.OrderStatusFilled:
		if snap.ExecutedBase.LessThan(snap.Amount) {
			p.persist(ctx, snap.ClientOrderID)
			return
		}
		if snap.TradeType == domain.TradeBuy {
			p.emit(domain.BuyOrderCompleted{Order: snap, Timestamp: now})
		} else {
			p.emit(domain.SellOrderCompleted{Order: snap, Timestamp: now})
		}
		p.logger.Info("order completed",
			slog.String("client_order_id", snap.ClientOrderID),
			slog.String("pair", snap.TradingPair),
			slog.String("side", string(snap.TradeType)),
			slog.String("executed_base", snap.ExecutedBase.String()),
		)
	case domain.OrderStatusCanceled:
		p.emit(domain.OrderCancelled{
			ClientOrderID:   snap.ClientOrderID,
			ExchangeOrderID: snap.ExchangeOrderID,
			TradingPair:     snap.TradingPair,
			Timestamp:       now,
		})
		p.logger.Info("order canceled", slog.String("client_order_id", snap.ClientOrderID))
	case domain.OrderStatusRejected, domain.OrderStatusExpired:
		p.emit(domain.OrderFailure{
			ClientOrderID: snap.ClientOrderID,
			TradingPair:   snap.TradingPair,
			OrderType:     snap.OrderType,
			Reason:        snap.LastState,
			Timestamp:     now,
		})
		p.logger.Info("order failed",
			slog.String("client_order_id", snap.ClientOrderID),
			slog.String("state", snap.LastState),
		)
	}
	p.retire(ctx, snap.ClientOrderID)
}

func (p *Processor) retire(ctx context.Context, clientOrderID string) {
	p.registry.StopTracking(clientOrderID)
	if p.store == nil {
		return
	}
	if err := p.store.Delete(ctx, clientOrderID); err != nil {
		p.logger.Warn("delete persisted order failed",
			slog.String("client_order_id", clientOrderID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Processor) persist(ctx context.Context, clientOrderID string) {
	if p.store == nil {
		return
	}
	rec, ok := p.registry.Record(clientOrderID)
	if !ok {
		return
	}
	if err := p.store.Upsert(ctx, rec); err != nil {
		p.logger.Warn("persist order failed",
			slog.String("client_order_id", clientOrderID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Processor) lookupByExchangeID(exchangeOrderID string) (domain.OrderSnapshot, bool) {
	if exchangeOrderID == "" {
		return domain.OrderSnapshot{}, false
	}
	for _, snap := range p.registry.Snapshot() {
		if snap.ExchangeOrderID == exchangeOrderID {
			return snap, true
		}
	}
	return domain.OrderSnapshot{}, false
}

// now is exposed for the loop and listener so all reconcile timestamps come
// from the same clock.
func (p *Processor) now() time.Time { return p.clock.Now() }
