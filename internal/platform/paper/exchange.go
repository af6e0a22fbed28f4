package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradewell/connector/internal/domain"
)

// Exchange simulates a venue's REST surface. Limit orders fill completely at
// their limit price on the first status poll after placement, which keeps
// the whole fill and completion path exercisable without real liquidity.
type Exchange struct {
	mu     sync.Mutex
	orders map[string]*paperOrder

	rules []domain.TradingRule
	fees  domain.FeeSchedule
}

type paperOrder struct {
	clientOrderID   string
	exchangeOrderID string
	tradingPair     string
	price           decimal.Decimal
	amount          decimal.Decimal
	canceled        bool
	filled          bool
	tradeID         string
	placedAt        time.Time
}

// NewExchange creates a paper venue enforcing the given rules and fees.
func NewExchange(rules []domain.TradingRule, fees domain.FeeSchedule) *Exchange {
	return &Exchange{
		orders: make(map[string]*paperOrder),
		rules:  rules,
		fees:   fees,
	}
}

// PlaceOrder accepts any quantized order and assigns an exchange id.
func (e *Exchange) PlaceOrder(_ context.Context, req domain.PlaceOrderRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.Amount.Sign() <= 0 || req.Price.Sign() <= 0 {
		return "", fmt.Errorf("paper: place %s: %w", req.ClientOrderID, domain.ErrInvalidOrder)
	}

	id := uuid.NewString()
	e.orders[id] = &paperOrder{
		clientOrderID:   req.ClientOrderID,
		exchangeOrderID: id,
		tradingPair:     req.TradingPair,
		price:           req.Price,
		amount:          req.Amount,
		placedAt:        time.Now(),
	}
	return id, nil
}

// CancelOrder marks an order canceled unless it already filled.
func (e *Exchange) CancelOrder(_ context.Context, _, exchangeOrderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("paper: cancel %s: %w", exchangeOrderID, domain.ErrUnknownOrder)
	}
	if !o.filled {
		o.canceled = true
	}
	return nil
}

// OrderStatus reports each known order. An open order fills in full on its
// first poll; unknown ids are absent from the result, mirroring how real
// venues answer for purged orders.
func (e *Exchange) OrderStatus(_ context.Context, exchangeOrderIDs []string) ([]domain.OrderReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	reports := make([]domain.OrderReport, 0, len(exchangeOrderIDs))
	for _, id := range exchangeOrderIDs {
		o, ok := e.orders[id]
		if !ok {
			continue
		}

		rep := domain.OrderReport{
			ClientOrderID:   o.clientOrderID,
			ExchangeOrderID: o.exchangeOrderID,
			TradingPair:     o.tradingPair,
			TotalSize:       o.amount,
			Timestamp:       now,
		}
		switch {
		case o.canceled:
			rep.Status = domain.OrderStatusCanceled
			rep.NativeStatus = "canceled"
			rep.FilledBase = decimal.Zero
		case o.filled:
			rep.Status = domain.OrderStatusFilled
			rep.NativeStatus = "filled"
			rep.FilledBase = o.amount
			rep.FillPrice = o.price
			rep.TradeID = o.tradeID
		default:
			o.filled = true
			o.tradeID = uuid.NewString()
			rep.Status = domain.OrderStatusFilled
			rep.NativeStatus = "filled"
			rep.FilledBase = o.amount
			rep.FillPrice = o.price
			rep.TradeID = o.tradeID
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// TradingRules returns the configured rules.
func (e *Exchange) TradingRules(_ context.Context) ([]domain.TradingRule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.TradingRule, len(e.rules))
	copy(out, e.rules)
	return out, nil
}

// FeeRates returns the configured flat schedule.
func (e *Exchange) FeeRates(_ context.Context) (domain.FeeSchedule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fees, nil
}

// Auth is a no-op authenticator for the paper venue.
type Auth struct{}

// Invalidate does nothing; the paper venue has no session to refresh.
func (Auth) Invalidate() {}

// Compile-time interface checks.
var (
	_ domain.ExchangeClient = (*Exchange)(nil)
	_ domain.Authenticator  = Auth{}
)
