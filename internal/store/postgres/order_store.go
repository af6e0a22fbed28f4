package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradewell/connector/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. Decimal values
// are stored as NUMERIC and round-trip through their string form so no
// precision is lost.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Upsert writes the full record for one in-flight order, replacing any
// previous row for the same client order id.
func (s *OrderStore) Upsert(ctx context.Context, rec domain.OrderRecord) error {
	tradeIDs, err := json.Marshal(rec.AppliedTradeIDs)
	if err != nil {
		return fmt.Errorf("postgres: marshal trade ids for %s: %w", rec.ClientOrderID, err)
	}

	const query = `
		INSERT INTO in_flight_orders (
			client_order_id, exchange_order_id, trading_pair,
			order_type, trade_type,
			price, amount, executed_base, executed_quote,
			fee_asset, fee_paid, status, last_state,
			applied_trade_ids, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW()
		)
		ON CONFLICT (client_order_id) DO UPDATE SET
			exchange_order_id = EXCLUDED.exchange_order_id,
			executed_base     = EXCLUDED.executed_base,
			executed_quote    = EXCLUDED.executed_quote,
			fee_asset         = EXCLUDED.fee_asset,
			fee_paid          = EXCLUDED.fee_paid,
			status            = EXCLUDED.status,
			last_state        = EXCLUDED.last_state,
			applied_trade_ids = EXCLUDED.applied_trade_ids,
			updated_at        = NOW()`

	_, err = s.pool.Exec(ctx, query,
		rec.ClientOrderID, rec.ExchangeOrderID, rec.TradingPair,
		string(rec.OrderType), string(rec.TradeType),
		rec.Price.String(), rec.Amount.String(),
		rec.ExecutedBase.String(), rec.ExecutedQuote.String(),
		rec.FeeAsset, rec.FeePaid.String(),
		string(rec.Status), rec.LastState,
		tradeIDs, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", rec.ClientOrderID, err)
	}
	return nil
}

// Delete removes an order row once the order has been fully reconciled.
func (s *OrderStore) Delete(ctx context.Context, clientOrderID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM in_flight_orders WHERE client_order_id = $1`, clientOrderID)
	if err != nil {
		return fmt.Errorf("postgres: delete order %s: %w", clientOrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `client_order_id, exchange_order_id, trading_pair,
	order_type, trade_type,
	price, amount, executed_base, executed_quote,
	fee_asset, fee_paid, status, last_state,
	applied_trade_ids, created_at, updated_at`

func scanOrderRecord(scanner interface{ Scan(dest ...any) error }) (domain.OrderRecord, error) {
	var rec domain.OrderRecord
	var orderType, tradeType, status string
	var price, amount, executedBase, executedQuote, feePaid string
	var tradeIDs []byte

	err := scanner.Scan(
		&rec.ClientOrderID, &rec.ExchangeOrderID, &rec.TradingPair,
		&orderType, &tradeType,
		&price, &amount, &executedBase, &executedQuote,
		&rec.FeeAsset, &feePaid, &status, &rec.LastState,
		&tradeIDs, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.OrderRecord{}, err
	}

	rec.OrderType = domain.OrderType(orderType)
	rec.TradeType = domain.TradeType(tradeType)
	rec.Status = domain.OrderStatus(status)

	parse := func(name, src string, dst *decimal.Decimal) error {
		d, err := decimal.NewFromString(src)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", name, src, err)
		}
		*dst = d
		return nil
	}
	for _, f := range []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"price", price, &rec.Price},
		{"amount", amount, &rec.Amount},
		{"executed_base", executedBase, &rec.ExecutedBase},
		{"executed_quote", executedQuote, &rec.ExecutedQuote},
		{"fee_paid", feePaid, &rec.FeePaid},
	} {
		if err := parse(f.name, f.src, f.dst); err != nil {
			return domain.OrderRecord{}, err
		}
	}

	if err := json.Unmarshal(tradeIDs, &rec.AppliedTradeIDs); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("parse applied_trade_ids: %w", err)
	}
	return rec, nil
}

// ListActive returns every persisted order that has not reached a terminal
// status, for restoring the in-flight registry after a restart.
func (s *OrderStore) ListActive(ctx context.Context) ([]domain.OrderRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM in_flight_orders
		 WHERE status IN ('open', 'partially_filled')
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active orders: %w", err)
	}
	defer rows.Close()

	var recs []domain.OrderRecord
	for rows.Next() {
		rec, err := scanOrderRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active order: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active orders: %w", err)
	}
	return recs, nil
}
