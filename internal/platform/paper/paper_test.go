package paper

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewell/connector/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestClassify(t *testing.T) {
	a := NewAdapter()

	tests := []struct {
		raw     string
		want    domain.MessageKind
		wantErr bool
	}{
		{`{"type":"snapshot"}`, domain.KindSnapshot, false},
		{`{"type":"diff"}`, domain.KindDiff, false},
		{`{"type":"trade"}`, domain.KindTrade, false},
		{`{"type":"order"}`, domain.KindOrder, false},
		{`{"type":"balance"}`, domain.KindBalance, false},
		{`{"type":"heartbeat"}`, "", true},
		{`not json`, "", true},
	}
	for _, tc := range tests {
		kind, err := a.Classify([]byte(tc.raw))
		if tc.wantErr {
			assert.ErrorIs(t, err, domain.ErrMalformedMessage, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, kind)
	}
}

func TestParseSnapshot(t *testing.T) {
	a := NewAdapter()
	raw := []byte(`{
		"type": "snapshot", "trading_pair": "BTC-USDT", "update_id": 7, "ts": 1750000000000,
		"payload": {
			"bids": [{"price": "100", "amount": "2"}, {"order_id": "o1", "price": "99", "amount": "1"}],
			"asks": [{"price": "101", "amount": "3"}]
		}
	}`)

	msg, err := a.ParseSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT", msg.TradingPair)
	assert.Equal(t, uint64(7), msg.UpdateID)
	require.Len(t, msg.Bids, 2)
	assert.True(t, msg.Bids[0].Price.Equal(d("100")))
	assert.Equal(t, "o1", msg.Bids[1].OrderID)
	require.Len(t, msg.Asks, 1)

	_, err = a.ParseSnapshot([]byte(`{"type":"snapshot","payload":{"bids":[{"price":"x","amount":"1"}]}}`))
	assert.ErrorIs(t, err, domain.ErrMalformedMessage)
}

func TestParseDiff(t *testing.T) {
	a := NewAdapter()
	raw := []byte(`{
		"type": "diff", "trading_pair": "BTC-USDT", "update_id": 8, "ts": 1750000000000,
		"payload": {"action": "match", "side": "sell", "order_id": "o1", "price": "101", "amount": "0.5"}
	}`)

	msg, err := a.ParseDiff(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionMatch, msg.Action)
	assert.Equal(t, domain.SideAsk, msg.Side, "sell alias maps to the ask side")
	assert.Equal(t, "o1", msg.OrderID)
	assert.True(t, msg.Size.Equal(d("0.5")))

	_, err = a.ParseDiff([]byte(`{"type":"diff","payload":{"action":"replace","side":"bid","price":"1"}}`))
	assert.ErrorIs(t, err, domain.ErrUnknownAction)

	_, err = a.ParseDiff([]byte(`{"type":"diff","payload":{"action":"insert","side":"mid","price":"1"}}`))
	assert.ErrorIs(t, err, domain.ErrMalformedMessage)
}

func TestParseTrade(t *testing.T) {
	a := NewAdapter()
	raw := []byte(`{
		"type": "trade", "trading_pair": "BTC-USDT", "ts": 1750000000000,
		"payload": {"trade_id": "t1", "side": "buy", "price": "100.5", "amount": "0.25"}
	}`)

	msg, err := a.ParseTrade(raw)
	require.NoError(t, err)
	assert.Equal(t, "t1", msg.TradeID)
	assert.Equal(t, domain.TradeBuy, msg.Side)
	assert.True(t, msg.Price.Equal(d("100.5")))

	_, err = a.ParseTrade([]byte(`{"type":"trade","payload":{"trade_id":"t1","side":"short","price":"1","amount":"1"}}`))
	assert.ErrorIs(t, err, domain.ErrMalformedMessage)
}

func TestParseOrderReport(t *testing.T) {
	a := NewAdapter()
	raw := []byte(`{
		"type": "order", "trading_pair": "BTC-USDT", "ts": 1750000000000,
		"payload": {
			"client_order_id": "c1", "exchange_order_id": "x1", "status": "partially_filled",
			"filled_base": "4", "total_size": "10", "fill_price": "99.5",
			"trade_id": "t1", "fee_amount": "0.1", "fee_asset": "USDT"
		}
	}`)

	rep, err := a.ParseOrderReport(raw)
	require.NoError(t, err)
	assert.Equal(t, "c1", rep.ClientOrderID)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, rep.Status)
	assert.Equal(t, "partially_filled", rep.NativeStatus)
	assert.True(t, rep.FilledBase.Equal(d("4")))
	assert.True(t, rep.FillPrice.Equal(d("99.5")))
	assert.True(t, rep.FeeAmount.Equal(d("0.1")))

	_, err = a.ParseOrderReport([]byte(`{"type":"order","payload":{"status":"done","filled_base":"1","total_size":"1"}}`))
	assert.ErrorIs(t, err, domain.ErrMalformedMessage)
}

func TestParseBalance(t *testing.T) {
	a := NewAdapter()
	raw := []byte(`{
		"type": "balance", "ts": 1750000000000,
		"payload": {"asset": "USDT", "total": "1000", "available": "750"}
	}`)

	bal, err := a.ParseBalance(raw)
	require.NoError(t, err)
	assert.Equal(t, "USDT", bal.Asset)
	assert.True(t, bal.Total.Equal(d("1000")))
	assert.True(t, bal.Available.Equal(d("750")))

	_, err = a.ParseBalance([]byte(`{"type":"balance","payload":{"asset":"USDT","total":"x","available":"1"}}`))
	assert.ErrorIs(t, err, domain.ErrMalformedMessage)
}

func placeTestOrder(t *testing.T, ex *Exchange) string {
	t.Helper()
	id, err := ex.PlaceOrder(context.Background(), domain.PlaceOrderRequest{
		ClientOrderID: "c1",
		TradingPair:   "BTC-USDT",
		TradeType:     domain.TradeBuy,
		OrderType:     domain.OrderTypeLimit,
		Price:         d("100"),
		Amount:        d("2"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func TestExchangeFillsOnFirstPoll(t *testing.T) {
	ex := NewExchange(nil, domain.FeeSchedule{})
	id := placeTestOrder(t, ex)
	ctx := context.Background()

	reports, err := ex.OrderStatus(ctx, []string{id})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	rep := reports[0]
	assert.Equal(t, domain.OrderStatusFilled, rep.Status)
	assert.True(t, rep.FilledBase.Equal(d("2")))
	assert.True(t, rep.FillPrice.Equal(d("100")))
	require.NotEmpty(t, rep.TradeID)

	// The second poll repeats the same terminal report with the same
	// trade id, exercising downstream de-duplication.
	again, err := ex.OrderStatus(ctx, []string{id})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, rep.TradeID, again[0].TradeID)
}

func TestExchangeCancelBeforeFill(t *testing.T) {
	ex := NewExchange(nil, domain.FeeSchedule{})
	id := placeTestOrder(t, ex)
	ctx := context.Background()

	require.NoError(t, ex.CancelOrder(ctx, "BTC-USDT", id))

	reports, err := ex.OrderStatus(ctx, []string{id})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, domain.OrderStatusCanceled, reports[0].Status)
	assert.True(t, reports[0].FilledBase.IsZero())
}

func TestExchangeCancelAfterFillIsNoop(t *testing.T) {
	ex := NewExchange(nil, domain.FeeSchedule{})
	id := placeTestOrder(t, ex)
	ctx := context.Background()

	_, err := ex.OrderStatus(ctx, []string{id}) // fills the order
	require.NoError(t, err)
	require.NoError(t, ex.CancelOrder(ctx, "BTC-USDT", id))

	reports, err := ex.OrderStatus(ctx, []string{id})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, reports[0].Status, "a filled order cannot be canceled")
}

func TestExchangeCancelUnknownOrder(t *testing.T) {
	ex := NewExchange(nil, domain.FeeSchedule{})
	err := ex.CancelOrder(context.Background(), "BTC-USDT", "ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownOrder)
}

func TestExchangeRejectsNonPositiveOrders(t *testing.T) {
	ex := NewExchange(nil, domain.FeeSchedule{})

	for i, req := range []domain.PlaceOrderRequest{
		{Price: d("0"), Amount: d("1")},
		{Price: d("100"), Amount: d("0")},
		{Price: d("-1"), Amount: d("1")},
	} {
		_, err := ex.PlaceOrder(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrInvalidOrder, fmt.Sprintf("case %d", i))
	}
}

func TestExchangeUnknownIDsAbsentFromStatus(t *testing.T) {
	ex := NewExchange(nil, domain.FeeSchedule{})
	id := placeTestOrder(t, ex)

	reports, err := ex.OrderStatus(context.Background(), []string{id, "purged"})
	require.NoError(t, err)
	assert.Len(t, reports, 1, "purged ids are simply absent")
}

func TestExchangeRulesAndFees(t *testing.T) {
	rules := []domain.TradingRule{{TradingPair: "BTC-USDT", MinOrderSize: d("0.1")}}
	fees := domain.FeeSchedule{MakerRate: d("0.001"), TakerRate: d("0.002")}
	ex := NewExchange(rules, fees)
	ctx := context.Background()

	gotRules, err := ex.TradingRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, rules, gotRules)

	gotFees, err := ex.FeeRates(ctx)
	require.NoError(t, err)
	assert.Equal(t, fees, gotFees)
}
