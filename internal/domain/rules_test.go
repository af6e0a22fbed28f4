package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestQuantizePrice(t *testing.T) {
	rule := TradingRule{PriceIncrement: d("0.01")}

	tests := []struct {
		in, want string
	}{
		{"100.129", "100.12"},
		{"100.12", "100.12"},
		{"0.009", "0"},
	}
	for _, tc := range tests {
		got := rule.QuantizePrice(d(tc.in))
		assert.True(t, got.Equal(d(tc.want)), "quantize %s: got %s", tc.in, got)
	}

	// No increment configured: passthrough.
	assert.True(t, TradingRule{}.QuantizePrice(d("1.2345")).Equal(d("1.2345")))
}

func TestQuantizeAmount(t *testing.T) {
	rule := TradingRule{BaseAmountIncrement: d("0.1")}
	assert.True(t, rule.QuantizeAmount(d("2.57")).Equal(d("2.5")))
	assert.True(t, rule.QuantizeAmount(d("2.5")).Equal(d("2.5")))
}

func TestValidate(t *testing.T) {
	rule := TradingRule{
		MinOrderSize: d("0.1"),
		MaxOrderSize: d("100"),
		MinNotional:  d("10"),
	}

	tests := []struct {
		name          string
		amount, price string
		wantErr       bool
	}{
		{"ok", "1", "50", false},
		{"below min size", "0.05", "50", true},
		{"above max size", "101", "50", true},
		{"below min notional", "0.1", "50", true},
		{"exactly min notional", "0.2", "50", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := rule.Validate(d(tc.amount), d(tc.price))
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOrder)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	// Unset bounds are not enforced.
	assert.NoError(t, TradingRule{}.Validate(d("0.000001"), d("0.000001")))
}

func TestOrderStatusPredicates(t *testing.T) {
	assert.False(t, OrderStatusOpen.IsDone())
	assert.False(t, OrderStatusPartiallyFilled.IsDone())
	assert.True(t, OrderStatusFilled.IsDone())
	assert.True(t, OrderStatusCanceled.IsDone())

	assert.False(t, OrderStatusFilled.IsFailure())
	assert.True(t, OrderStatusCanceled.IsFailure())
	assert.True(t, OrderStatusRejected.IsFailure())
	assert.True(t, OrderStatusExpired.IsFailure())
}

func TestBookSideOpposite(t *testing.T) {
	assert.Equal(t, SideAsk, SideBid.Opposite())
	assert.Equal(t, SideBid, SideAsk.Opposite())
}
