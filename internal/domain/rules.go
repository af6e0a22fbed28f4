package domain

import "github.com/shopspring/decimal"

// TradingRule holds the venue constraints used to quantize and validate
// order parameters before submission. Rules are fetched by an external
// collaborator and consumed here.
type TradingRule struct {
	TradingPair         string
	MinOrderSize        decimal.Decimal
	MaxOrderSize        decimal.Decimal
	PriceIncrement      decimal.Decimal
	BaseAmountIncrement decimal.Decimal
	MinNotional         decimal.Decimal
}

// QuantizePrice floors price to the pair's price increment.
func (r TradingRule) QuantizePrice(price decimal.Decimal) decimal.Decimal {
	if r.PriceIncrement.IsZero() {
		return price
	}
	return price.Div(r.PriceIncrement).Floor().Mul(r.PriceIncrement)
}

// QuantizeAmount floors amount to the pair's base amount increment.
func (r TradingRule) QuantizeAmount(amount decimal.Decimal) decimal.Decimal {
	if r.BaseAmountIncrement.IsZero() {
		return amount
	}
	return amount.Div(r.BaseAmountIncrement).Floor().Mul(r.BaseAmountIncrement)
}

// Validate checks quantized order parameters against the rule. Violations
// are reported as ErrInvalidOrder wrapped with detail by the caller.
func (r TradingRule) Validate(amount, price decimal.Decimal) error {
	if !r.MinOrderSize.IsZero() && amount.LessThan(r.MinOrderSize) {
		return ErrInvalidOrder
	}
	if !r.MaxOrderSize.IsZero() && amount.GreaterThan(r.MaxOrderSize) {
		return ErrInvalidOrder
	}
	if !r.MinNotional.IsZero() && amount.Mul(price).LessThan(r.MinNotional) {
		return ErrInvalidOrder
	}
	return nil
}

// FeeSchedule holds the flat maker/taker rates applied when a report does
// not carry an authoritative fee. A refresh replaces the whole schedule.
type FeeSchedule struct {
	MakerRate decimal.Decimal
	TakerRate decimal.Decimal
	FeeAsset  string // empty means fee is charged in the quote asset
}
