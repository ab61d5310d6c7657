package pricing

import "github.com/shopspring/decimal"

// MarkupType selects how a markup inflates the USD base price.
type MarkupType string

const (
	MarkupPercentage MarkupType = "percentage"
	MarkupFixedUSD   MarkupType = "fixedUsd"
)

// Markup is added to the USD base price before conversion and discounts.
type Markup struct {
	Type  MarkupType `json:"type"`
	Value float64    `json:"value"`
}

// Apply returns amount inflated by the markup. Unknown types and non-positive or
// non-finite values leave amount unchanged.
func (m Markup) Apply(amount decimal.Decimal) decimal.Decimal {
	if !validAmount(m.Value) {
		return amount
	}
	value := decimal.NewFromFloat(m.Value)
	switch m.Type {
	case MarkupPercentage:
		return amount.Add(amount.Mul(value))
	case MarkupFixedUSD:
		return amount.Add(value)
	default:
		return amount
	}
}
