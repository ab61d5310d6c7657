package pricing

import "github.com/shopspring/decimal"

// RoundingMode selects the precision every monetary value is rounded to.
type RoundingMode int

const (
	// RoundInteger rounds to whole currency units.
	RoundInteger RoundingMode = iota
	// RoundFractional rounds to two decimal places.
	RoundFractional
)

func (m RoundingMode) places() int32 {
	if m == RoundFractional {
		return 2
	}
	return 0
}

// Round rounds half away from zero at the mode's precision.
// Floats enter through decimal.NewFromFloat, so ties are judged on the shortest
// decimal representation of the input: 0.675 becomes 0.68 and 2.5 becomes 3.
func (m RoundingMode) Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(m.places())
}

// RoundFloat is Round for float inputs and outputs.
func (m RoundingMode) RoundFloat(v float64) float64 {
	return m.Round(decimal.NewFromFloat(v)).InexactFloat64()
}

func roundingFor(fractional bool) RoundingMode {
	if fractional {
		return RoundFractional
	}
	return RoundInteger
}
