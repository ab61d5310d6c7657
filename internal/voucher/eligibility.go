package voucher

import (
	"context"
	"fmt"
)

// Context is what a custom eligibility check sees about the quote being priced.
type Context struct {
	Extension    string  `json:"extension"`
	Currency     string  `json:"currency"`
	Transaction  string  `json:"transaction"`
	BasePrice    float64 `json:"basePrice"`
	DiscountCode string  `json:"discountCode"`
}

// Eligibility decides whether a discount applies beyond the built-in filters.
// Implementations may block on external services.
type Eligibility interface {
	Eligible(ctx context.Context, in Context) (bool, error)
}

// EligibilityFunc adapts a function to the Eligibility interface.
type EligibilityFunc func(ctx context.Context, in Context) (bool, error)

// Eligible implements Eligibility.
func (f EligibilityFunc) Eligible(ctx context.Context, in Context) (bool, error) {
	return f(ctx, in)
}

// Outcome is the collapsed result of a custom eligibility check.
type Outcome int

const (
	NotEligible Outcome = iota
	Eligible
	Errored
)

func (o Outcome) String() string {
	switch o {
	case Eligible:
		return "eligible"
	case Errored:
		return "errored"
	default:
		return "not_eligible"
	}
}

// Check runs e and classifies the result. Errors and panics are reported as Errored
// together with the cause; callers treat anything but Eligible as ineligible.
func Check(ctx context.Context, e Eligibility, in Context) (outcome Outcome, err error) {
	if e == nil {
		return Eligible, nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			outcome = Errored
			err = fmt.Errorf("eligibility check panicked: %v", rec)
		}
	}()
	ok, err := e.Eligible(ctx, in)
	if err != nil {
		return Errored, err
	}
	if !ok {
		return NotEligible, nil
	}
	return Eligible, nil
}
