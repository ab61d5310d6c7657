package voucher_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tld-quote/internal/voucher"
)

var now = time.Date(2026, 7, 4, 9, 0, 0, 0, time.UTC)

func active(code string, rate float64) voucher.Rule {
	return voucher.Rule{Code: code, Rate: rate, Extensions: []string{"com"}, StartAt: "2026-01-01", EndAt: "2027-01-01"}
}

func TestEligibleReturnsCatalogOrder(t *testing.T) {
	svc := &voucher.Service{Catalog: voucher.NewCatalog(active("ONE", 0.1), active("TWO", 0.2), active("THREE", 0.3))}
	rules := svc.Eligible(context.Background(), []string{"three", "one", "ONE", "missing"}, voucher.Context{Extension: "com", Transaction: "create"}, now)
	require.Len(t, rules, 2)
	require.Equal(t, "ONE", rules[0].Code)
	require.Equal(t, "THREE", rules[1].Code)
}

func TestEligibleRunsChecksConcurrently(t *testing.T) {
	var barrier sync.WaitGroup
	barrier.Add(3)
	done := make(chan struct{})
	go func() {
		barrier.Wait()
		close(done)
	}()
	// Each check blocks until all three are in flight, so a sequential runner times out.
	slow := voucher.EligibilityFunc(func(ctx context.Context, in voucher.Context) (bool, error) {
		barrier.Done()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			return false, errors.New("checks did not overlap")
		}
		return in.DiscountCode != "B", nil
	})
	a, b, c := active("A", 0.1), active("B", 0.1), active("C", 0.1)
	a.Eligibility, b.Eligibility, c.Eligibility = slow, slow, slow
	svc := &voucher.Service{Catalog: voucher.NewCatalog(a, b, c)}

	rules := svc.Eligible(context.Background(), []string{"C", "B", "A"}, voucher.Context{Extension: "com", Transaction: "create"}, now)
	require.Len(t, rules, 2)
	require.Equal(t, "A", rules[0].Code)
	require.Equal(t, "C", rules[1].Code)
}

func TestEligibleSkipsChecksForFilteredRules(t *testing.T) {
	var calls atomic.Int32
	rule := active("NG", 0.5)
	rule.Extensions = []string{"ng"}
	rule.Eligibility = voucher.EligibilityFunc(func(context.Context, voucher.Context) (bool, error) {
		calls.Add(1)
		return true, nil
	})
	svc := &voucher.Service{Catalog: voucher.NewCatalog(rule)}

	require.Empty(t, svc.Eligible(context.Background(), []string{"NG"}, voucher.Context{Extension: "com", Transaction: "create"}, now))
	require.Zero(t, calls.Load())
}

func TestCheckCollapsesFailures(t *testing.T) {
	ctx := context.Background()
	outcome, err := voucher.Check(ctx, nil, voucher.Context{})
	require.NoError(t, err)
	require.Equal(t, voucher.Eligible, outcome)

	outcome, err = voucher.Check(ctx, voucher.EligibilityFunc(func(context.Context, voucher.Context) (bool, error) {
		return false, nil
	}), voucher.Context{})
	require.NoError(t, err)
	require.Equal(t, voucher.NotEligible, outcome)

	outcome, err = voucher.Check(ctx, voucher.EligibilityFunc(func(context.Context, voucher.Context) (bool, error) {
		return true, errors.New("timeout")
	}), voucher.Context{})
	require.Error(t, err)
	require.Equal(t, voucher.Errored, outcome)

	outcome, err = voucher.Check(ctx, voucher.EligibilityFunc(func(context.Context, voucher.Context) (bool, error) {
		panic("bad predicate")
	}), voucher.Context{})
	require.ErrorContains(t, err, "bad predicate")
	require.Equal(t, voucher.Errored, outcome)
	require.Equal(t, "errored", outcome.String())
}

func TestEligibleWithoutCatalog(t *testing.T) {
	var svc *voucher.Service
	require.Nil(t, svc.Eligible(context.Background(), []string{"A"}, voucher.Context{}, now))
	require.Nil(t, (&voucher.Service{}).Eligible(context.Background(), []string{"A"}, voucher.Context{}, now))
}
