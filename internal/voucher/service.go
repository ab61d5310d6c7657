package voucher

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service selects the discount rules that apply to a quote.
type Service struct {
	Catalog *Catalog
}

// Eligible returns the rules among codes that apply to in at now, in catalog order.
// Unknown codes, inactive windows, mismatched extensions or transactions and failed
// custom checks are skipped rather than reported. Custom checks only run for rules
// that passed every other filter and are evaluated concurrently.
func (s *Service) Eligible(ctx context.Context, codes []string, in Context, now time.Time) []Rule {
	if s == nil || s.Catalog.Len() == 0 {
		return nil
	}
	logger := zerolog.Ctx(ctx)

	type candidate struct {
		pos  int
		rule Rule
	}
	var candidates []candidate
	for _, code := range NormalizeCodes(codes) {
		pos, ok := s.Catalog.position(code)
		if !ok {
			logger.Debug().Str("code", code).Msg("discount_unknown")
			continue
		}
		rule := s.Catalog.rules[pos]
		if err := rule.Validate(now); err != nil {
			logger.Debug().Str("code", code).Err(err).Msg("discount_skipped")
			continue
		}
		if !rule.Applies(in.Extension, in.Transaction) {
			logger.Debug().Str("code", code).Err(ErrNotEligible).Msg("discount_skipped")
			continue
		}
		candidates = append(candidates, candidate{pos: pos, rule: rule})
	}

	outcomes := make([]Outcome, len(candidates))
	var g errgroup.Group
	for i, c := range candidates {
		if c.rule.Eligibility == nil {
			outcomes[i] = Eligible
			continue
		}
		check := in
		check.DiscountCode = c.rule.Code
		g.Go(func() error {
			outcome, err := Check(ctx, c.rule.Eligibility, check)
			if err != nil {
				logger.Debug().Str("code", c.rule.Code).Err(err).Msg("discount_check_failed")
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	survivors := make([]candidate, 0, len(candidates))
	for i, c := range candidates {
		if outcomes[i] == Eligible {
			survivors = append(survivors, c)
		}
	}
	sort.Slice(survivors, func(a, b int) bool { return survivors[a].pos < survivors[b].pos })

	out := make([]Rule, 0, len(survivors))
	for _, c := range survivors {
		out = append(out, c.rule)
	}
	return out
}

