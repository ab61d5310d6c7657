package voucher

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/noah-isme/tld-quote/internal/tld"
)

var (
	// ErrNotEligible is returned when the voucher cannot be applied to the provided context.
	ErrNotEligible = errors.New("voucher not eligible")
	// ErrVoucherInactive is returned when the active window has not started yet.
	ErrVoucherInactive = errors.New("voucher not active")
	// ErrVoucherExpired is returned when the active window has already ended.
	ErrVoucherExpired = errors.New("voucher expired")
	// ErrInvalidWindow is returned when either window bound cannot be parsed.
	ErrInvalidWindow = errors.New("voucher window invalid")
)

var windowLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Rule captures a discount code and the constraints under which it applies.
type Rule struct {
	Code         string
	Rate         float64
	Extensions   []string
	StartAt      string
	EndAt        string
	Transactions []string
	Eligibility  Eligibility
}

// Window parses the active window bounds.
func (r Rule) Window() (start, end time.Time, err error) {
	start, err = parseTimestamp(r.StartAt)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err = parseTimestamp(r.EndAt)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// Validate ensures the rule is active at now. Both bounds are inclusive.
func (r Rule) Validate(now time.Time) error {
	start, end, err := r.Window()
	if err != nil {
		return ErrInvalidWindow
	}
	if now.Before(start) {
		return ErrVoucherInactive
	}
	if now.After(end) {
		return ErrVoucherExpired
	}
	return nil
}

// Applies reports whether the rule covers the extension and transaction.
// An empty transaction list covers every transaction; the extension list is strict.
func (r Rule) Applies(extension, transaction string) bool {
	ext := tld.NormalizeExtension(extension)
	matched := false
	for _, candidate := range r.Extensions {
		if tld.NormalizeExtension(candidate) == ext {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	if len(r.Transactions) == 0 {
		return true
	}
	for _, candidate := range r.Transactions {
		if strings.EqualFold(strings.TrimSpace(candidate), transaction) {
			return true
		}
	}
	return false
}

// EffectiveRate clamps the configured rate to the [0, 1] range.
func (r Rule) EffectiveRate() float64 {
	if math.IsNaN(r.Rate) || r.Rate <= 0 {
		return 0
	}
	if r.Rate > 1 {
		return 1
	}
	return r.Rate
}

// NormalizeCode returns the canonical, case-insensitive form of a discount code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeCodes canonicalises codes, dropping blanks and duplicates while keeping
// first-seen order.
func NormalizeCodes(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		normalized := NormalizeCode(code)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

func parseTimestamp(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, ErrInvalidWindow
	}
	for _, layout := range windowLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, ErrInvalidWindow
}
