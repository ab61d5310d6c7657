package voucher

import (
	"testing"
	"time"
)

func TestRuleValidateWindow(t *testing.T) {
	rule := Rule{StartAt: "2026-01-01T00:00:00Z", EndAt: "2026-01-31T23:59:59.999Z"}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 23, 59, 59, int(999*time.Millisecond), time.UTC)

	if err := rule.Validate(start); err != nil {
		t.Fatalf("expected start to be inclusive, got %v", err)
	}
	if err := rule.Validate(end); err != nil {
		t.Fatalf("expected end to be inclusive, got %v", err)
	}
	if err := rule.Validate(start.Add(-time.Millisecond)); err != ErrVoucherInactive {
		t.Fatalf("expected ErrVoucherInactive, got %v", err)
	}
	if err := rule.Validate(end.Add(time.Millisecond)); err != ErrVoucherExpired {
		t.Fatalf("expected ErrVoucherExpired, got %v", err)
	}
}

func TestRuleValidateMalformedWindow(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, rule := range []Rule{
		{StartAt: "yesterday", EndAt: "2027-01-01"},
		{StartAt: "2026-01-01", EndAt: ""},
		{},
	} {
		if err := rule.Validate(now); err != ErrInvalidWindow {
			t.Fatalf("expected ErrInvalidWindow for %+v, got %v", rule, err)
		}
	}
}

func TestRuleWindowLayouts(t *testing.T) {
	for _, value := range []string{"2026-02-01", "2026-02-01T10:00:00", "2026-02-01 10:00:00", "2026-02-01T10:00:00+01:00", "2026-02-01T10:00:00.123456Z"} {
		if _, err := parseTimestamp(value); err != nil {
			t.Fatalf("parse %q: %v", value, err)
		}
	}
}

func TestRuleApplies(t *testing.T) {
	rule := Rule{Extensions: []string{".COM", "com.ng"}}
	if !rule.Applies("com", "create") || !rule.Applies("..com.NG", "renew") {
		t.Fatal("expected normalised extensions to match for any transaction")
	}
	if rule.Applies("ng", "create") {
		t.Fatal("expected ng to be outside the rule")
	}

	rule.Transactions = []string{"Renew", "transfer"}
	if !rule.Applies("com", "renew") {
		t.Fatal("expected renew to be eligible")
	}
	if rule.Applies("com", "create") {
		t.Fatal("expected create to be excluded")
	}

	if (Rule{}).Applies("com", "create") {
		t.Fatal("expected a rule without extensions to match nothing")
	}
}

func TestRuleEffectiveRate(t *testing.T) {
	cases := map[float64]float64{-0.2: 0, 0: 0, 0.35: 0.35, 1: 1, 1.8: 1}
	for in, want := range cases {
		if got := (Rule{Rate: in}).EffectiveRate(); got != want {
			t.Fatalf("EffectiveRate(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestNormalizeCodes(t *testing.T) {
	got := NormalizeCodes([]string{"save10", " SAVE10 ", "", "Spring", "SAVE10"})
	if len(got) != 2 || got[0] != "SAVE10" || got[1] != "SPRING" {
		t.Fatalf("unexpected codes %v", got)
	}
	if NormalizeCodes(nil) != nil {
		t.Fatal("expected nil for no codes")
	}
}

func TestCatalogReplacesDuplicates(t *testing.T) {
	c := NewCatalog(Rule{Code: "a", Rate: 0.1}, Rule{Code: "B", Rate: 0.2}, Rule{Code: "A", Rate: 0.3}, Rule{Code: " "})
	if c.Len() != 2 {
		t.Fatalf("expected 2 rules, got %d", c.Len())
	}
	rule, ok := c.Lookup("a")
	if !ok || rule.Rate != 0.3 || rule.Code != "A" {
		t.Fatalf("unexpected rule %+v", rule)
	}
	if rules := c.Rules(); rules[0].Code != "A" || rules[1].Code != "B" {
		t.Fatalf("expected original order, got %+v", rules)
	}
	var empty *Catalog
	if _, ok := empty.Lookup("A"); ok || empty.Len() != 0 {
		t.Fatal("expected nil catalog to be empty")
	}
}
