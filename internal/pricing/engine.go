package pricing

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/tld-quote/internal/tld"
	"github.com/noah-isme/tld-quote/internal/voucher"
)

// DiscountPolicy decides how several eligible discounts combine.
type DiscountPolicy string

const (
	// PolicyMax applies the single largest discount.
	PolicyMax DiscountPolicy = "max"
	// PolicyStack applies the sum of every eligible discount.
	PolicyStack DiscountPolicy = "stack"
)

// ParseDiscountPolicy maps user input onto a policy. Empty input means max.
func ParseDiscountPolicy(value string) (DiscountPolicy, bool) {
	switch DiscountPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyMax:
		return PolicyMax, true
	case PolicyStack:
		return PolicyStack, true
	default:
		return "", false
	}
}

// Config is the read-only data a Calculator prices against.
type Config struct {
	Prices        PriceTables
	ExchangeRates []ExchangeRate
	// Currencies is the allow-list. When empty every currency with an exchange rate is allowed.
	Currencies []string
	// Tax defaults to a zero flat rate.
	Tax       TaxPolicy
	Discounts *voucher.Catalog
	Markup    *Markup
	// FractionalAmounts is the rounding default when a request does not choose.
	FractionalAmounts bool
	DiscountPolicy    DiscountPolicy
	Conversion        ConversionStrategy
	Now               func() time.Time
}

// Options tune a single quote.
type Options struct {
	DiscountCodes          []string
	Now                    time.Time
	DiscountPolicy         DiscountPolicy
	Transaction            Transaction
	AllowFractionalAmounts *bool
}

// Quote is the priced breakdown for one extension in one currency.
type Quote struct {
	Extension    string      `json:"extension"`
	Currency     string      `json:"currency"`
	Symbol       string      `json:"currencySymbol"`
	Transaction  Transaction `json:"transaction"`
	BasePrice    float64     `json:"basePrice"`
	Discount     float64     `json:"discount"`
	Subtotal     float64     `json:"subtotal"`
	TaxRate      float64     `json:"taxRate"`
	Tax          float64     `json:"tax"`
	TotalPrice   float64     `json:"totalPrice"`
	AppliedCodes []string    `json:"appliedCodes"`
}

// Calculator computes quotes. It holds no mutable state and is safe for concurrent use.
type Calculator struct {
	prices     PriceTables
	rates      rateBook
	allowed    map[string]struct{}
	tax        TaxPolicy
	discounts  *voucher.Service
	markup     Markup
	fractional bool
	policy     DiscountPolicy
	conversion ConversionStrategy
	now        func() time.Time
}

// New validates cfg and builds a Calculator.
func New(cfg Config) (*Calculator, error) {
	if len(cfg.Prices.Create) == 0 {
		return nil, errors.New("pricing: create price table is required")
	}
	policy, ok := ParseDiscountPolicy(string(cfg.DiscountPolicy))
	if !ok {
		return nil, errors.New("pricing: unknown discount policy " + string(cfg.DiscountPolicy))
	}
	rates := newRateBook(cfg.ExchangeRates)
	allowed := make(map[string]struct{})
	if len(cfg.Currencies) == 0 {
		for code := range rates {
			allowed[code] = struct{}{}
		}
	} else {
		for _, code := range cfg.Currencies {
			if normalized := tld.NormalizeCurrency(code); normalized != "" {
				allowed[normalized] = struct{}{}
			}
		}
	}
	tax := cfg.Tax
	if tax == nil {
		tax = FlatTax(0)
	}
	var markup Markup
	if cfg.Markup != nil {
		markup = *cfg.Markup
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Calculator{
		prices:     cfg.Prices,
		rates:      rates,
		allowed:    allowed,
		tax:        tax,
		discounts:  &voucher.Service{Catalog: cfg.Discounts},
		markup:     markup,
		fractional: cfg.FractionalAmounts,
		policy:     policy,
		conversion: cfg.Conversion,
		now:        now,
	}, nil
}

// Extensions lists every extension with a usable create price.
func (c *Calculator) Extensions() []string {
	return c.prices.Create.Extensions()
}

// SupportsExtension reports whether extension has a usable create price.
func (c *Calculator) SupportsExtension(extension string) bool {
	_, ok := c.prices.Create.Lookup(extension)
	return ok
}

// Currencies lists the allowed currencies that can be converted to, sorted.
func (c *Calculator) Currencies() []string {
	out := make([]string, 0, len(c.allowed))
	for code := range c.allowed {
		if _, ok := c.rates[code]; ok {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}

// SupportsCurrency reports whether currency is allowed and has an exchange rate.
func (c *Calculator) SupportsCurrency(currency string) bool {
	code := tld.NormalizeCurrency(currency)
	if code == "" {
		return false
	}
	if _, ok := c.allowed[code]; !ok {
		return false
	}
	_, ok := c.rates[code]
	return ok
}

// QuoteDomain prices the extension of a full domain name, picking the longest known suffix.
func (c *Calculator) QuoteDomain(ctx context.Context, domain, currency string, opts Options) (Quote, error) {
	return c.Quote(ctx, tld.ResolveExtension(domain, c.SupportsExtension), currency, opts)
}

// Quote prices extension in currency. It fails with ErrUnsupportedCurrency or
// ErrUnsupportedExtension before any amount is computed.
func (c *Calculator) Quote(ctx context.Context, extension, currency string, opts Options) (Quote, error) {
	ext := tld.NormalizeExtension(extension)
	code := tld.NormalizeCurrency(currency)
	tx := opts.Transaction
	if tx == "" {
		tx = TransactionCreate
	}

	if !c.SupportsCurrency(code) {
		return Quote{}, unsupportedCurrency(code)
	}
	taxRate, err := c.tax.Rate(code)
	if err != nil {
		return Quote{}, err
	}
	prices, err := c.prices.Resolve(ext, tx)
	if err != nil {
		return Quote{}, err
	}
	usdBase, ok := c.rates.usdBase(prices, code)
	if !ok {
		return Quote{}, unsupportedExtension(ext)
	}

	mode := roundingFor(c.fractional)
	if opts.AllowFractionalAmounts != nil {
		mode = roundingFor(*opts.AllowFractionalAmounts)
	}
	policy := c.policy
	if opts.DiscountPolicy != "" {
		policy = opts.DiscountPolicy
	}
	now := opts.Now
	if now.IsZero() {
		now = c.now()
	}

	converted, ok := c.rates.convert(c.markup.Apply(usdBase), usdBase, prices, code, c.conversion)
	if !ok {
		return Quote{}, unsupportedCurrency(code)
	}
	base := mode.Round(converted)

	rules := c.discounts.Eligible(ctx, opts.DiscountCodes, voucher.Context{
		Extension:   ext,
		Currency:    code,
		Transaction: string(tx),
		BasePrice:   base.InexactFloat64(),
	}, now)
	discount, applied := aggregateDiscounts(ctx, mode, base, rules, policy)

	subtotal := mode.Round(base.Sub(discount))
	tax := mode.Round(subtotal.Mul(decimal.NewFromFloat(taxRate)))
	total := mode.Round(subtotal.Add(tax))

	return Quote{
		Extension:    ext,
		Currency:     code,
		Symbol:       c.rates.symbol(code),
		Transaction:  tx,
		BasePrice:    base.InexactFloat64(),
		Discount:     discount.InexactFloat64(),
		Subtotal:     subtotal.InexactFloat64(),
		TaxRate:      taxRate,
		Tax:          tax.InexactFloat64(),
		TotalPrice:   total.InexactFloat64(),
		AppliedCodes: applied,
	}, nil
}

// aggregateDiscounts rounds each rule's share of base, combines them per policy and
// caps the result at base.
func aggregateDiscounts(ctx context.Context, mode RoundingMode, base decimal.Decimal, rules []voucher.Rule, policy DiscountPolicy) (decimal.Decimal, []string) {
	applied := []string{}
	if len(rules) == 0 {
		return decimal.Zero, applied
	}
	discount := decimal.Zero
	switch policy {
	case PolicyStack:
		for _, rule := range rules {
			discount = discount.Add(mode.Round(base.Mul(decimal.NewFromFloat(rule.EffectiveRate()))))
			applied = append(applied, rule.Code)
		}
		discount = mode.Round(discount)
	default:
		best := -1
		for i, rule := range rules {
			amount := mode.Round(base.Mul(decimal.NewFromFloat(rule.EffectiveRate())))
			if best < 0 || amount.GreaterThan(discount) {
				best = i
				discount = amount
			}
		}
		applied = append(applied, rules[best].Code)
	}
	if discount.GreaterThan(base) {
		zerolog.Ctx(ctx).Debug().
			Str("discount", discount.String()).
			Str("base_price", base.String()).
			Msg("pricing_discount_clamped")
		discount = base
	}
	return discount, applied
}
