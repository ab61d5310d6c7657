package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/tld-quote/internal/tld"
)

// USD is the pivot currency every price table and markup is expressed in.
const USD = "USD"

const usdSymbol = "$"

// ExchangeRate describes one currency relative to USD.
type ExchangeRate struct {
	CountryCode    string  `json:"countryCode"`
	CurrencyName   string  `json:"currencyName"`
	CurrencySymbol string  `json:"currencySymbol"`
	CurrencyCode   string  `json:"currencyCode"`
	ExchangeRate   float64 `json:"exchangeRate"`
	InverseRate    float64 `json:"inverseRate"`
}

// ConversionStrategy decides whether explicit same-currency prices beat the FX table.
type ConversionStrategy int

const (
	// PreferDirect scales an explicit target-currency price by the markup instead of converting.
	PreferDirect ConversionStrategy = iota
	// AlwaysConvert ignores explicit target-currency prices and uses the nominal rate.
	AlwaysConvert
)

type rateBook map[string]ExchangeRate

func newRateBook(rates []ExchangeRate) rateBook {
	book := make(rateBook, len(rates)+1)
	for _, r := range rates {
		code := tld.NormalizeCurrency(r.CurrencyCode)
		if code == "" || code == USD || !validAmount(r.ExchangeRate) {
			continue
		}
		r.CurrencyCode = code
		book[code] = r
	}
	book[USD] = ExchangeRate{CountryCode: "US", CurrencyName: "US Dollar", CurrencySymbol: usdSymbol, CurrencyCode: USD, ExchangeRate: 1, InverseRate: 1}
	return book
}

func (b rateBook) rate(code string) (decimal.Decimal, bool) {
	r, ok := b[code]
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(r.ExchangeRate), true
}

func (b rateBook) symbol(code string) string {
	if r, ok := b[code]; ok && r.CurrencySymbol != "" {
		return r.CurrencySymbol
	}
	return code
}

// usdBase picks the USD amount a price map is anchored on. When the map carries no
// USD value it is derived from the target currency, then from any other currency
// with a known rate in code order.
func (b rateBook) usdBase(prices map[string]float64, target string) (decimal.Decimal, bool) {
	if usd, ok := prices[USD]; ok {
		return decimal.NewFromFloat(usd), true
	}
	candidates := make([]string, 0, len(prices))
	for code := range prices {
		if code != target {
			candidates = append(candidates, code)
		}
	}
	sort.Strings(candidates)
	if _, ok := prices[target]; ok {
		candidates = append([]string{target}, candidates...)
	}
	for _, code := range candidates {
		rate, ok := b.rate(code)
		if !ok {
			continue
		}
		return decimal.NewFromFloat(prices[code]).Div(rate), true
	}
	return decimal.Zero, false
}

// convert turns the marked-up USD amount into the target currency. An explicit
// target price is honoured through its implied rate against the unmarked USD base.
func (b rateBook) convert(markedUp, usdBase decimal.Decimal, prices map[string]float64, target string, strategy ConversionStrategy) (decimal.Decimal, bool) {
	if target == USD {
		return markedUp, true
	}
	rate, ok := b.rate(target)
	if !ok {
		return decimal.Zero, false
	}
	if direct, ok := prices[target]; ok && strategy == PreferDirect && usdBase.IsPositive() {
		return markedUp.Mul(decimal.NewFromFloat(direct)).Div(usdBase), true
	}
	return markedUp.Mul(rate), true
}
