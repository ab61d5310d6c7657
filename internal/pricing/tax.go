package pricing

import (
	"math"

	"github.com/noah-isme/tld-quote/internal/tld"
)

// TaxPolicy resolves the tax rate applied to a quote in the given currency.
type TaxPolicy interface {
	Rate(currency string) (float64, error)
}

// FlatTax applies the same rate to every currency.
type FlatTax float64

// Rate implements TaxPolicy.
func (f FlatTax) Rate(string) (float64, error) {
	return sanitizeRate(float64(f)), nil
}

// DefaultCurrencyCountries maps the currencies with a VAT jurisdiction to the country
// whose rate applies.
var DefaultCurrencyCountries = map[string]string{
	"USD": "US",
	"GBP": "GB",
	"EUR": "DE",
	"NGN": "NG",
}

// CountryVAT resolves rates in two steps: currency to country, then country to rate.
type CountryVAT struct {
	CurrencyCountries map[string]string
	Rates             map[string]float64
}

// Rate implements TaxPolicy. Unmapped currencies and countries without a rate are unsupported.
func (c CountryVAT) Rate(currency string) (float64, error) {
	code := tld.NormalizeCurrency(currency)
	mapping := c.CurrencyCountries
	if mapping == nil {
		mapping = DefaultCurrencyCountries
	}
	country, ok := mapping[code]
	if !ok {
		return 0, unsupportedCurrency(code)
	}
	rate, ok := c.Rates[country]
	if !ok {
		return 0, unsupportedCurrency(code)
	}
	return sanitizeRate(rate), nil
}

func sanitizeRate(rate float64) float64 {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0
	}
	return rate
}
