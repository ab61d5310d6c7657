package catalog

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/noah-isme/tld-quote/internal/pricing"
	"github.com/noah-isme/tld-quote/internal/voucher"
)

// ErrMissingColumn is returned when a price CSV header lacks a required column.
var ErrMissingColumn = errors.New("catalog: price csv missing column")

var (
	extensionColumns = []string{"extension", "tld"}
	priceColumns     = []string{"price", "amount"}
	currencyColumns  = []string{"currency"}
)

// ParsePriceCSV reads a header-driven price list. The extension column may be named
// extension or tld, the amount column price or amount, and an optional currency
// column defaults to USD. Other columns are ignored, unusable rows are skipped and
// duplicate extension and currency pairs keep the lowest price.
func ParsePriceCSV(r io.Reader) (pricing.PriceTable, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return pricing.PriceTable{}, nil
		}
		return nil, fmt.Errorf("catalog: read price csv header: %w", err)
	}
	extCol := columnIndex(header, extensionColumns)
	priceCol := columnIndex(header, priceColumns)
	currencyCol := columnIndex(header, currencyColumns)
	if extCol < 0 {
		return nil, fmt.Errorf("%w: extension", ErrMissingColumn)
	}
	if priceCol < 0 {
		return nil, fmt.Errorf("%w: price", ErrMissingColumn)
	}

	table := pricing.PriceTable{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, fmt.Errorf("catalog: read price csv: %w", err)
		}
		if extCol >= len(record) || priceCol >= len(record) {
			continue
		}
		amount, err := strconv.ParseFloat(strings.TrimSpace(record[priceCol]), 64)
		if err != nil {
			continue
		}
		currency := pricing.USD
		if currencyCol >= 0 && currencyCol < len(record) && strings.TrimSpace(record[currencyCol]) != "" {
			currency = record[currencyCol]
		}
		table.Add(record[extCol], currency, amount, pricing.KeepMinimum)
	}
	return table, nil
}

func columnIndex(header []string, names []string) int {
	for i, column := range header {
		column = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(column, "\ufeff")))
		for _, name := range names {
			if column == name {
				return i
			}
		}
	}
	return -1
}

// ParsePriceJSON reads an object of extension to either a USD amount or a currency
// amount map. Keys are normalised and entries without a usable amount are dropped.
// Keys that normalise to the same extension keep the lowest amount per currency.
func ParsePriceJSON(r io.Reader) (pricing.PriceTable, error) {
	var raw map[string]pricing.PriceEntry
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("catalog: decode price json: %w", err)
	}
	table := pricing.PriceTable{}
	for ext, entry := range raw {
		for code, amount := range entry.Amounts() {
			table.Add(ext, code, amount, pricing.KeepMinimum)
		}
	}
	return table, nil
}

// ParsePrices picks the JSON or CSV parser by sniffing the first non-blank byte.
func ParsePrices(data []byte) (pricing.PriceTable, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		return ParsePriceJSON(strings.NewReader(trimmed))
	}
	return ParsePriceCSV(strings.NewReader(trimmed))
}

// ParseExchangeRates reads a JSON array of exchange-rate records.
func ParseExchangeRates(r io.Reader) ([]pricing.ExchangeRate, error) {
	var rates []pricing.ExchangeRate
	if err := json.NewDecoder(r).Decode(&rates); err != nil {
		return nil, fmt.Errorf("catalog: decode exchange rates: %w", err)
	}
	return rates, nil
}

// ParseVATRates reads a JSON object of country code to tax rate.
func ParseVATRates(r io.Reader) (map[string]float64, error) {
	var raw map[string]float64
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("catalog: decode vat rates: %w", err)
	}
	rates := make(map[string]float64, len(raw))
	for country, rate := range raw {
		rates[strings.ToUpper(strings.TrimSpace(country))] = rate
	}
	return rates, nil
}

// Discount is one entry of a discount definition file.
type Discount struct {
	Code           string   `json:"-"`
	Rate           float64  `json:"rate"`
	Extensions     []string `json:"extensions"`
	StartAt        string   `json:"startAt"`
	EndAt          string   `json:"endAt"`
	Transactions   []string `json:"transactions,omitempty"`
	EligibilityURL string   `json:"eligibilityUrl,omitempty"`
}

// Rule converts the definition into a voucher rule. A non-empty EligibilityURL is
// checked remotely through client.
func (d Discount) Rule(client voucher.Doer) voucher.Rule {
	rule := voucher.Rule{
		Code:         d.Code,
		Rate:         d.Rate,
		Extensions:   d.Extensions,
		StartAt:      d.StartAt,
		EndAt:        d.EndAt,
		Transactions: d.Transactions,
	}
	if url := strings.TrimSpace(d.EligibilityURL); url != "" {
		rule.Eligibility = voucher.RemoteEligibility{URL: url, Client: client}
	}
	return rule
}

// ParseDiscounts reads a JSON object of code to definition, keeping file order so
// the resulting catalog order matches the document.
func ParseDiscounts(r io.Reader) ([]Discount, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("catalog: decode discounts: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("catalog: decode discounts: expected object")
	}
	var out []Discount
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("catalog: decode discounts: %w", err)
		}
		code, _ := tok.(string)
		var d Discount
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("catalog: decode discount %q: %w", code, err)
		}
		d.Code = voucher.NormalizeCode(code)
		if d.Code == "" {
			continue
		}
		out = append(out, d)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("catalog: decode discounts: %w", err)
	}
	return out, nil
}
