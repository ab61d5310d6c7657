package pricing

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/noah-isme/tld-quote/internal/tld"
)

// Transaction identifies the domain lifecycle operation being priced.
type Transaction string

const (
	TransactionCreate   Transaction = "create"
	TransactionRenew    Transaction = "renew"
	TransactionRestore  Transaction = "restore"
	TransactionTransfer Transaction = "transfer"
)

// ParseTransaction maps user input onto a known transaction. Empty input means create.
func ParseTransaction(value string) (Transaction, bool) {
	switch Transaction(strings.ToLower(strings.TrimSpace(value))) {
	case "", TransactionCreate:
		return TransactionCreate, true
	case TransactionRenew:
		return TransactionRenew, true
	case TransactionRestore:
		return TransactionRestore, true
	case TransactionTransfer:
		return TransactionTransfer, true
	default:
		return "", false
	}
}

// PriceEntry is either a flat USD amount or a per-currency amount map.
type PriceEntry struct {
	flat   float64
	isFlat bool
	byCode map[string]float64
}

// FlatUSD builds an entry holding a single USD amount.
func FlatUSD(amount float64) PriceEntry {
	return PriceEntry{flat: amount, isFlat: true}
}

// PerCurrency builds an entry from a currency to amount map.
func PerCurrency(amounts map[string]float64) PriceEntry {
	copied := make(map[string]float64, len(amounts))
	for code, amount := range amounts {
		copied[code] = amount
	}
	return PriceEntry{byCode: copied}
}

// Amounts returns the usable amounts keyed by uppercase currency code.
// Zero, negative and non-finite amounts are dropped.
func (p PriceEntry) Amounts() map[string]float64 {
	out := make(map[string]float64)
	if p.isFlat {
		if validAmount(p.flat) {
			out[USD] = p.flat
		}
		return out
	}
	for code, amount := range p.byCode {
		code = tld.NormalizeCurrency(code)
		if code == "" || !validAmount(amount) {
			continue
		}
		out[code] = amount
	}
	return out
}

// UnmarshalJSON accepts either a number or an object of currency amounts.
func (p *PriceEntry) UnmarshalJSON(data []byte) error {
	var flat float64
	if err := json.Unmarshal(data, &flat); err == nil {
		*p = FlatUSD(flat)
		return nil
	}
	var byCode map[string]float64
	if err := json.Unmarshal(data, &byCode); err != nil {
		return fmt.Errorf("price entry: expected number or currency map: %w", err)
	}
	*p = PerCurrency(byCode)
	return nil
}

// MarshalJSON writes the entry in the same shape it was read.
func (p PriceEntry) MarshalJSON() ([]byte, error) {
	if p.isFlat {
		return json.Marshal(p.flat)
	}
	return json.Marshal(p.byCode)
}

func validAmount(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// DuplicatePolicy decides which amount survives when a table receives two prices
// for the same extension and currency.
type DuplicatePolicy int

const (
	// KeepMinimum keeps the lowest amount seen.
	KeepMinimum DuplicatePolicy = iota
	// KeepLast keeps the most recently added amount.
	KeepLast
)

// PriceTable maps canonical extensions to their price entries.
type PriceTable map[string]PriceEntry

// Add records an amount for extension and currency, merging with any existing entry.
// Invalid amounts are ignored.
func (t PriceTable) Add(extension, currency string, amount float64, policy DuplicatePolicy) {
	extension = tld.NormalizeExtension(extension)
	currency = tld.NormalizeCurrency(currency)
	if extension == "" || currency == "" || !validAmount(amount) {
		return
	}
	amounts := t[extension].Amounts()
	if existing, ok := amounts[currency]; ok && policy == KeepMinimum && existing <= amount {
		return
	}
	amounts[currency] = amount
	t[extension] = PerCurrency(amounts)
}

// Lookup returns the usable amounts for an extension after normalising the key.
func (t PriceTable) Lookup(extension string) (map[string]float64, bool) {
	if t == nil {
		return nil, false
	}
	entry, ok := t[tld.NormalizeExtension(extension)]
	if !ok {
		return nil, false
	}
	amounts := entry.Amounts()
	return amounts, len(amounts) > 0
}

// Extensions lists the table's extensions that carry at least one usable amount, sorted.
func (t PriceTable) Extensions() []string {
	out := make([]string, 0, len(t))
	for ext, entry := range t {
		if len(entry.Amounts()) > 0 {
			out = append(out, ext)
		}
	}
	sort.Strings(out)
	return out
}

// PriceTables groups the create table with optional per-transaction overrides.
type PriceTables struct {
	Create   PriceTable
	Renew    PriceTable
	Restore  PriceTable
	Transfer PriceTable
}

func (pt PriceTables) override(tx Transaction) PriceTable {
	switch tx {
	case TransactionRenew:
		return pt.Renew
	case TransactionRestore:
		return pt.Restore
	case TransactionTransfer:
		return pt.Transfer
	default:
		return nil
	}
}

// Resolve returns the per-currency prices for extension under tx. The create entry is
// the base and any override entry for the same extension wins per currency key.
func (pt PriceTables) Resolve(extension string, tx Transaction) (map[string]float64, error) {
	ext := tld.NormalizeExtension(extension)
	base, ok := pt.Create.Lookup(ext)
	if !ok {
		return nil, unsupportedExtension(ext)
	}
	if override, ok := pt.override(tx).Lookup(ext); ok {
		for code, amount := range override {
			base[code] = amount
		}
	}
	return base, nil
}
