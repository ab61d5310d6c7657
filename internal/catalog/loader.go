package catalog

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/tld-quote/internal/pricing"
	"github.com/noah-isme/tld-quote/internal/resilience"
	"github.com/noah-isme/tld-quote/internal/voucher"
)

// Sources names where each dataset lives. Only CreatePrices is required.
type Sources struct {
	CreatePrices   string
	RenewPrices    string
	RestorePrices  string
	TransferPrices string
	ExchangeRates  string
	VATRates       string
	Discounts      string
}

// HTTPClient returns a retrying, breaker-guarded client with a traced transport.
func HTTPClient(timeout time.Duration, attempts int) resilience.HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if attempts <= 0 {
		attempts = 3
	}
	return resilience.HTTPClient{
		Client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Breaker: resilience.NewBreaker(resilience.BreakerSettings{
			Name:         "datasets",
			MinRequests:  uint32(attempts),
			FailureRatio: 0.5,
			OpenFor:      30 * time.Second,
		}),
		Target:      "datasets",
		BaseBackoff: 200 * time.Millisecond,
		MaxAttempts: attempts,
		Jitter:      0.2,
		Timeout:     timeout,
	}
}

// Loader fetches and parses every dataset once.
type Loader struct {
	Fetcher *Fetcher
	// Eligibility is the client used by discounts with an eligibilityUrl.
	Eligibility voucher.Doer
}

// Load fetches all sources concurrently and assembles the dataset half of a
// pricing.Config. Tax is a CountryVAT policy when VAT rates are given; callers set
// the remaining settings.
func (l *Loader) Load(ctx context.Context, src Sources) (pricing.Config, error) {
	if l.Fetcher == nil {
		l.Fetcher = &Fetcher{}
	}
	var (
		cfg       pricing.Config
		vat       map[string]float64
		discounts []Discount
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		table, err := l.prices(gctx, src.CreatePrices, true)
		cfg.Prices.Create = table
		return err
	})
	g.Go(func() error {
		table, err := l.prices(gctx, src.RenewPrices, false)
		cfg.Prices.Renew = table
		return err
	})
	g.Go(func() error {
		table, err := l.prices(gctx, src.RestorePrices, false)
		cfg.Prices.Restore = table
		return err
	})
	g.Go(func() error {
		table, err := l.prices(gctx, src.TransferPrices, false)
		cfg.Prices.Transfer = table
		return err
	})
	if src.ExchangeRates != "" {
		g.Go(func() error {
			data, err := l.Fetcher.Fetch(gctx, src.ExchangeRates)
			if err != nil {
				return err
			}
			cfg.ExchangeRates, err = ParseExchangeRates(bytes.NewReader(data))
			return err
		})
	}
	if src.VATRates != "" {
		g.Go(func() error {
			data, err := l.Fetcher.Fetch(gctx, src.VATRates)
			if err != nil {
				return err
			}
			vat, err = ParseVATRates(bytes.NewReader(data))
			return err
		})
	}
	if src.Discounts != "" {
		g.Go(func() error {
			data, err := l.Fetcher.Fetch(gctx, src.Discounts)
			if err != nil {
				return err
			}
			discounts, err = ParseDiscounts(bytes.NewReader(data))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return pricing.Config{}, err
	}

	if vat != nil {
		cfg.Tax = pricing.CountryVAT{Rates: vat}
	}
	if len(discounts) > 0 {
		rules := make([]voucher.Rule, 0, len(discounts))
		for _, d := range discounts {
			rules = append(rules, d.Rule(l.Eligibility))
		}
		cfg.Discounts = voucher.NewCatalog(rules...)
	}

	zerolog.Ctx(ctx).Info().
		Int("extensions", len(cfg.Prices.Create)).
		Int("exchange_rates", len(cfg.ExchangeRates)).
		Int("vat_countries", len(vat)).
		Int("discounts", len(discounts)).
		Msg("datasets_loaded")
	return cfg, nil
}

func (l *Loader) prices(ctx context.Context, source string, required bool) (pricing.PriceTable, error) {
	if source == "" {
		if required {
			return nil, fmt.Errorf("catalog: create prices: %w", ErrEmptySource)
		}
		return nil, nil
	}
	data, err := l.Fetcher.Fetch(ctx, source)
	if err != nil {
		return nil, err
	}
	table, err := ParsePrices(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", source, err)
	}
	return table, nil
}
