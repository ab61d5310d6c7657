package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/tld-quote/internal/catalog"
	"github.com/noah-isme/tld-quote/internal/config"
	"github.com/noah-isme/tld-quote/internal/lock"
	"github.com/noah-isme/tld-quote/internal/obs"
	"github.com/noah-isme/tld-quote/internal/pricing"
	"github.com/noah-isme/tld-quote/internal/resilience"
)

// Sources maps the configured dataset locations onto catalog sources.
func Sources(p config.Pricing) catalog.Sources {
	return catalog.Sources{
		CreatePrices:   p.CreatePrices,
		RenewPrices:    p.RenewPrices,
		RestorePrices:  p.RestorePrices,
		TransferPrices: p.TransferPrices,
		ExchangeRates:  p.ExchangeRates,
		VATRates:       p.VATRates,
		Discounts:      p.Discounts,
	}
}

// EligibilityClient builds the client remote discount checks go through. Checks run
// inside a request, so the client is tighter than the dataset fetcher.
func EligibilityClient(timeout time.Duration) resilience.HTTPClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return resilience.HTTPClient{
		Client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Breaker: resilience.NewBreaker(resilience.BreakerSettings{
			Name:         "eligibility",
			MinRequests:  5,
			FailureRatio: 0.5,
			OpenFor:      15 * time.Second,
			Interval:     time.Minute,
		}),
		Target:      "eligibility",
		BaseBackoff: 50 * time.Millisecond,
		MaxAttempts: 2,
		Jitter:      0.2,
		Timeout:     timeout,
	}
}

// PricingConfig loads every dataset and applies the configured quote defaults.
// A nil redis client disables the dataset cache.
func PricingConfig(ctx context.Context, cfg *config.Config, rdb *redis.Client) (pricing.Config, error) {
	if cfg == nil {
		return pricing.Config{}, errors.New("app: config is required")
	}
	fetcher := &catalog.Fetcher{
		HTTP: catalog.HTTPClient(cfg.Datasets.FetchTimeout, cfg.Datasets.FetchAttempts),
	}
	if rdb != nil {
		fetcher.Cache = catalog.NewCache(rdb, cfg.Datasets.CacheTTL)
		fetcher.Lock = lock.Locker{Client: rdb, Prefix: "tld-quote:lock:"}
		fetcher.LockTTL = cfg.Datasets.FetchTimeout * time.Duration(max(cfg.Datasets.FetchAttempts, 1))
	}
	loader := &catalog.Loader{
		Fetcher:     fetcher,
		Eligibility: EligibilityClient(cfg.Datasets.EligibilityTimeout),
	}
	pcfg, err := loader.Load(ctx, Sources(cfg.Pricing))
	if err != nil {
		return pricing.Config{}, fmt.Errorf("load datasets: %w", err)
	}

	p := cfg.Pricing
	pcfg.Currencies = p.Currencies
	pcfg.FractionalAmounts = p.FractionalAmounts
	pcfg.DiscountPolicy = pricing.DiscountPolicy(p.DiscountPolicy)
	if p.Conversion == "convert" {
		pcfg.Conversion = pricing.AlwaysConvert
	}
	if p.MarkupType != "" {
		pcfg.Markup = &pricing.Markup{Type: pricing.MarkupType(p.MarkupType), Value: p.MarkupValue}
	}
	if p.TaxMode != "vat" {
		pcfg.Tax = pricing.FlatTax(p.TaxRate)
	}
	return pcfg, nil
}

// NewCalculator loads datasets, builds the calculator and publishes dataset sizes.
func NewCalculator(ctx context.Context, cfg *config.Config, rdb *redis.Client) (*pricing.Calculator, error) {
	pcfg, err := PricingConfig(ctx, cfg, rdb)
	if err != nil {
		return nil, err
	}
	calc, err := pricing.New(pcfg)
	if err != nil {
		return nil, err
	}
	if obs.DatasetEntries != nil {
		obs.DatasetEntries.WithLabelValues("create_prices").Set(float64(len(pcfg.Prices.Create)))
		obs.DatasetEntries.WithLabelValues("renew_prices").Set(float64(len(pcfg.Prices.Renew)))
		obs.DatasetEntries.WithLabelValues("restore_prices").Set(float64(len(pcfg.Prices.Restore)))
		obs.DatasetEntries.WithLabelValues("transfer_prices").Set(float64(len(pcfg.Prices.Transfer)))
		obs.DatasetEntries.WithLabelValues("exchange_rates").Set(float64(len(pcfg.ExchangeRates)))
		obs.DatasetEntries.WithLabelValues("discounts").Set(float64(pcfg.Discounts.Len()))
	}
	return calc, nil
}
