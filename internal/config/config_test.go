package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// setEnv clears every key the loader reads and applies overrides for the test.
func setEnv(t *testing.T, overrides map[string]string) {
	t.Helper()
	keys := []string{
		"APP_ENV", "PORT", "REDIS_URL", "CORS_ALLOWED_ORIGINS", "LOG_FORMAT", "LOG_LEVEL",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "PRICING_RENEW_PRICES", "PRICING_RESTORE_PRICES",
		"PRICING_TRANSFER_PRICES", "PRICING_EXCHANGE_RATES", "PRICING_VAT_RATES", "PRICING_DISCOUNTS",
		"PRICING_TAX_MODE", "PRICING_TAX_RATE", "PRICING_CURRENCIES", "PRICING_MARKUP_TYPE",
		"PRICING_MARKUP_VALUE", "PRICING_FRACTIONAL_AMOUNTS", "PRICING_DISCOUNT_POLICY",
		"PRICING_CONVERSION", "DATASET_CACHE_TTL", "DATASET_FETCH_TIMEOUT", "DATASET_FETCH_ATTEMPTS",
		"ELIGIBILITY_TIMEOUT", "HTTP_BODY_LIMIT_BYTES", "SECURE_HEADERS_ENABLE", "SECURE_HSTS_ENABLE",
		"SECURE_HSTS_MAX_AGE", "HEALTH_READY_TIMEOUT", "OBS_ENABLE_PROMETHEUS", "OBS_ENABLE_TRACING",
		"OBS_TRACING_SAMPLING_RATIO", "RATE_LIMIT_MAX", "RATE_LIMIT_WINDOW",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
	t.Setenv("PRICING_CREATE_PRICES", "testdata/create.csv")
	for key, value := range overrides {
		t.Setenv(key, value)
	}
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t, nil)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, "flat", cfg.Pricing.TaxMode)
	require.Equal(t, "max", cfg.Pricing.DiscountPolicy)
	require.Equal(t, "direct", cfg.Pricing.Conversion)
	require.False(t, cfg.Pricing.FractionalAmounts)
	require.Equal(t, time.Hour, cfg.Datasets.CacheTTL)
	require.Equal(t, 3, cfg.Datasets.FetchAttempts)
	require.Equal(t, 2*time.Second, cfg.Datasets.EligibilityTimeout)
	require.Equal(t, int64(64<<10), cfg.HTTP.BodyLimitBytes)
	require.True(t, cfg.HTTP.SecureHeaders)
	require.False(t, cfg.HTTP.HSTS)
	require.True(t, cfg.Observability.MetricsEnabled)
	require.False(t, cfg.Observability.TracingEnabled)
	require.Equal(t, 120, cfg.RateLimitMax)
	require.Equal(t, time.Minute, cfg.RateLimitWindow)
}

func TestLoadOverrides(t *testing.T) {
	setEnv(t, map[string]string{
		"APP_ENV":                     "production",
		"PORT":                        ":9090",
		"PRICING_TAX_MODE":            "VAT",
		"PRICING_VAT_RATES":           "https://example.com/vat.json",
		"PRICING_CURRENCIES":          "usd, ngn,EUR",
		"PRICING_MARKUP_TYPE":         "percentage",
		"PRICING_MARKUP_VALUE":        "12.5",
		"PRICING_FRACTIONAL_AMOUNTS":  "yes",
		"PRICING_DISCOUNT_POLICY":     "stack",
		"DATASET_CACHE_TTL":           "15m",
		"DATASET_FETCH_ATTEMPTS":      "bogus",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "http://collector:4318",
		"OBS_ENABLE_PROMETHEUS":       "off",
	})
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, "vat", cfg.Pricing.TaxMode)
	require.Equal(t, []string{"USD", "NGN", "EUR"}, cfg.Pricing.Currencies)
	require.Equal(t, 12.5, cfg.Pricing.MarkupValue)
	require.True(t, cfg.Pricing.FractionalAmounts)
	require.Equal(t, "stack", cfg.Pricing.DiscountPolicy)
	require.Equal(t, 15*time.Minute, cfg.Datasets.CacheTTL)
	require.Equal(t, 3, cfg.Datasets.FetchAttempts)
	require.True(t, cfg.HTTP.HSTS)
	require.True(t, cfg.Observability.TracingEnabled)
	require.False(t, cfg.Observability.MetricsEnabled)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"missing prices":  {"PRICING_CREATE_PRICES": ""},
		"vat without src": {"PRICING_TAX_MODE": "vat"},
		"unknown tax":     {"PRICING_TAX_MODE": "sales"},
		"unknown policy":  {"PRICING_DISCOUNT_POLICY": "best"},
		"unknown markup":  {"PRICING_MARKUP_TYPE": "double"},
		"bad currency":    {"PRICING_CURRENCIES": "USD,XYZQ"},
		"bad tax rate":    {"PRICING_TAX_RATE": "ten"},
		"bad conversion":  {"PRICING_CONVERSION": "sometimes"},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			setEnv(t, overrides)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
