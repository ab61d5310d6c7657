package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"golang.org/x/text/currency"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string
	LogFormat          string
	LogLevel           string
	OTLPEndpoint       string

	Pricing       Pricing
	Datasets      Datasets
	HTTP          HTTP
	Observability Observability

	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Pricing carries the dataset locations and the quote defaults.
type Pricing struct {
	CreatePrices   string
	RenewPrices    string
	RestorePrices  string
	TransferPrices string
	ExchangeRates  string
	VATRates       string
	Discounts      string

	TaxMode           string
	TaxRate           float64
	Currencies        []string
	MarkupType        string
	MarkupValue       float64
	FractionalAmounts bool
	DiscountPolicy    string
	Conversion        string
}

// Datasets tunes how remote datasets are fetched and cached.
type Datasets struct {
	CacheTTL           time.Duration
	FetchTimeout       time.Duration
	FetchAttempts      int
	EligibilityTimeout time.Duration
}

// HTTP tunes the server and its hardening middleware.
type HTTP struct {
	BodyLimitBytes        int64
	SecureHeaders         bool
	HSTS                  bool
	HSTSMaxAge            time.Duration
	HSTSIncludeSubdomains bool
	ReadyTimeout          time.Duration
	ShutdownTimeout       time.Duration
}

// Observability switches metrics, tracing and profiling.
type Observability struct {
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	SamplingRatio    float64
	PprofEnabled     bool
	PprofUser        string
	PprofPassword    string
}

// Load reads configuration from the environment, after merging an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	r := reader{k: k}

	appEnv := r.str("APP_ENV", "development")
	otlp := r.str("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg := &Config{
		AppEnv:             appEnv,
		Port:               r.str("PORT", "8080"),
		RedisURL:           r.str("REDIS_URL", ""),
		CORSAllowedOrigins: r.list("CORS_ALLOWED_ORIGINS"),
		LogFormat:          r.str("LOG_FORMAT", "json"),
		LogLevel:           r.str("LOG_LEVEL", "info"),
		OTLPEndpoint:       otlp,
		Pricing: Pricing{
			CreatePrices:      r.str("PRICING_CREATE_PRICES", ""),
			RenewPrices:       r.str("PRICING_RENEW_PRICES", ""),
			RestorePrices:     r.str("PRICING_RESTORE_PRICES", ""),
			TransferPrices:    r.str("PRICING_TRANSFER_PRICES", ""),
			ExchangeRates:     r.str("PRICING_EXCHANGE_RATES", ""),
			VATRates:          r.str("PRICING_VAT_RATES", ""),
			Discounts:         r.str("PRICING_DISCOUNTS", ""),
			TaxMode:           strings.ToLower(r.str("PRICING_TAX_MODE", "flat")),
			TaxRate:           r.float("PRICING_TAX_RATE"),
			Currencies:        r.list("PRICING_CURRENCIES"),
			MarkupType:        r.str("PRICING_MARKUP_TYPE", ""),
			MarkupValue:       r.float("PRICING_MARKUP_VALUE"),
			FractionalAmounts: r.boolean("PRICING_FRACTIONAL_AMOUNTS", false),
			DiscountPolicy:    strings.ToLower(r.str("PRICING_DISCOUNT_POLICY", "max")),
			Conversion:        strings.ToLower(r.str("PRICING_CONVERSION", "direct")),
		},
		Datasets: Datasets{
			CacheTTL:           r.duration("DATASET_CACHE_TTL", time.Hour),
			FetchTimeout:       r.duration("DATASET_FETCH_TIMEOUT", 10*time.Second),
			FetchAttempts:      r.positive("DATASET_FETCH_ATTEMPTS", 3),
			EligibilityTimeout: r.duration("ELIGIBILITY_TIMEOUT", 2*time.Second),
		},
		HTTP: HTTP{
			BodyLimitBytes:        int64(r.positive("HTTP_BODY_LIMIT_BYTES", 64<<10)),
			SecureHeaders:         r.boolean("SECURE_HEADERS_ENABLE", true),
			HSTS:                  r.boolean("SECURE_HSTS_ENABLE", appEnv == "production"),
			HSTSMaxAge:            r.duration("SECURE_HSTS_MAX_AGE", 365*24*time.Hour),
			HSTSIncludeSubdomains: r.boolean("SECURE_HSTS_INCLUDE_SUBDOMAINS", true),
			ReadyTimeout:          r.duration("HEALTH_READY_TIMEOUT", 300*time.Millisecond),
			ShutdownTimeout:       r.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Observability: Observability{
			MetricsEnabled:   r.boolean("OBS_ENABLE_PROMETHEUS", true),
			MetricsNamespace: r.str("OBS_METRICS_NAMESPACE", "tldquote"),
			MetricsBuckets:   r.str("OBS_METRICS_BUCKETS_MS", ""),
			TracingEnabled:   r.boolean("OBS_ENABLE_TRACING", otlp != ""),
			TracingExporter:  r.str("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio:    r.float("OBS_TRACING_SAMPLING_RATIO"),
			PprofEnabled:     r.boolean("OBS_ENABLE_PPROF", false),
			PprofUser:        r.str("SECURE_PPROF_BASIC_AUTH_USER", ""),
			PprofPassword:    r.str("SECURE_PPROF_BASIC_AUTH_PASS", ""),
		},
		RateLimitMax:    r.positive("RATE_LIMIT_MAX", 120),
		RateLimitWindow: r.duration("RATE_LIMIT_WINDOW", time.Minute),
	}
	for i, code := range cfg.Pricing.Currencies {
		cfg.Pricing.Currencies[i] = strings.ToUpper(code)
	}
	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p Pricing) validate() error {
	if p.CreatePrices == "" {
		return errors.New("PRICING_CREATE_PRICES is required")
	}
	switch p.TaxMode {
	case "flat":
	case "vat":
		if p.VATRates == "" {
			return errors.New("PRICING_VAT_RATES is required when PRICING_TAX_MODE=vat")
		}
	default:
		return fmt.Errorf("PRICING_TAX_MODE must be flat or vat, got %q", p.TaxMode)
	}
	if p.DiscountPolicy != "max" && p.DiscountPolicy != "stack" {
		return fmt.Errorf("PRICING_DISCOUNT_POLICY must be max or stack, got %q", p.DiscountPolicy)
	}
	if p.Conversion != "direct" && p.Conversion != "convert" {
		return fmt.Errorf("PRICING_CONVERSION must be direct or convert, got %q", p.Conversion)
	}
	switch p.MarkupType {
	case "", "percentage", "fixedUsd":
	default:
		return fmt.Errorf("PRICING_MARKUP_TYPE must be percentage or fixedUsd, got %q", p.MarkupType)
	}
	for _, code := range p.Currencies {
		if _, err := currency.ParseISO(code); err != nil {
			return fmt.Errorf("PRICING_CURRENCIES: %q is not an ISO 4217 code", code)
		}
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// reader applies defaults on top of koanf lookups. Numbers that fail to parse are
// collected in errs; blank values take the default.
type reader struct {
	k    *koanf.Koanf
	errs []error
}

func (r *reader) str(key, fallback string) string {
	if v := strings.TrimSpace(r.k.String(key)); v != "" {
		return v
	}
	return fallback
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(r.k.String(key), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (r *reader) boolean(key string, fallback bool) bool {
	switch strings.ToLower(r.str(key, "")) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// positive falls back on blank, malformed or non-positive values.
func (r *reader) positive(key string, fallback int) int {
	n, err := strconv.Atoi(r.str(key, ""))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func (r *reader) float(key string) float64 {
	raw := r.str(key, "")
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
	}
	return v
}

func (r *reader) duration(key string, fallback time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
