package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/tld-quote/internal/config"
	"github.com/noah-isme/tld-quote/internal/health"
	"github.com/noah-isme/tld-quote/internal/obs"
	"github.com/noah-isme/tld-quote/internal/pricing"
	"github.com/noah-isme/tld-quote/internal/quote"
	"github.com/noah-isme/tld-quote/internal/ratelimit"
	"github.com/noah-isme/tld-quote/internal/security"
)

// RouterDeps are the process-wide collaborators the HTTP surface is built from.
type RouterDeps struct {
	Logger     zerolog.Logger
	Calculator *pricing.Calculator
	// Redis is optional; without it rate limiting is off and readiness reports it disabled.
	Redis *redis.Client
	// Metrics enables request metrics and /metrics when set.
	Metrics *obs.HTTPMetrics
}

// NewRouter assembles the middleware chain, probes and the /api/v1 quote routes.
func NewRouter(cfg *config.Config, deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if cfg.Observability.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: deps.Metrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: deps.Logger}.Middleware)
	r.Use(middleware.Recoverer)
	if cfg.HTTP.SecureHeaders {
		r.Use(security.Headers{
			HSTS:                  cfg.HTTP.HSTS,
			HSTSMaxAge:            cfg.HTTP.HSTSMaxAge,
			HSTSIncludeSubdomains: cfg.HTTP.HSTSIncludeSubdomains,
		}.Middleware)
	}
	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}
	if o := cfg.Observability; o.PprofEnabled {
		profiler := middleware.Profiler()
		if o.PprofUser != "" {
			profiler = middleware.BasicAuth("pprof", map[string]string{o.PprofUser: o.PprofPassword})(profiler)
		}
		r.Mount("/debug", profiler)
	}

	probes := health.Handler{
		Checks: []health.Check{
			{Name: "datasets", Probe: datasetsProbe(deps.Calculator)},
			{Name: "redis", Probe: redisProbe(deps.Redis)},
		},
		Timeout: cfg.HTTP.ReadyTimeout,
	}
	r.Get("/health/live", probes.Live)
	r.Get("/health/ready", probes.Ready)

	var engine quote.Engine
	if deps.Calculator != nil {
		engine = deps.Calculator
	}
	quotes := quote.NewHandler(quote.HandlerConfig{
		Engine:       engine,
		Validator:    validator.New(validator.WithRequiredStructEnabled()),
		MaxBodyBytes: cfg.HTTP.BodyLimitBytes,
	})
	limiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: deps.Redis},
		Config:  ratelimit.Config{Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax},
		OnError: func(err error) { deps.Logger.Warn().Err(err).Msg("rate_limiter_unavailable") },
	}
	r.Route("/api/v1", func(v chi.Router) {
		v.Use(limiter.Middleware)
		v.Use(security.BodyLimit{Max: cfg.HTTP.BodyLimitBytes}.Middleware)
		quotes.Routes(v)
	})
	return r
}

func datasetsProbe(calc *pricing.Calculator) func(context.Context) error {
	return func(context.Context) error {
		if calc == nil {
			return errors.New("datasets not loaded")
		}
		if len(calc.Extensions()) == 0 {
			return errors.New("no priced extensions")
		}
		return nil
	}
}

func redisProbe(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if client == nil {
			return health.ErrDisabled
		}
		return client.Ping(ctx).Err()
	}
}
