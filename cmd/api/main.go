package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/tld-quote/internal/app"
	"github.com/noah-isme/tld-quote/internal/config"
	"github.com/noah-isme/tld-quote/internal/obs"
	"github.com/noah-isme/tld-quote/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := obs.NewLogger("json", "info")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(logger.WithContext(ctx), cfg, logger); err != nil {
		logger.Error().Err(err).Msg("server exited")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	o := cfg.Observability
	var metrics *obs.HTTPMetrics
	if o.MetricsEnabled {
		obs.MustRegisterDomainMetrics(o.MetricsNamespace, nil)
		resilience.MustRegisterMetrics(o.MetricsNamespace, nil)
		metrics = obs.NewHTTPMetrics(o.MetricsNamespace, obs.ParseBuckets(o.MetricsBuckets), nil)
	}
	if o.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "tld-quote",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      o.TracingExporter,
			SamplingRatio: o.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Warn().Err(err).Msg("tracer_shutdown_failed")
			}
		}()
	}

	rdb, err := connectRedis(ctx, cfg, o.MetricsEnabled)
	if err != nil {
		return err
	}
	if rdb == nil {
		logger.Info().Msg("redis not configured; dataset cache, fetch lock and rate limiting disabled")
	} else {
		defer func() { _ = rdb.Close() }()
	}

	loadCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	calc, err := app.NewCalculator(loadCtx, cfg, rdb)
	cancel()
	if err != nil {
		return fmt.Errorf("initialise pricing: %w", err)
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr(),
		Handler: app.NewRouter(cfg, app.RouterDeps{
			Logger:     logger,
			Calculator: calc,
			Redis:      rdb,
			Metrics:    metrics,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Int("extensions", len(calc.Extensions())).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

func connectRedis(ctx context.Context, cfg *config.Config, metrics bool) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("redis_tracing_unavailable")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("redis_metrics_unavailable")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
