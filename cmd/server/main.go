// Server entry point: loads configuration, connects the Postgres store and
// optional Redis deduper, builds the Stripe provider and serves the HTTP API
// until a shutdown signal arrives.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kmirel/planhook/internal/api"
	"github.com/kmirel/planhook/internal/billing"
	"github.com/kmirel/planhook/internal/billing/dedupe"
	prommetrics "github.com/kmirel/planhook/internal/billing/metrics/prometheus"
	stripeprovider "github.com/kmirel/planhook/internal/billing/stripe"
	"github.com/kmirel/planhook/internal/config"
	"github.com/kmirel/planhook/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storeCfg := store.DefaultConfig()
	storeCfg.ConnectionString = cfg.DatabaseURL
	st, err := store.New(ctx, storeCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.Close()
	logger.Info().Msg("database connection established")

	var deduper billing.Deduper
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to parse redis url")
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		deduper = dedupe.NewRedis(client, time.Hour)
		logger.Info().Msg("webhook deduplication enabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := prommetrics.NewMetrics(registry, "planhook")

	provider, err := stripeprovider.NewProvider(stripeprovider.Config{
		Store:               st,
		StripeAPIKey:        cfg.StripeAPIKey,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		YearlyPriceID:       cfg.StripeYearlyPriceID,
		MonthlyPriceID:      cfg.StripeMonthlyPriceID,
		SuccessURL:          cfg.CheckoutSuccessURL,
		CancelURL:           cfg.CheckoutCancelURL,
		Metrics:             metrics,
		Deduper:             deduper,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create stripe provider")
	}

	handler := api.NewHandler(provider, st, logger)
	router := api.NewRouter(handler, provider.WebhookHandler(), registry)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.ServerPort).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}
