// Package main is the entry point for the cost ledger service.
//
// The service consumes pipeline events from the shared Redis Stream, prices
// them into the PostgreSQL ledger, and serves the read/write HTTP API. It is
// designed for production operation with:
//
// - Graceful shutdown on SIGTERM/SIGINT (in-flight handlers are awaited)
// - Health and readiness endpoints for load balancers
// - Prometheus metrics endpoint for monitoring
// - Structured logging with configurable levels
//
// Startup order:
// 1. Load configuration from env into an explicit Config
// 2. Connect Redis (event log + alert state) and PostgreSQL (ledger store)
// 3. Load the immutable pricing table
// 4. Wire recorder, aggregator, dispatcher, consumer, budget monitor
// 5. Start the ingestion loop, the monitor and the HTTP server
// 6. Wait for a shutdown signal, then drain in reverse order
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/reelforge/ledger/internal/alerts"
	"github.com/reelforge/ledger/internal/api"
	"github.com/reelforge/ledger/internal/config"
	"github.com/reelforge/ledger/internal/consumer"
	"github.com/reelforge/ledger/internal/events"
	"github.com/reelforge/ledger/internal/ledger"
	"github.com/reelforge/ledger/internal/pricing"
	"github.com/reelforge/ledger/internal/store"
	"github.com/reelforge/ledger/internal/stream"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := setupLogger(cfg.LogLevel, cfg.Environment)
	logger.Info().
		Str("environment", cfg.Environment).
		Str("http_port", cfg.HTTPPort).
		Str("stream", cfg.StreamName).
		Str("group", cfg.ConsumerGroup).
		Str("consumer", cfg.ConsumerName).
		Msg("starting cost ledger service")

	// Redis carries the event log and the budget alert edge state.
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  cfg.BlockTimeout + 5*time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	cancel()
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	pg, err := store.NewPostgres(cfg.PostgresURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pg.Close()

	table, err := pricing.Load(cfg.PricingFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load pricing table")
	}
	logger.Info().Int("rates", len(table.Rates())).Msg("pricing table loaded")

	recorder := ledger.NewRecorder(pg, table, logger)
	aggregator := ledger.NewAggregator(pg, cfg.RankedListSize)
	dispatcher := events.NewDispatcher(recorder, logger)

	eventLog := stream.NewRedisLog(redisClient, stream.Options{
		Stream:         cfg.StreamName,
		Group:          cfg.ConsumerGroup,
		Consumer:       cfg.ConsumerName,
		BatchSize:      cfg.BatchSize,
		BlockTimeout:   cfg.BlockTimeout,
		ReclaimMinIdle: cfg.ReclaimMinIdle,
	}, logger)

	cons := consumer.New(eventLog, dispatcher.Dispatch, consumer.Options{
		RetryBackoff:    cfg.RetryBackoff,
		ReclaimInterval: cfg.ReclaimInterval,
	}, logger)
	cons.Start()

	monitor := alerts.NewMonitor(pg, alerts.NewRedisLevelStore(redisClient), cfg.BudgetThresholds, cfg.AlertPollInterval, logger)
	monitor.Start()

	readyCheck := func(r *http.Request) error {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		return pg.DB().PingContext(ctx)
	}

	handler := api.NewHandler(aggregator, recorder, table, monitor, readyCheck, logger)
	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.HTTPPort).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received, starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown failed")
	}
	logger.Info().Msg("http server stopped")

	// Consumer first: let the in-flight blocking read return and await any
	// in-flight handler before the stores go away.
	cons.Stop()
	monitor.Stop()

	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close failed")
	}

	logger.Info().Msg("shutdown complete")
}

// setupLogger creates a structured logger with appropriate configuration.
func setupLogger(levelStr, environment string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// Pretty console output in development, JSON in production.
	if environment == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(level).
			With().
			Timestamp().
			Caller().
			Logger()
	}

	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "cost-ledger").
		Str("environment", environment).
		Logger()
}
