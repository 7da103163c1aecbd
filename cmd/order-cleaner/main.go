// Package main deletes orders that were created but never reached the
// broker, dependents first, and closes transactions left with no orders. By
// default it runs one pass and exits; with -every it keeps running on a
// ticker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/stratalab/tradexec/internal/adapters/outbound/memory"
	"github.com/stratalab/tradexec/internal/adapters/outbound/postgres"
	"github.com/stratalab/tradexec/internal/adapters/outbound/telemetry"
	"github.com/stratalab/tradexec/internal/pkg/env"
	"github.com/stratalab/tradexec/internal/ports/outbound"
	"github.com/stratalab/tradexec/internal/services/ordercleanup"
	"github.com/stratalab/tradexec/internal/services/shared"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	dbURL     string
	olderThan time.Duration
	every     time.Duration
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("order-cleaner", flag.ContinueOnError)
	dbURL := fs.String("db", "", "PostgreSQL connection URL")
	olderThan := fs.Duration("older-than", 72*time.Hour, "age before an unsubmitted order is deleted")
	every := fs.Duration("every", 0, "run on a ticker instead of once (0 runs once)")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		dbURL:     *dbURL,
		olderThan: *olderThan,
		every:     *every,
	}

	if cfg.dbURL == "" {
		cfg.dbURL = env.Get("DATABASE_URL", "")
	}
	if cfg.olderThan <= 0 {
		return cliConfig{}, fmt.Errorf("older-than must be positive, got %s", cfg.olderThan)
	}

	return cfg, nil
}

func run(ctx context.Context, args []string) error {
	// Load environment
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	metricsShutdown, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    "order-cleaner",
		ServiceVersion: env.Get("SERVICE_VERSION", "dev"),
		Environment:    env.Get("ENVIRONMENT", "development"),
		OTLPEndpoint:   env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer shutdownTelemetry(logger, metricsShutdown)

	appTel, err := shared.NewAppTelemetry()
	if err != nil {
		return fmt.Errorf("creating telemetry: %w", err)
	}

	var (
		txm          outbound.TxManager
		orders       outbound.OrderRepository
		transactions outbound.TransactionRepository
	)
	if cfg.dbURL != "" {
		pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.dbURL))
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()

		if txm, err = postgres.NewTxManager(pool, logger); err != nil {
			return fmt.Errorf("creating tx manager: %w", err)
		}
		if orders, err = postgres.NewOrderRepository(pool, logger); err != nil {
			return fmt.Errorf("creating order repository: %w", err)
		}
		if transactions, err = postgres.NewTransactionRepository(pool, logger); err != nil {
			return fmt.Errorf("creating transaction repository: %w", err)
		}
		logger.Info("PostgreSQL connected")
	} else {
		store := memory.NewStore()
		txm = store
		orders = store.Orders()
		transactions = store.Transactions()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	cleaner, err := ordercleanup.NewCleaner(ordercleanup.Config{
		Interval:  cfg.every,
		OlderThan: cfg.olderThan,
		Logger:    logger,
		Metrics:   appTel,
	}, txm, orders, transactions)
	if err != nil {
		return fmt.Errorf("creating cleaner: %w", err)
	}

	if cfg.every <= 0 {
		stats, err := cleaner.CleanUnsubmittedOrders(ctx, cfg.olderThan)
		if err != nil {
			return fmt.Errorf("cleaning orders: %w", err)
		}
		logger.Info("cleanup pass finished",
			"examined", stats.OrdersExamined,
			"deleted", stats.OrdersDeleted,
			"transactionsClosed", stats.TransactionsClosed,
		)
		return nil
	}

	if err := cleaner.Start(ctx); err != nil {
		return fmt.Errorf("starting cleaner: %w", err)
	}

	logger.Info("order cleaner started", "every", cfg.every, "olderThan", cfg.olderThan)

	// Block until context is cancelled (signal or test cancellation).
	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer shutdownCancel()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		if err := cleaner.Stop(); err != nil {
			logger.Error("error stopping cleaner", "error", err)
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timed out")
	}

	return nil
}

// shutdownTelemetry flushes a telemetry provider with a bounded deadline.
func shutdownTelemetry(logger *slog.Logger, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("telemetry shutdown failed", "error", err)
	}
}
