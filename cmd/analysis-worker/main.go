// Package main runs the analysis worker: a fairness-aware worker pool that
// processes recommendations per expert and use case, turns them into orders
// through the rule and risk ports, submits the funded ones and sweeps their
// protective legs. Analysis tasks are enqueued periodically for every
// enabled expert.
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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/stratalab/tradexec/internal/adapters/outbound/alpaca"
	"github.com/stratalab/tradexec/internal/adapters/outbound/memory"
	"github.com/stratalab/tradexec/internal/adapters/outbound/postgres"
	redisadapter "github.com/stratalab/tradexec/internal/adapters/outbound/redis"
	snsadapter "github.com/stratalab/tradexec/internal/adapters/outbound/sns"
	"github.com/stratalab/tradexec/internal/adapters/outbound/telemetry"
	"github.com/stratalab/tradexec/internal/pkg/env"
	"github.com/stratalab/tradexec/internal/pkg/keylock"
	"github.com/stratalab/tradexec/internal/ports/outbound"
	"github.com/stratalab/tradexec/internal/scheduler"
	"github.com/stratalab/tradexec/internal/services/ordersubmit"
	"github.com/stratalab/tradexec/internal/services/recommendation"
	"github.com/stratalab/tradexec/internal/services/shared"
	"github.com/stratalab/tradexec/internal/services/trigger_engine"
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
	dbURL      string
	topicARN   string
	workers    int
	every      time.Duration
	takeProfit float64
	stopLoss   float64
	quantity   int64
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("analysis-worker", flag.ContinueOnError)
	dbURL := fs.String("db", "", "PostgreSQL connection URL")
	workers := fs.Int("workers", 0, "concurrent task runners")
	every := fs.Duration("every", 0, "how often analysis tasks are enqueued")
	takeProfit := fs.Float64("take-profit", 5.0, "bracket take-profit percent for the built-in rule engine")
	stopLoss := fs.Float64("stop-loss", 2.0, "bracket stop-loss percent for the built-in rule engine")
	quantity := fs.Int64("quantity", 1, "order quantity assigned by the built-in risk manager")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		dbURL:      *dbURL,
		workers:    *workers,
		every:      *every,
		takeProfit: *takeProfit,
		stopLoss:   *stopLoss,
		quantity:   *quantity,
	}

	if cfg.dbURL == "" {
		cfg.dbURL = env.Get("DATABASE_URL", "")
	}
	if cfg.workers == 0 {
		cfg.workers = env.GetInt("ANALYSIS_WORKERS", 0)
	}
	if cfg.every == 0 {
		cfg.every = env.GetDuration("ANALYSIS_INTERVAL", time.Minute)
	}
	if cfg.every <= 0 {
		return cliConfig{}, fmt.Errorf("analysis interval must be positive, got %s", cfg.every)
	}
	if cfg.quantity <= 0 {
		return cliConfig{}, fmt.Errorf("quantity must be positive, got %d", cfg.quantity)
	}
	cfg.topicARN = env.Get("AWS_SNS_TOPIC_ARN", "")

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

	logger.Info("starting analysis worker", "every", cfg.every)

	metricsShutdown, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    "analysis-worker",
		ServiceVersion: env.Get("SERVICE_VERSION", "dev"),
		Environment:    env.Get("ENVIRONMENT", "development"),
		OTLPEndpoint:   env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer shutdownTelemetry(logger, metricsShutdown)

	if jaeger := env.Get("JAEGER_ENDPOINT", ""); jaeger != "" {
		tracerShutdown, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
			ServiceName:    "analysis-worker",
			ServiceVersion: env.Get("SERVICE_VERSION", "dev"),
			Environment:    env.Get("ENVIRONMENT", "development"),
			JaegerEndpoint: jaeger,
		})
		if err != nil {
			return fmt.Errorf("initializing tracer: %w", err)
		}
		defer shutdownTelemetry(logger, tracerShutdown)
	}

	appTel, err := shared.NewAppTelemetry()
	if err != nil {
		return fmt.Errorf("creating telemetry: %w", err)
	}

	var (
		txm             outbound.TxManager
		orders          outbound.OrderRepository
		transactions    outbound.TransactionRepository
		experts         outbound.ExpertRepository
		recommendations outbound.RecommendationRepository
		audits          outbound.AuditRepository
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
		if experts, err = postgres.NewExpertRepository(pool, logger); err != nil {
			return fmt.Errorf("creating expert repository: %w", err)
		}
		if recommendations, err = postgres.NewRecommendationRepository(pool, logger); err != nil {
			return fmt.Errorf("creating recommendation repository: %w", err)
		}
		if audits, err = postgres.NewAuditRepository(pool, logger); err != nil {
			return fmt.Errorf("creating audit repository: %w", err)
		}
		logger.Info("PostgreSQL connected")
	} else {
		store := memory.NewStore()
		txm = store
		orders = store.Orders()
		transactions = store.Transactions()
		experts = store.Experts()
		recommendations = store.Recommendations()
		audits = store.Audits()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	var snapshots outbound.OrderSnapshotCache
	if addr := env.Get("REDIS_ADDR", ""); addr != "" {
		cache, err := redisadapter.NewSnapshotCache(redisadapter.Config{
			Addr:     addr,
			Password: env.Get("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
		}, logger)
		if err != nil {
			return fmt.Errorf("creating snapshot cache: %w", err)
		}
		defer cache.Close()
		if err := cache.Ping(ctx); err != nil {
			return fmt.Errorf("pinging redis: %w", err)
		}
		snapshots = cache
		logger.Info("Redis connected", "addr", addr)
	} else {
		snapshots = memory.NewOrderSnapshotCache()
	}

	var events outbound.EventSink
	if cfg.topicARN != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(env.Get("AWS_REGION", "eu-west-1")),
		)
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
		var snsOptFns []func(*awssns.Options)
		if endpoint := env.Get("AWS_SNS_ENDPOINT", ""); endpoint != "" {
			snsOptFns = append(snsOptFns, func(o *awssns.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			})
		}
		sink, err := snsadapter.NewEventSink(awssns.NewFromConfig(awsCfg, snsOptFns...), snsadapter.Config{
			TopicARN: cfg.topicARN,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("creating event sink: %w", err)
		}
		events = sink
	} else {
		events = memory.NewEventSink()
		logger.Warn("AWS_SNS_TOPIC_ARN not set, order events stay in memory")
	}

	var gateway outbound.AccountGateway
	if apiKey := env.Get("ALPACA_API_KEY", ""); apiKey != "" {
		broker, err := alpaca.NewGateway(alpaca.Config{
			APIKey:    apiKey,
			APISecret: env.Get("ALPACA_API_SECRET", ""),
			BaseURL:   env.Get("ALPACA_BASE_URL", ""),
			Logger:    logger,
		}, orders, transactions, snapshots, events)
		if err != nil {
			return fmt.Errorf("creating broker gateway: %w", err)
		}
		gateway = broker
		logger.Info("Alpaca gateway ready")
	} else {
		gateway = memory.NewAccountGateway()
		logger.Warn("ALPACA_API_KEY not set, orders fill against the in-memory broker")
	}

	resolver, err := ordersubmit.NewExpertAccountResolver(experts)
	if err != nil {
		return fmt.Errorf("creating account resolver: %w", err)
	}

	submitter, err := ordersubmit.NewSubmitter(ordersubmit.Config{
		Logger:  logger,
		Metrics: appTel,
	}, resolver, gateway, orders, events)
	if err != nil {
		return fmt.Errorf("creating submitter: %w", err)
	}

	// The engine here only serves the closing sweep after a round of
	// submissions. Periodic sweeps and the reactive path belong to the
	// trigger worker.
	sweeper, err := trigger_engine.NewEngine(trigger_engine.Config{
		Logger:  logger,
		Metrics: appTel,
	}, txm, orders, transactions, submitter, nil, events)
	if err != nil {
		return fmt.Errorf("creating trigger sweeper: %w", err)
	}

	rules := memory.NewRuleEngine(cfg.takeProfit, cfg.stopLoss)
	risk, err := memory.NewRiskManager(orders, decimal.NewFromInt(cfg.quantity))
	if err != nil {
		return fmt.Errorf("creating risk manager: %w", err)
	}

	queue := scheduler.NewFairQueue()
	pool, err := scheduler.NewWorkerPool(queue, scheduler.Config{
		Workers: cfg.workers,
		Logger:  logger,
		Metrics: appTel,
	})
	if err != nil {
		return fmt.Errorf("creating worker pool: %w", err)
	}

	processor, err := recommendation.NewProcessor(recommendation.Config{
		Logger: logger,
	}, keylock.NewTable(), txm, experts, recommendations, orders, transactions,
		audits, rules, risk, submitter, sweeper, pool)
	if err != nil {
		return fmt.Errorf("creating processor: %w", err)
	}

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}
	go dispatchLoop(ctx, logger, pool, experts, processor, cfg.every)

	logger.Info("analysis worker started")

	// Block until context is cancelled (signal or test cancellation).
	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer shutdownCancel()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		pool.Stop()
	}()

	select {
	case <-shutdownDone:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timed out")
	}

	return nil
}

// dispatchLoop enqueues analysis tasks immediately and then on every tick.
func dispatchLoop(ctx context.Context, logger *slog.Logger, pool *scheduler.WorkerPool, experts outbound.ExpertRepository, processor *recommendation.Processor, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		dispatchTasks(ctx, logger, pool, experts, processor)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatchTasks enqueues one task per enabled expert and configured use
// case. Task IDs are stable, so a task still queued from the previous tick
// is not enqueued twice.
func dispatchTasks(ctx context.Context, logger *slog.Logger, pool *scheduler.WorkerPool, experts outbound.ExpertRepository, processor *recommendation.Processor) {
	all, err := experts.List(ctx)
	if err != nil {
		logger.Error("listing experts", "error", err)
		return
	}

	for _, expert := range all {
		if !expert.AutoTradingEnabled {
			continue
		}
		for useCase := range expert.RuleSets {
			expertID := expert.ID
			uc := useCase
			task := &scheduler.Task{
				ID:       fmt.Sprintf("analysis-%d-%s", expertID, uc),
				OwnerID:  expertID,
				UseCase:  uc,
				Priority: taskPriority(uc),
				Run: func(ctx context.Context) error {
					_, err := processor.ProcessRecommendations(ctx, expertID, uc)
					return err
				},
			}
			if err := pool.Submit(task); err != nil {
				logger.Debug("task not enqueued", "taskId", task.ID, "error", err)
			}
		}
	}
}

// taskPriority orders use cases within one expert: managing live positions
// beats entering new ones.
func taskPriority(useCase string) int {
	if useCase == "manage_position" {
		return 0
	}
	return 1
}

// shutdownTelemetry flushes a telemetry provider with a bounded deadline.
func shutdownTelemetry(logger *slog.Logger, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("telemetry shutdown failed", "error", err)
	}
}
