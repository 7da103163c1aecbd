// Package main runs the order dependency trigger engine: periodic sweeps
// over waiting dependents plus the reactive path fed by the order-events
// queue. Orders released by a sweep are submitted to the broker outside the
// database transaction.
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
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/stratalab/tradexec/internal/adapters/outbound/alpaca"
	"github.com/stratalab/tradexec/internal/adapters/outbound/memory"
	"github.com/stratalab/tradexec/internal/adapters/outbound/postgres"
	redisadapter "github.com/stratalab/tradexec/internal/adapters/outbound/redis"
	snsadapter "github.com/stratalab/tradexec/internal/adapters/outbound/sns"
	sqsadapter "github.com/stratalab/tradexec/internal/adapters/outbound/sqs"
	"github.com/stratalab/tradexec/internal/adapters/outbound/telemetry"
	"github.com/stratalab/tradexec/internal/pkg/env"
	"github.com/stratalab/tradexec/internal/ports/outbound"
	"github.com/stratalab/tradexec/internal/services/ordersubmit"
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
	dbURL         string
	queueURL      string
	topicARN      string
	sweepInterval time.Duration
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("trigger-worker", flag.ContinueOnError)
	dbURL := fs.String("db", "", "PostgreSQL connection URL")
	queueURL := fs.String("queue", "", "SQS queue URL for order status events")
	sweepInterval := fs.Duration("sweep", 0, "periodic sweep interval")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		dbURL:         *dbURL,
		queueURL:      *queueURL,
		sweepInterval: *sweepInterval,
	}

	if cfg.dbURL == "" {
		cfg.dbURL = env.Get("DATABASE_URL", "")
	}
	if cfg.queueURL == "" {
		cfg.queueURL = env.Get("AWS_SQS_QUEUE_URL", "")
	}
	if cfg.sweepInterval == 0 {
		cfg.sweepInterval = env.GetDuration("TRIGGER_SWEEP_INTERVAL", 0)
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

	logger.Info("starting trigger worker", "reactive", cfg.queueURL != "")

	metricsShutdown, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    "trigger-worker",
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
			ServiceName:    "trigger-worker",
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
		txm          outbound.TxManager
		orders       outbound.OrderRepository
		transactions outbound.TransactionRepository
		experts      outbound.ExpertRepository
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
		logger.Info("PostgreSQL connected")
	} else {
		store := memory.NewStore()
		txm = store
		orders = store.Orders()
		transactions = store.Transactions()
		experts = store.Experts()
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

	var awsCfg aws.Config
	if cfg.queueURL != "" || cfg.topicARN != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(env.Get("AWS_REGION", "eu-west-1")),
		)
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
	}

	var events outbound.EventSink
	if cfg.topicARN != "" {
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

	var consumer outbound.QueueConsumer
	if cfg.queueURL != "" {
		var sqsOptFns []func(*awssqs.Options)
		if endpoint := env.Get("AWS_SQS_ENDPOINT", ""); endpoint != "" {
			sqsOptFns = append(sqsOptFns, func(o *awssqs.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			})
		}
		consumer, err = sqsadapter.NewConsumerWithOptions(awsCfg, sqsadapter.Config{
			QueueURL: cfg.queueURL,
		}, logger, sqsOptFns...)
		if err != nil {
			return fmt.Errorf("creating SQS consumer: %w", err)
		}
	}

	engine, err := trigger_engine.NewEngine(trigger_engine.Config{
		SweepInterval: cfg.sweepInterval,
		Logger:        logger,
		Metrics:       appTel,
	}, txm, orders, transactions, submitter, consumer, events)
	if err != nil {
		return fmt.Errorf("creating trigger engine: %w", err)
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("starting trigger engine: %w", err)
	}

	logger.Info("trigger worker started")

	// Block until context is cancelled (signal or test cancellation).
	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer shutdownCancel()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		if err := engine.Stop(); err != nil {
			logger.Error("error stopping engine", "error", err)
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
