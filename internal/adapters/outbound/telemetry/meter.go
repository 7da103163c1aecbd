package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/sdk/metric"
)

// MetricConfig holds configuration for the meter provider.
type MetricConfig struct {
	// ServiceName identifies the worker in metric backends.
	ServiceName string

	// ServiceVersion tags every exported series with the build version.
	ServiceVersion string

	// Environment separates staging and production series.
	Environment string

	// OTLPEndpoint is the OTLP gRPC endpoint. Without one the global no-op
	// provider stays installed and recorded metrics are dropped.
	OTLPEndpoint string

	// CollectInterval is how often accumulated metrics are exported.
	// Defaults to 15s.
	CollectInterval time.Duration
}

// noopShutdown stands in for a provider shutdown when export is disabled.
func noopShutdown(context.Context) error { return nil }

// InitMetrics installs the global meter provider. The returned shutdown
// flushes pending metrics and must be called on exit.
func InitMetrics(ctx context.Context, cfg MetricConfig) (shutdown func(context.Context) error, err error) {
	if cfg.OTLPEndpoint == "" {
		return noopShutdown, nil
	}
	if cfg.CollectInterval <= 0 {
		cfg.CollectInterval = 15 * time.Second
	}

	res, err := newResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry resource: %w", err)
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	reader := metric.NewPeriodicReader(exporter, metric.WithInterval(cfg.CollectInterval))
	mp := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader))
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}
