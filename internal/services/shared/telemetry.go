// Package shared provides shared utilities and instrumentation for application services.
package shared

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time assertion that AppTelemetry implements MetricsRecorder.
var _ outbound.MetricsRecorder = (*AppTelemetry)(nil)

const (
	// instrumentationName is the name used for OpenTelemetry instrumentation.
	instrumentationName = "github.com/stratalab/tradexec/internal/services"
)

// AppTelemetry provides OpenTelemetry metrics for application-level domain
// events: scheduler task outcomes, trigger sweeps, broker submissions, and
// cleanup passes. Adapter-level concerns (broker HTTP requests, queue
// round-trips) are not recorded here.
type AppTelemetry struct {
	meter metric.Meter

	tasksProcessed  metric.Int64Counter
	taskDuration    metric.Float64Histogram
	queueDepth      metric.Int64Gauge
	sweepsTotal     metric.Int64Counter
	ordersReleased  metric.Int64Counter
	ordersErrored   metric.Int64Counter
	ordersSynced    metric.Int64Counter
	ordersSubmitted metric.Int64Counter
	ordersCleaned   metric.Int64Counter
}

// NewAppTelemetry creates a new AppTelemetry instance with OpenTelemetry instrumentation.
// Uses the global meter provider by default.
func NewAppTelemetry() (*AppTelemetry, error) {
	return NewAppTelemetryWithProvider(otel.GetMeterProvider())
}

// NewAppTelemetryWithProvider creates a new AppTelemetry instance with a custom meter provider.
func NewAppTelemetryWithProvider(mp metric.MeterProvider) (*AppTelemetry, error) {
	meter := mp.Meter(instrumentationName)

	t := &AppTelemetry{
		meter: meter,
	}

	var err error

	t.tasksProcessed, err = meter.Int64Counter(
		"scheduler.tasks.processed.total",
		metric.WithDescription("Total number of scheduler tasks completed"),
	)
	if err != nil {
		return nil, err
	}

	t.taskDuration, err = meter.Float64Histogram(
		"scheduler.task.duration",
		metric.WithDescription("Time taken to run one scheduler task"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	t.queueDepth, err = meter.Int64Gauge(
		"scheduler.queue.depth",
		metric.WithDescription("Number of tasks currently queued"),
	)
	if err != nil {
		return nil, err
	}

	t.sweepsTotal, err = meter.Int64Counter(
		"trigger.sweeps.total",
		metric.WithDescription("Total number of trigger sweeps run"),
	)
	if err != nil {
		return nil, err
	}

	t.ordersReleased, err = meter.Int64Counter(
		"trigger.orders.released.total",
		metric.WithDescription("Total number of dependent orders released for submission"),
	)
	if err != nil {
		return nil, err
	}

	t.ordersErrored, err = meter.Int64Counter(
		"trigger.orders.errored.total",
		metric.WithDescription("Total number of orders that failed during a trigger sweep"),
	)
	if err != nil {
		return nil, err
	}

	t.ordersSynced, err = meter.Int64Counter(
		"trigger.orders.synced.total",
		metric.WithDescription("Total number of dependent orders moved to a terminal status with their parent"),
	)
	if err != nil {
		return nil, err
	}

	t.ordersSubmitted, err = meter.Int64Counter(
		"orders.submitted.total",
		metric.WithDescription("Total number of broker submission attempts"),
	)
	if err != nil {
		return nil, err
	}

	t.ordersCleaned, err = meter.Int64Counter(
		"orders.cleaned.total",
		metric.WithDescription("Total number of never-submitted orders deleted by cleanup"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// RecordTaskProcessed records one scheduler task completion.
func (t *AppTelemetry) RecordTaskProcessed(ctx context.Context, useCase, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("task.use_case", useCase),
		attribute.String("task.outcome", outcome),
	)
	t.tasksProcessed.Add(ctx, 1, attrs)
	t.taskDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordQueueDepth records the current number of queued tasks.
func (t *AppTelemetry) RecordQueueDepth(ctx context.Context, depth int) {
	t.queueDepth.Record(ctx, int64(depth))
}

// RecordTriggerSweep records the result of one trigger sweep.
func (t *AppTelemetry) RecordTriggerSweep(ctx context.Context, released, errored, synced int) {
	t.sweepsTotal.Add(ctx, 1)
	t.ordersReleased.Add(ctx, int64(released))
	t.ordersErrored.Add(ctx, int64(errored))
	t.ordersSynced.Add(ctx, int64(synced))
}

// RecordOrderSubmitted records one broker submission attempt.
func (t *AppTelemetry) RecordOrderSubmitted(ctx context.Context, symbol, outcome string) {
	t.ordersSubmitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("order.symbol", symbol),
		attribute.String("order.outcome", outcome),
	))
}

// RecordOrdersCleaned records how many orders a cleanup pass deleted.
func (t *AppTelemetry) RecordOrdersCleaned(ctx context.Context, count int) {
	t.ordersCleaned.Add(ctx, int64(count))
}
