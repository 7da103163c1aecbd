// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"time"
)

// MetricsRecorder provides an interface for recording application metrics.
// This allows services to record metrics without depending on specific
// telemetry implementations.
type MetricsRecorder interface {
	// RecordTaskProcessed records one scheduler task completion.
	// outcome is "ok", "error", or "panic".
	RecordTaskProcessed(ctx context.Context, useCase, outcome string, duration time.Duration)

	// RecordQueueDepth records the current number of queued tasks.
	RecordQueueDepth(ctx context.Context, depth int)

	// RecordTriggerSweep records the result of one trigger sweep.
	RecordTriggerSweep(ctx context.Context, released, errored, synced int)

	// RecordOrderSubmitted records one broker submission attempt.
	// outcome is "ok" or "error".
	RecordOrderSubmitted(ctx context.Context, symbol, outcome string)

	// RecordOrdersCleaned records how many orders a cleanup pass deleted.
	RecordOrdersCleaned(ctx context.Context, count int)
}
