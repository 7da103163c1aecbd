// Package retry provides a reusable retry mechanism with exponential backoff.
//
// Broker and messaging adapters share this to handle transient failures the
// same way: bounded attempts, exponential backoff, optional jitter.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Config holds configuration for retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Zero means the operation runs exactly once.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth of the delay.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to the delay after each retry.
	BackoffFactor float64

	// Jitter, when true, extends each delay by rand(0, delay) to spread out
	// competing retriers.
	Jitter bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	return c
}

// IsRetryableFunc decides whether an error is worth another attempt.
type IsRetryableFunc func(error) bool

// OnRetryFunc is called before each retry attempt, for logging or metrics.
// attempt is 1-indexed.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// backoff yields the growing delay between attempts.
type backoff struct {
	cfg  Config
	next time.Duration
}

func newBackoff(cfg Config) *backoff {
	return &backoff{cfg: cfg, next: cfg.InitialBackoff}
}

// delay returns the wait before the next attempt and advances the schedule.
func (b *backoff) delay() time.Duration {
	d := b.next
	if b.cfg.Jitter {
		d += time.Duration(rand.Int63n(int64(b.next)))
	}

	b.next = time.Duration(float64(b.next) * b.cfg.BackoffFactor)
	if b.next > b.cfg.MaxBackoff {
		b.next = b.cfg.MaxBackoff
	}
	return d
}

// sleep waits for d unless the context ends first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while retrying: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Do executes fn, retrying on errors isRetryable accepts. It returns fn's
// result, or the last error once retries are exhausted. fn runs at least
// once; a non-retryable error returns immediately.
func Do[T any](
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() (T, error),
) (T, error) {
	var zero T

	cfg = cfg.withDefaults()
	wait := newBackoff(cfg)

	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !isRetryable(err) {
			return zero, err
		}

		lastErr = err
		if attempt == cfg.MaxRetries {
			break
		}

		d := wait.delay()
		if onRetry != nil {
			onRetry(attempt+1, lastErr, d)
		}
		if err := sleep(ctx, d); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("operation failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// DoVoid is like Do but for functions that don't return a value.
func DoVoid(
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() error,
) error {
	_, err := Do(ctx, cfg, isRetryable, onRetry, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
