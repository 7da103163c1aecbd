package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errThrottled = errors.New("throttled")
	errFatal     = errors.New("fatal")
)

func isThrottled(err error) bool {
	return errors.Is(err, errThrottled)
}

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestDoFirstAttemptSucceeds(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(), isThrottled, nil, func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(), isThrottled, nil, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errThrottled
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7 {
		t.Errorf("got %d, want 7", got)
	}
	if calls != 3 {
		t.Errorf("got %d calls, want 3", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(), isThrottled, nil, func() (int, error) {
		calls++
		return 0, errFatal
	})
	if !errors.Is(err, errFatal) {
		t.Fatalf("got error %v, want errFatal", err)
	}
	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(), isThrottled, nil, func() (int, error) {
		calls++
		return 0, errThrottled
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !errors.Is(err, errThrottled) {
		t.Errorf("error should wrap the last failure, got %v", err)
	}
	if calls != 4 {
		t.Errorf("got %d calls, want 4 (initial + 3 retries)", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, BackoffFactor: 2.0}

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, cfg, isThrottled, nil, func() (int, error) {
			return 0, errThrottled
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got error %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
}

func TestDoCallsOnRetry(t *testing.T) {
	var attempts []int
	onRetry := func(attempt int, err error, backoff time.Duration) {
		attempts = append(attempts, attempt)
	}
	calls := 0
	_, err := Do(context.Background(), fastConfig(), isThrottled, onRetry, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errThrottled
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("got onRetry attempts %v, want [1 2]", attempts)
	}
}

func TestDoVoid(t *testing.T) {
	calls := 0
	err := DoVoid(context.Background(), fastConfig(), isThrottled, nil, func() error {
		calls++
		if calls == 1 {
			return errThrottled
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("got %d calls, want 2", calls)
	}
}
