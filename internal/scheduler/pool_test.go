package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestPool(t *testing.T, workers int) (*WorkerPool, *FairQueue) {
	t.Helper()
	q := NewFairQueue()
	pool, err := NewWorkerPool(q, Config{Workers: workers, PollInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewWorkerPool failed: %v", err)
	}
	return pool, q
}

func TestNewWorkerPoolRequiresQueue(t *testing.T) {
	if _, err := NewWorkerPool(nil, Config{}); err == nil {
		t.Fatal("expected error for nil queue")
	}
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	var mu sync.Mutex
	ran := make(map[string]bool)

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("t%d", i)
		err := pool.Submit(&Task{
			ID:      id,
			OwnerID: int64(i%3 + 1),
			UseCase: "enter_trade",
			Run: func(ctx context.Context) error {
				mu.Lock()
				ran[id] = true
				mu.Unlock()
				wg.Done()
				return nil
			},
		})
		if err != nil {
			t.Fatalf("Submit(%s) failed: %v", id, err)
		}
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not finish in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != n {
		t.Errorf("ran %d tasks, want %d", len(ran), n)
	}
}

func TestPoolRecoversFromPanic(t *testing.T) {
	pool, _ := newTestPool(t, 1)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	panicked := make(chan struct{})
	err := pool.Submit(&Task{
		ID:      "boom",
		OwnerID: 1,
		Run: func(ctx context.Context) error {
			close(panicked)
			panic("synthetic failure")
		},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case <-panicked:
	case <-time.After(time.Second):
		t.Fatal("panicking task never ran")
	}

	// The single worker must survive the panic and run the next task.
	ran := make(chan struct{})
	err = pool.Submit(&Task{
		ID:      "after",
		OwnerID: 1,
		Run: func(ctx context.Context) error {
			close(ran)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestPoolPanicReleasesFairnessSlot(t *testing.T) {
	pool, q := newTestPool(t, 1)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	done := make(chan struct{})
	_ = pool.Submit(&Task{ID: "boom", OwnerID: 1, Run: func(ctx context.Context) error { panic("x") }})
	_ = pool.Submit(&Task{ID: "next", OwnerID: 1, Run: func(ctx context.Context) error { close(done); return nil }})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second task never ran")
	}

	deadline := time.Now().Add(time.Second)
	for q.InFlight(1) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("InFlight(1) = %d, want 0 after tasks finished", q.InFlight(1))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPoolStopLeavesQueuedTasks(t *testing.T) {
	pool, q := newTestPool(t, 1)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	started := make(chan struct{})
	_ = pool.Submit(&Task{
		ID:      "blocker",
		OwnerID: 1,
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done() // released by Stop's cancel
			return nil
		},
	})
	<-started

	// These stay queued: the only worker is busy until the pool shuts down.
	_ = pool.Submit(&Task{ID: "q1", OwnerID: 1, Run: noopRun})
	_ = pool.Submit(&Task{ID: "q2", OwnerID: 2, Run: noopRun})

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	if got := q.Len(); got != 2 {
		t.Errorf("queue has %d tasks after Stop, want 2", got)
	}
}

func TestPoolSnapshot(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	_ = pool.Submit(&Task{
		ID:      "live",
		OwnerID: 42,
		UseCase: "enter_trade",
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	})
	<-started

	states := pool.Snapshot()
	if len(states) != 1 {
		t.Fatalf("Snapshot returned %d states, want 1", len(states))
	}
	if states[0].TaskID != "live" || states[0].OwnerID != 42 || states[0].UseCase != "enter_trade" {
		t.Errorf("unexpected state: %+v", states[0])
	}
	if states[0].StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for len(pool.Snapshot()) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Snapshot never drained after task finished")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPoolDoubleStartFails(t *testing.T) {
	pool, _ := newTestPool(t, 1)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	if err := pool.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}
