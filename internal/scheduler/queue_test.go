package scheduler

import (
	"context"
	"fmt"
	"testing"
)

func noopRun(ctx context.Context) error { return nil }

func mustEnqueue(t *testing.T, q *FairQueue, id string, owner int64, priority int) {
	t.Helper()
	err := q.Enqueue(&Task{ID: id, OwnerID: owner, UseCase: "enter_trade", Priority: priority, Run: noopRun})
	if err != nil {
		t.Fatalf("Enqueue(%s) failed: %v", id, err)
	}
}

func drainOwners(t *testing.T, q *FairQueue, n int, taskDone bool) []int64 {
	t.Helper()
	owners := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		task, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue %d returned empty, want a task", i)
		}
		owners = append(owners, task.OwnerID)
		if taskDone {
			q.TaskDone(task.OwnerID)
		}
	}
	return owners
}

func TestEnqueueValidation(t *testing.T) {
	q := NewFairQueue()

	tests := []struct {
		name string
		task *Task
	}{
		{name: "nil task", task: nil},
		{name: "empty ID", task: &Task{OwnerID: 1, Run: noopRun}},
		{name: "zero owner", task: &Task{ID: "t1", Run: noopRun}},
		{name: "nil run", task: &Task{ID: "t1", OwnerID: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := q.Enqueue(tt.task); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestEnqueueRejectsDuplicateID(t *testing.T) {
	q := NewFairQueue()
	mustEnqueue(t, q, "t1", 1, 0)

	err := q.Enqueue(&Task{ID: "t1", OwnerID: 1, Run: noopRun})
	if err == nil {
		t.Fatal("expected error for duplicate ID, got nil")
	}

	// Once dequeued, the ID may be reused.
	if _, ok := q.Dequeue(); !ok {
		t.Fatal("expected a task")
	}
	mustEnqueue(t, q, "t1", 1, 0)
}

func TestDequeueEmpty(t *testing.T) {
	q := NewFairQueue()
	if task, ok := q.Dequeue(); ok {
		t.Fatalf("Dequeue on empty queue returned task %v", task.ID)
	}
}

func TestFairnessAlternatesOwnersWhileRunning(t *testing.T) {
	// All of owner 1's tasks enqueued first; no TaskDone calls, so in-flight
	// counts accumulate and force alternation.
	q := NewFairQueue()
	for i := 0; i < 3; i++ {
		mustEnqueue(t, q, fmt.Sprintf("a%d", i), 1, 0)
	}
	for i := 0; i < 3; i++ {
		mustEnqueue(t, q, fmt.Sprintf("b%d", i), 2, 0)
	}

	got := drainOwners(t, q, 6, false)
	want := []int64{1, 2, 1, 2, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dequeue order = %v, want %v", got, want)
		}
	}
}

func TestFairnessAlternatesOwnersSequential(t *testing.T) {
	// TaskDone after every dequeue: selection falls through to the
	// least-recently-served rule and still alternates.
	q := NewFairQueue()
	for i := 0; i < 3; i++ {
		mustEnqueue(t, q, fmt.Sprintf("a%d", i), 1, 0)
		mustEnqueue(t, q, fmt.Sprintf("b%d", i), 2, 0)
	}

	got := drainOwners(t, q, 6, true)
	want := []int64{1, 2, 1, 2, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dequeue order = %v, want %v", got, want)
		}
	}
}

func TestPriorityWithinOwner(t *testing.T) {
	q := NewFairQueue()
	mustEnqueue(t, q, "B", 1, 3)
	mustEnqueue(t, q, "C", 1, 1)
	mustEnqueue(t, q, "A", 1, 2)

	want := []string{"C", "A", "B"}
	for i, wantID := range want {
		task, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue %d returned empty", i)
		}
		if task.ID != wantID {
			t.Errorf("dequeue %d = %s, want %s", i, task.ID, wantID)
		}
	}
}

func TestFIFOWithinEqualPriority(t *testing.T) {
	q := NewFairQueue()
	for i := 0; i < 4; i++ {
		mustEnqueue(t, q, fmt.Sprintf("t%d", i), 1, 5)
	}

	for i := 0; i < 4; i++ {
		task, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue %d returned empty", i)
		}
		if want := fmt.Sprintf("t%d", i); task.ID != want {
			t.Errorf("dequeue %d = %s, want %s (FIFO)", i, task.ID, want)
		}
	}
}

func TestLoadAwareSelectionYieldsToIdleOwner(t *testing.T) {
	q := NewFairQueue()
	mustEnqueue(t, q, "a0", 1, 0)
	mustEnqueue(t, q, "a1", 1, 0)
	mustEnqueue(t, q, "a2", 1, 0)

	// Owner 1 accumulates two in-flight tasks.
	drainOwners(t, q, 2, false)
	if got := q.InFlight(1); got != 2 {
		t.Fatalf("InFlight(1) = %d, want 2", got)
	}

	// A task for idle owner 2 arrives later but wins the next dequeue.
	mustEnqueue(t, q, "b0", 2, 0)
	task, ok := q.Dequeue()
	if !ok {
		t.Fatal("expected a task")
	}
	if task.OwnerID != 2 {
		t.Errorf("dequeued owner %d, want 2 (idle owner should win)", task.OwnerID)
	}
}

func TestNeverServedOwnerRanksFirst(t *testing.T) {
	q := NewFairQueue()
	mustEnqueue(t, q, "a0", 1, 0)

	// Serve owner 1 once and finish the task so loads are equal again.
	drainOwners(t, q, 1, true)

	mustEnqueue(t, q, "a1", 1, 0)
	mustEnqueue(t, q, "b0", 2, 0)

	task, ok := q.Dequeue()
	if !ok {
		t.Fatal("expected a task")
	}
	if task.OwnerID != 2 {
		t.Errorf("dequeued owner %d, want 2 (never-served owner should win)", task.OwnerID)
	}
}

func TestSmallestOwnerIDBreaksTies(t *testing.T) {
	q := NewFairQueue()
	mustEnqueue(t, q, "b0", 7, 0)
	mustEnqueue(t, q, "a0", 3, 0)

	task, ok := q.Dequeue()
	if !ok {
		t.Fatal("expected a task")
	}
	if task.OwnerID != 3 {
		t.Errorf("dequeued owner %d, want 3 (smallest ID wins ties)", task.OwnerID)
	}
}

func TestTaskDoneFloorsAtZero(t *testing.T) {
	q := NewFairQueue()
	q.TaskDone(1)
	q.TaskDone(1)
	if got := q.InFlight(1); got != 0 {
		t.Errorf("InFlight(1) = %d, want 0", got)
	}
}

func TestLenAndOwnerBacklog(t *testing.T) {
	q := NewFairQueue()
	mustEnqueue(t, q, "a0", 1, 0)
	mustEnqueue(t, q, "a1", 1, 0)
	mustEnqueue(t, q, "b0", 2, 0)

	if got := q.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
	if got := q.OwnerBacklog(1); got != 2 {
		t.Errorf("OwnerBacklog(1) = %d, want 2", got)
	}
	if got := q.OwnerBacklog(9); got != 0 {
		t.Errorf("OwnerBacklog(9) = %d, want 0", got)
	}

	q.Dequeue()
	if got := q.Len(); got != 2 {
		t.Errorf("Len() after dequeue = %d, want 2", got)
	}
}
