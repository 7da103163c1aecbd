package scheduler

import (
	"context"
	"time"
)

// Task is one unit of analysis work owned by an expert. The queue orders
// tasks by owner fairness first, then Priority, then arrival. Run receives
// the pool's context and should return promptly once it is cancelled.
type Task struct {
	ID       string
	OwnerID  int64
	UseCase  string
	Priority int // lower runs first within an owner
	Run      func(ctx context.Context) error

	// assigned by the queue on Enqueue
	seq        uint64
	EnqueuedAt time.Time
}

// TaskState is one row of the live task table: what a worker is running
// right now.
type TaskState struct {
	Worker    int
	TaskID    string
	OwnerID   int64
	UseCase   string
	StartedAt time.Time
}
