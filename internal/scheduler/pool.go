package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Config holds configuration for the worker pool.
type Config struct {
	// Workers is the number of concurrent task runners.
	Workers int

	// PollInterval is how long an idle worker sleeps before re-checking the
	// queue when no wake signal arrives.
	PollInterval time.Duration

	// Logger is the structured logger for the pool.
	Logger *slog.Logger

	// Metrics records task outcomes and queue depth. Optional.
	Metrics outbound.MetricsRecorder
}

func configDefaults() Config {
	return Config{
		Workers:      4,
		PollInterval: 50 * time.Millisecond,
		Logger:       slog.Default(),
	}
}

// WorkerPool executes tasks from a FairQueue. Each worker dequeues, runs the
// task with panic recovery, and reports completion back to the queue so the
// fairness accounting stays correct. Stop lets running tasks finish; queued
// tasks stay queued.
type WorkerPool struct {
	config  Config
	queue   *FairQueue
	logger  *slog.Logger
	metrics outbound.MetricsRecorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}

	mu      sync.Mutex
	running map[int]TaskState
	started bool
}

// NewWorkerPool creates a worker pool reading from queue.
func NewWorkerPool(queue *FairQueue, config Config) (*WorkerPool, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}

	defaults := configDefaults()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &WorkerPool{
		config:  config,
		queue:   queue,
		logger:  config.Logger.With("component", "worker-pool"),
		metrics: config.Metrics,
		wake:    make(chan struct{}, 1),
		running: make(map[int]TaskState),
	}, nil
}

// Start launches the workers. It returns an error if the pool is already
// running.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("worker pool already started")
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info("worker pool started", "workers", p.config.Workers)
	return nil
}

// Stop cancels the workers and waits for running tasks to finish. Queued
// tasks stay queued.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped", "queued", p.queue.Len())
}

// Submit enqueues a task and wakes an idle worker.
func (p *WorkerPool) Submit(task *Task) error {
	if err := p.queue.Enqueue(task); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordQueueDepth(context.Background(), p.queue.Len())
	}

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Snapshot returns the live task table, ordered by worker index.
func (p *WorkerPool) Snapshot() []TaskState {
	p.mu.Lock()
	defer p.mu.Unlock()

	states := make([]TaskState, 0, len(p.running))
	for _, st := range p.running {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Worker < states[j].Worker })
	return states
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		task, ok := p.queue.Dequeue()
		if !ok {
			select {
			case <-p.ctx.Done():
				return
			case <-p.wake:
			case <-time.After(p.config.PollInterval):
			}
			continue
		}

		p.runTask(id, task)
	}
}

// runTask executes one task with panic recovery. The fairness accounting
// (TaskDone) and the task-table entry are settled in the deferred block so
// they survive panics.
func (p *WorkerPool) runTask(workerID int, task *Task) {
	start := time.Now()

	p.mu.Lock()
	p.running[workerID] = TaskState{
		Worker:    workerID,
		TaskID:    task.ID,
		OwnerID:   task.OwnerID,
		UseCase:   task.UseCase,
		StartedAt: start,
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.running, workerID)
		p.mu.Unlock()
		p.queue.TaskDone(task.OwnerID)

		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				"taskId", task.ID,
				"ownerId", task.OwnerID,
				"useCase", task.UseCase,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			if p.metrics != nil {
				p.metrics.RecordTaskProcessed(context.Background(), task.UseCase, "panic", time.Since(start))
			}
		}
	}()

	err := task.Run(p.ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		p.logger.Error("task failed",
			"taskId", task.ID,
			"ownerId", task.OwnerID,
			"useCase", task.UseCase,
			"error", err,
		)
	} else {
		p.logger.Debug("task completed",
			"taskId", task.ID,
			"ownerId", task.OwnerID,
			"duration", time.Since(start),
		)
	}
	if p.metrics != nil {
		p.metrics.RecordTaskProcessed(context.Background(), task.UseCase, outcome, time.Since(start))
	}
}
