// Package scheduler provides the fairness-aware task scheduler: a FairQueue
// that picks which owner runs next and a WorkerPool that executes tasks with
// panic isolation and a live task table.
package scheduler

import (
	"fmt"
	"sync"
	"time"
)

// FairQueue is an in-memory multi-owner task queue. Owner selection happens
// at dequeue time: the owner with the fewest in-flight tasks goes first,
// ties broken by least-recently-served (owners never served rank first),
// then by smallest owner ID. Within an owner, tasks run by ascending
// Priority, then in arrival order.
//
// The queue tracks in-flight counts itself: Dequeue increments the owner's
// count and TaskDone decrements it. All methods are safe for concurrent use.
type FairQueue struct {
	mu          sync.Mutex
	pending     map[int64][]*Task
	inFlight    map[int64]int
	lastDequeue map[int64]time.Time
	queuedIDs   map[string]struct{}
	seq         uint64
	size        int
}

// NewFairQueue creates an empty FairQueue.
func NewFairQueue() *FairQueue {
	return &FairQueue{
		pending:     make(map[int64][]*Task),
		inFlight:    make(map[int64]int),
		lastDequeue: make(map[int64]time.Time),
		queuedIDs:   make(map[string]struct{}),
	}
}

// Enqueue adds a task to its owner's backlog. A task whose ID is already
// queued is rejected.
func (q *FairQueue) Enqueue(task *Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if task.ID == "" {
		return fmt.Errorf("task ID must not be empty")
	}
	if task.OwnerID <= 0 {
		return fmt.Errorf("task ownerID must be positive, got %d", task.OwnerID)
	}
	if task.Run == nil {
		return fmt.Errorf("task Run must not be nil")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.queuedIDs[task.ID]; dup {
		return fmt.Errorf("task %s is already queued", task.ID)
	}

	q.seq++
	task.seq = q.seq
	task.EnqueuedAt = time.Now()

	q.pending[task.OwnerID] = append(q.pending[task.OwnerID], task)
	q.queuedIDs[task.ID] = struct{}{}
	q.size++
	return nil
}

// Dequeue removes and returns the next task to run, or (nil, false) when the
// queue is empty. The chosen owner's in-flight count is incremented; the
// caller must call TaskDone once the task finishes.
func (q *FairQueue) Dequeue() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	owner, ok := q.selectOwner()
	if !ok {
		return nil, false
	}

	backlog := q.pending[owner]
	best := 0
	for i := 1; i < len(backlog); i++ {
		if backlog[i].Priority < backlog[best].Priority ||
			(backlog[i].Priority == backlog[best].Priority && backlog[i].seq < backlog[best].seq) {
			best = i
		}
	}
	task := backlog[best]

	backlog = append(backlog[:best], backlog[best+1:]...)
	if len(backlog) == 0 {
		delete(q.pending, owner)
	} else {
		q.pending[owner] = backlog
	}
	delete(q.queuedIDs, task.ID)
	q.size--

	q.inFlight[owner]++
	q.lastDequeue[owner] = time.Now()
	return task, true
}

// selectOwner picks the owner whose task runs next. Caller holds q.mu.
func (q *FairQueue) selectOwner() (int64, bool) {
	var (
		found bool
		owner int64
		load  int
		last  time.Time
	)
	for id := range q.pending {
		idLoad := q.inFlight[id]
		idLast := q.lastDequeue[id] // zero for owners never served
		if !found || ranksBefore(idLoad, idLast, id, load, last, owner) {
			found = true
			owner, load, last = id, idLoad, idLast
		}
	}
	return owner, found
}

// ranksBefore reports whether owner a should be served before owner b:
// fewer in-flight tasks first, then the older last-dequeue timestamp (a zero
// timestamp means never served and wins), then the smaller owner ID.
func ranksBefore(aLoad int, aLast time.Time, aID int64, bLoad int, bLast time.Time, bID int64) bool {
	if aLoad != bLoad {
		return aLoad < bLoad
	}
	if !aLast.Equal(bLast) {
		return aLast.Before(bLast)
	}
	return aID < bID
}

// TaskDone records that one of the owner's in-flight tasks finished.
func (q *FairQueue) TaskDone(ownerID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight[ownerID] <= 1 {
		delete(q.inFlight, ownerID)
		return
	}
	q.inFlight[ownerID]--
}

// Len returns the number of queued tasks.
func (q *FairQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// OwnerBacklog returns the number of queued tasks for one owner.
func (q *FairQueue) OwnerBacklog(ownerID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[ownerID])
}

// InFlight returns the owner's running-task count, for tests and metrics.
func (q *FairQueue) InFlight(ownerID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight[ownerID]
}
