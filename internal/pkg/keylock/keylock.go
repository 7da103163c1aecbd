// Package keylock provides per-key mutual exclusion with a bounded wait.
//
// The recommendation processor uses one lock per (expert, use case) pair so
// that concurrent processing rounds for the same pair never interleave, while
// rounds for different pairs run freely. TryLock gives up after a deadline
// instead of queueing, so a busy key is reported to the caller rather than
// piling up goroutines.
package keylock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Key identifies one lock in the table.
type Key struct {
	OwnerID int64
	UseCase string
}

// String returns the string representation of the Key
func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.OwnerID, k.UseCase)
}

// entry is a capacity-1 channel used as a mutex; refs counts holders plus
// waiters so idle entries can be dropped from the table.
type entry struct {
	slot chan struct{}
	refs int
}

// Table holds the per-key locks.
type Table struct {
	mu    sync.Mutex
	locks map[Key]*entry
}

// NewTable creates an empty lock table.
func NewTable() *Table {
	return &Table{locks: make(map[Key]*entry)}
}

// TryLock attempts to acquire the lock for key, waiting at most wait. It
// returns true when the lock was acquired. It returns false when the key
// stayed busy for the whole wait, or when ctx was cancelled first.
func (t *Table) TryLock(ctx context.Context, key Key, wait time.Duration) bool {
	t.mu.Lock()
	e, ok := t.locks[key]
	if !ok {
		e = &entry{slot: make(chan struct{}, 1)}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case e.slot <- struct{}{}:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}

	t.release(key, e)
	return false
}

// Unlock releases the lock for key. Unlocking a key that is not held is a
// programming error and panics.
func (t *Table) Unlock(key Key) {
	t.mu.Lock()
	e, ok := t.locks[key]
	t.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("keylock: unlock of unheld key %s", key))
	}

	select {
	case <-e.slot:
	default:
		panic(fmt.Sprintf("keylock: unlock of unheld key %s", key))
	}

	t.release(key, e)
}

// release drops one reference and removes the entry once nobody holds or
// waits on it.
func (t *Table) release(key Key, e *entry) {
	t.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(t.locks, key)
	}
	t.mu.Unlock()
}

// Len returns the number of keys currently tracked, for tests and metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
