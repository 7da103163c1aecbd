package memory

import (
	"context"
	"sync"

	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check that OrderSnapshotCache implements the port
var _ outbound.OrderSnapshotCache = (*OrderSnapshotCache)(nil)

// OrderSnapshotCache is a map-backed implementation of the
// OrderSnapshotCache port for testing.
type OrderSnapshotCache struct {
	mu        sync.RWMutex
	snapshots map[string]*outbound.OrderSnapshot
}

// NewOrderSnapshotCache creates an empty snapshot cache.
func NewOrderSnapshotCache() *OrderSnapshotCache {
	return &OrderSnapshotCache{snapshots: make(map[string]*outbound.OrderSnapshot)}
}

// GetOrderSnapshot implements outbound.OrderSnapshotCache.
func (c *OrderSnapshotCache) GetOrderSnapshot(ctx context.Context, brokerOrderID string) (*outbound.OrderSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.snapshots[brokerOrderID]
	if !ok {
		return nil, nil
	}
	copied := *snap
	return &copied, nil
}

// SetOrderSnapshot implements outbound.OrderSnapshotCache.
func (c *OrderSnapshotCache) SetOrderSnapshot(ctx context.Context, snapshot *outbound.OrderSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	copied := *snapshot
	c.snapshots[snapshot.BrokerOrderID] = &copied
	return nil
}

// Close implements outbound.OrderSnapshotCache.
func (c *OrderSnapshotCache) Close() error { return nil }
