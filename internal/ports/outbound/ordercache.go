package outbound

import (
	"context"
	"time"
)

// OrderSnapshot is the last broker-side state observed for an order. Broker
// refreshes compare against it to skip writes and events when nothing
// changed.
type OrderSnapshot struct {
	BrokerOrderID  string    `json:"brokerOrderId"`
	Status         string    `json:"status"`
	FilledQuantity string    `json:"filledQuantity"`
	FilledAvgPrice string    `json:"filledAvgPrice"`
	ObservedAt     time.Time `json:"observedAt"`
}

// OrderSnapshotCache defines the interface for caching order snapshots.
type OrderSnapshotCache interface {
	// GetOrderSnapshot retrieves the snapshot for a broker order ID.
	// Returns nil, nil if no snapshot is cached.
	GetOrderSnapshot(ctx context.Context, brokerOrderID string) (*OrderSnapshot, error)

	// SetOrderSnapshot stores the snapshot, replacing any previous one.
	SetOrderSnapshot(ctx context.Context, snapshot *OrderSnapshot) error

	// Close closes the cache connection.
	Close() error
}
