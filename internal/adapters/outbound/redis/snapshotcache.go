// Package redis provides a Redis implementation of the OrderSnapshotCache port.
//
// This adapter stores the last observed broker state per order with a
// configurable TTL for automatic expiration. Keys follow the format
// prefix:order:brokerOrderID.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check that SnapshotCache implements outbound.OrderSnapshotCache
var _ outbound.OrderSnapshotCache = (*SnapshotCache)(nil)

// Config holds Redis cache configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// TTL is how long cached snapshots live before expiring
	TTL time.Duration
	// KeyPrefix is prepended to all cache keys
	KeyPrefix string
}

// ConfigDefaults returns sensible defaults for Redis cache configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		TTL:       24 * time.Hour,
		KeyPrefix: "tradexec",
	}
}

// SnapshotCache is a Redis implementation of the outbound.OrderSnapshotCache port.
type SnapshotCache struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

// NewSnapshotCache creates a new Redis order snapshot cache.
func NewSnapshotCache(cfg Config, logger *slog.Logger) (*SnapshotCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "snapshot-cache")

	return &SnapshotCache{
		client:    client,
		ttl:       cfg.TTL,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger,
	}, nil
}

// Ping checks the Redis connection.
func (c *SnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}

// key generates a cache key in the format prefix:order:brokerOrderID
func (c *SnapshotCache) key(brokerOrderID string) string {
	return fmt.Sprintf("%s:order:%s", c.keyPrefix, brokerOrderID)
}

// GetOrderSnapshot retrieves the cached snapshot for a broker order ID.
// Returns nil, nil when no snapshot is cached or the entry has expired.
func (c *SnapshotCache) GetOrderSnapshot(ctx context.Context, brokerOrderID string) (*outbound.OrderSnapshot, error) {
	key := c.key(brokerOrderID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order snapshot: %w", err)
	}

	var snapshot outbound.OrderSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode order snapshot: %w", err)
	}
	return &snapshot, nil
}

// SetOrderSnapshot stores the snapshot, replacing any previous one for the
// same broker order ID.
func (c *SnapshotCache) SetOrderSnapshot(ctx context.Context, snapshot *outbound.OrderSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}
	if snapshot.BrokerOrderID == "" {
		return fmt.Errorf("snapshot broker order ID is required")
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode order snapshot: %w", err)
	}

	key := c.key(snapshot.BrokerOrderID)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache order snapshot: %w", err)
	}
	return nil
}
