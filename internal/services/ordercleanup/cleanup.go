// Package ordercleanup removes orders that were created locally but never
// reached the broker. An order qualifies once it has sat in pending or error
// without a broker ID for longer than the horizon; its dependents go with it,
// children before parents. Dependents whose parent survives are never
// touched. Transactions left without a single surviving order are closed.
package ordercleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// tracerName is the instrumentation name for this service.
const tracerName = "github.com/stratalab/tradexec/internal/services/ordercleanup"

// Config holds configuration for the Cleaner.
type Config struct {
	// Interval is how often the periodic cleanup runs.
	Interval time.Duration

	// OlderThan is the age after which a never-submitted order qualifies
	// for deletion.
	OlderThan time.Duration

	// Logger is the structured logger.
	Logger *slog.Logger

	// Metrics records cleanup results. Optional.
	Metrics outbound.MetricsRecorder
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		Interval:  time.Hour,
		OlderThan: 72 * time.Hour,
		Logger:    slog.Default(),
	}
}

// Stats summarizes one cleanup pass.
type Stats struct {
	// OrdersExamined is how many pending and error orders the pass looked at.
	OrdersExamined int
	// OrdersDeleted is how many orders were removed, dependents included.
	OrdersDeleted int
	// TransactionsClosed is how many transactions lost their last order.
	TransactionsClosed int
}

// Cleaner deletes never-submitted orders and closes orphaned transactions.
type Cleaner struct {
	config Config

	txm          outbound.TxManager
	orders       outbound.OrderRepository
	transactions outbound.TransactionRepository

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewCleaner creates a new cleaner.
func NewCleaner(
	config Config,
	txm outbound.TxManager,
	orders outbound.OrderRepository,
	transactions outbound.TransactionRepository,
) (*Cleaner, error) {
	if txm == nil {
		return nil, fmt.Errorf("txm is required")
	}
	if orders == nil {
		return nil, fmt.Errorf("orders is required")
	}
	if transactions == nil {
		return nil, fmt.Errorf("transactions is required")
	}

	// Apply defaults
	defaults := ConfigDefaults()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.OlderThan <= 0 {
		config.OlderThan = defaults.OlderThan
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Cleaner{
		config:       config,
		txm:          txm,
		orders:       orders,
		transactions: transactions,
		logger:       config.Logger.With("component", "order-cleanup"),
	}, nil
}

// Start launches the periodic cleanup loop.
func (c *Cleaner) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()

	c.logger.Info("order cleanup started",
		"interval", c.config.Interval,
		"olderThan", c.config.OlderThan,
	)
	return nil
}

// Stop cancels the loop and waits for it to finish.
func (c *Cleaner) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("order cleanup stopped")
	return nil
}

// RunOnce performs a single cleanup pass with the configured horizon.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	_, err := c.CleanUnsubmittedOrders(ctx, c.config.OlderThan)
	return err
}

// run performs the cleanup once immediately and then on every tick.
func (c *Cleaner) run() {
	defer c.wg.Done()

	if err := c.RunOnce(c.ctx); err != nil {
		c.logger.Warn("cleanup failed", "error", err)
	}

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.RunOnce(c.ctx); err != nil {
				c.logger.Warn("cleanup failed", "error", err)
			}
		}
	}
}

// CleanUnsubmittedOrders deletes orders older than olderThan that never got
// a broker ID, plus their dependents. The whole pass runs in one database
// transaction, so a crash mid-pass deletes nothing.
func (c *Cleaner) CleanUnsubmittedOrders(ctx context.Context, olderThan time.Duration) (Stats, error) {
	if olderThan <= 0 {
		return Stats{}, fmt.Errorf("olderThan must be positive, got %s", olderThan)
	}
	horizon := time.Now().Add(-olderThan)
	start := time.Now()

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "cleanup.unsubmitted",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("cleanup.older_than", olderThan.String())),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("cleanup.duration_ms", time.Since(start).Milliseconds()))
		span.End()
	}()

	var stats Stats
	err := c.txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		stale, err := c.orders.ListByStatus(ctx, entity.OrderStatusPending, entity.OrderStatusError)
		if err != nil {
			return fmt.Errorf("failed to list unsubmitted orders: %w", err)
		}
		stats.OrdersExamined = len(stale)

		doomed := make(map[int64]*entity.Order)
		for _, order := range stale {
			if order.BrokerOrderID == "" && order.CreatedAt.Before(horizon) {
				doomed[order.ID] = order
			}
		}
		if len(doomed) == 0 {
			return nil
		}

		if err := c.collectDependents(ctx, tx, doomed); err != nil {
			return err
		}

		// The reference map is built before any delete so orphaned
		// transactions can be found without re-reading.
		txnRefs, err := c.transactionRefs(ctx)
		if err != nil {
			return err
		}

		deleted, err := c.deleteChildrenFirst(ctx, tx, doomed)
		if err != nil {
			return err
		}
		stats.OrdersDeleted = deleted

		closed, err := c.closeOrphanedTransactions(ctx, tx, txnRefs, doomed)
		if err != nil {
			return err
		}
		stats.TransactionsClosed = closed
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cleanup failed")
		return Stats{}, err
	}

	span.SetAttributes(
		attribute.Int("cleanup.examined", stats.OrdersExamined),
		attribute.Int("cleanup.deleted", stats.OrdersDeleted),
		attribute.Int("cleanup.transactions_closed", stats.TransactionsClosed),
	)
	if c.config.Metrics != nil && stats.OrdersDeleted > 0 {
		c.config.Metrics.RecordOrdersCleaned(ctx, stats.OrdersDeleted)
	}
	if stats.OrdersDeleted > 0 {
		c.logger.Info("cleanup complete",
			"examined", stats.OrdersExamined,
			"deleted", stats.OrdersDeleted,
			"transactionsClosed", stats.TransactionsClosed,
			"duration", time.Since(start))
	}
	return stats, nil
}

// collectDependents grows the doomed set with every order that depends,
// directly or through other doomed orders, on a doomed order. An order whose
// parent survives stays out of the set.
func (c *Cleaner) collectDependents(ctx context.Context, tx pgx.Tx, doomed map[int64]*entity.Order) error {
	frontier := make([]int64, 0, len(doomed))
	for id := range doomed {
		frontier = append(frontier, id)
	}

	for len(frontier) > 0 {
		id := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]

		dependents, err := c.orders.ListDependents(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("failed to list dependents of order %d: %w", id, err)
		}
		for _, dep := range dependents {
			if _, ok := doomed[dep.ID]; ok {
				continue
			}
			doomed[dep.ID] = dep
			frontier = append(frontier, dep.ID)
		}
	}
	return nil
}

// transactionRefs maps every transaction to the orders referencing it,
// across all order statuses.
func (c *Cleaner) transactionRefs(ctx context.Context) (map[int64][]int64, error) {
	all, err := c.orders.ListByStatus(ctx,
		entity.OrderStatusWaitingTrigger,
		entity.OrderStatusPending,
		entity.OrderStatusOpen,
		entity.OrderStatusFilled,
		entity.OrderStatusCancelled,
		entity.OrderStatusRejected,
		entity.OrderStatusError,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders for transaction references: %w", err)
	}

	refs := make(map[int64][]int64)
	for _, order := range all {
		if order.TransactionID != nil {
			refs[*order.TransactionID] = append(refs[*order.TransactionID], order.ID)
		}
	}
	return refs, nil
}

// deleteChildrenFirst removes every doomed order, deleting dependents before
// their parents so no delete ever leaves a dangling reference.
func (c *Cleaner) deleteChildrenFirst(ctx context.Context, tx pgx.Tx, doomed map[int64]*entity.Order) (int, error) {
	remaining := make(map[int64]*entity.Order, len(doomed))
	for id, order := range doomed {
		remaining[id] = order
	}

	deleted := 0
	for len(remaining) > 0 {
		progress := false
		for id := range remaining {
			if hasChildIn(remaining, id) {
				continue
			}
			if err := c.orders.Delete(ctx, tx, id); err != nil {
				return deleted, fmt.Errorf("failed to delete order %d: %w", id, err)
			}
			delete(remaining, id)
			deleted++
			progress = true
		}
		if !progress {
			return deleted, fmt.Errorf("dependency cycle among %d orders", len(remaining))
		}
	}
	return deleted, nil
}

// hasChildIn reports whether any order in set depends on parentID.
func hasChildIn(set map[int64]*entity.Order, parentID int64) bool {
	for _, order := range set {
		if order.DependsOnOrderID != nil && *order.DependsOnOrderID == parentID {
			return true
		}
	}
	return false
}

// closeOrphanedTransactions closes every active transaction whose
// referencing orders were all deleted in this pass.
func (c *Cleaner) closeOrphanedTransactions(ctx context.Context, tx pgx.Tx, refs map[int64][]int64, doomed map[int64]*entity.Order) (int, error) {
	closed := 0
	for txnID, orderIDs := range refs {
		orphaned := true
		for _, orderID := range orderIDs {
			if _, ok := doomed[orderID]; !ok {
				orphaned = false
				break
			}
		}
		if !orphaned {
			continue
		}

		txn, err := c.transactions.GetTx(ctx, tx, txnID)
		if err != nil {
			return closed, fmt.Errorf("failed to load transaction %d: %w", txnID, err)
		}
		if txn == nil || !txn.IsActive() {
			continue
		}
		if err := c.transactions.CloseTx(ctx, tx, txnID); err != nil {
			return closed, fmt.Errorf("failed to close transaction %d: %w", txnID, err)
		}
		c.logger.Debug("closed orphaned transaction",
			"transactionId", txnID,
			"symbol", txn.Symbol)
		closed++
	}
	return closed, nil
}
