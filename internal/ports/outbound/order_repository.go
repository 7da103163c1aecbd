package outbound

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/stratalab/tradexec/internal/domain/entity"
)

// OrderRepository defines the interface for order persistence.
//
// Methods taking a pgx.Tx participate in a transaction managed by the caller
// (see TxManager); the tx may be nil for implementations without real
// transactions. Get methods return (nil, nil) when no row exists. Orders are
// never hard-deleted except through Delete, which only the cleanup operation
// calls.
type OrderRepository interface {
	// Add inserts the order and returns its assigned ID.
	Add(ctx context.Context, tx pgx.Tx, order *entity.Order) (int64, error)

	// Get returns the order with the given ID, or (nil, nil) if absent.
	Get(ctx context.Context, id int64) (*entity.Order, error)

	// GetTx is Get inside a caller-managed transaction.
	GetTx(ctx context.Context, tx pgx.Tx, id int64) (*entity.Order, error)

	// Update persists all mutable fields of the order.
	Update(ctx context.Context, order *entity.Order) error

	// UpdateTx is Update inside a caller-managed transaction.
	UpdateTx(ctx context.Context, tx pgx.Tx, order *entity.Order) error

	// ListWaitingTrigger returns orders in waiting_trigger status. When
	// parentIDs is non-empty, only dependents of those parents are returned.
	// Results are ordered by ID for deterministic sweeps.
	ListWaitingTrigger(ctx context.Context, tx pgx.Tx, parentIDs []int64) ([]*entity.Order, error)

	// ListByStatus returns all orders in any of the given statuses.
	ListByStatus(ctx context.Context, statuses ...entity.OrderStatus) ([]*entity.Order, error)

	// ListDependents returns all orders that name parentID as their parent,
	// regardless of status.
	ListDependents(ctx context.Context, tx pgx.Tx, parentID int64) ([]*entity.Order, error)

	// LatestActiveForSymbol returns the most recently created non-terminal
	// order for the expert and symbol, or (nil, nil) if there is none.
	LatestActiveForSymbol(ctx context.Context, expertID int64, symbol string) (*entity.Order, error)

	// Delete removes the order row. Cleanup only.
	Delete(ctx context.Context, tx pgx.Tx, id int64) error
}
