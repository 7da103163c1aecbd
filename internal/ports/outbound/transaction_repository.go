package outbound

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/stratalab/tradexec/internal/domain/entity"
)

// TransactionRepository defines the interface for trade transaction
// persistence. Get methods return (nil, nil) when absent.
type TransactionRepository interface {
	// Add inserts the transaction and returns its assigned ID.
	Add(ctx context.Context, tx pgx.Tx, txn *entity.Transaction) (int64, error)

	// Get returns the transaction with the given ID, or (nil, nil) if absent.
	Get(ctx context.Context, id int64) (*entity.Transaction, error)

	// GetTx is Get inside a caller-managed transaction.
	GetTx(ctx context.Context, tx pgx.Tx, id int64) (*entity.Transaction, error)

	// Update persists all mutable fields of the transaction.
	Update(ctx context.Context, txn *entity.Transaction) error

	// UpdateTx is Update inside a caller-managed transaction.
	UpdateTx(ctx context.Context, tx pgx.Tx, txn *entity.Transaction) error

	// HasActiveForSymbol reports whether the expert has a waiting or opened
	// transaction for the symbol.
	HasActiveForSymbol(ctx context.Context, expertID int64, symbol string) (bool, error)

	// CloseTx marks the transaction closed inside a caller-managed
	// transaction.
	CloseTx(ctx context.Context, tx pgx.Tx, id int64) error
}
