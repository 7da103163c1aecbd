package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check that TxManager implements outbound.TxManager
var _ outbound.TxManager = (*TxManager)(nil)

// TxManager runs work units inside database transactions on one pool. One
// work unit of the trigger engine or the recommendation processor is exactly
// one call to WithTransaction: repositories receive the open pgx.Tx and never
// manage transaction lifecycle themselves.
//
//	err := txm.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    if err := orders.UpdateStatusTx(ctx, tx, id, from, to); err != nil {
//	        return err
//	    }
//	    return txns.UpdateTx(ctx, tx, txn)
//	})
//
// fn returning an error rolls everything back; nil commits.
type TxManager struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewTxManager creates a transaction manager on the given pool.
func NewTxManager(pool *pgxpool.Pool, logger *slog.Logger) (*TxManager, error) {
	if pool == nil {
		return nil, errors.New("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TxManager{
		pool:   pool,
		logger: logger,
	}, nil
}

// WithTransaction runs fn in a read-write transaction with default options.
func (m *TxManager) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return m.WithTransactionOptions(ctx, pgx.TxOptions{}, fn)
}

// WithTransactionOptions runs fn in a transaction opened with opts. The
// transaction is rolled back when fn returns an error or panics (the panic
// propagates); otherwise it is committed.
func (m *TxManager) WithTransactionOptions(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := m.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback is a no-op once Commit succeeds.
	defer rollback(ctx, tx, m.logger)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
