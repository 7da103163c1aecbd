package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check that TransactionRepository implements outbound.TransactionRepository
var _ outbound.TransactionRepository = (*TransactionRepository)(nil)

// transactionColumns is the canonical column list for transaction scans.
// Keep in sync with scanTransaction.
const transactionColumns = `id, expert_id, symbol, status, take_profit, stop_loss,
	open_price, close_price, created_at, updated_at`

// activeTransactionStatuses mirrors entity.TransactionStatus.IsActive for SQL filters.
var activeTransactionStatuses = []string{
	string(entity.TransactionStatusWaiting),
	string(entity.TransactionStatusOpened),
}

// TransactionRepository is a PostgreSQL implementation of the
// outbound.TransactionRepository port.
type TransactionRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewTransactionRepository creates a new PostgreSQL transaction repository.
func NewTransactionRepository(pool *pgxpool.Pool, logger *slog.Logger) (*TransactionRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionRepository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Add inserts the transaction within the caller's transaction and returns
// the assigned ID. The transaction's ID and timestamps are written back.
func (r *TransactionRepository) Add(ctx context.Context, tx pgx.Tx, txn *entity.Transaction) (int64, error) {
	if txn == nil {
		return 0, fmt.Errorf("transaction cannot be nil")
	}

	now := time.Now().UTC()
	var id int64
	err := tx.QueryRow(ctx,
		`INSERT INTO transactions (expert_id, symbol, status, take_profit, stop_loss,
			open_price, close_price, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		txn.ExpertID, txn.Symbol, string(txn.Status),
		numericString(txn.TakeProfit), numericString(txn.StopLoss),
		numericString(txn.OpenPrice), numericString(txn.ClosePrice), now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}

	txn.ID = id
	txn.CreatedAt = now
	txn.UpdatedAt = now
	return id, nil
}

// Get returns the transaction with the given ID, or (nil, nil) if absent.
func (r *TransactionRepository) Get(ctx context.Context, id int64) (*entity.Transaction, error) {
	return r.get(ctx, r.pool, id)
}

// GetTx is Get inside a caller-managed transaction.
func (r *TransactionRepository) GetTx(ctx context.Context, tx pgx.Tx, id int64) (*entity.Transaction, error) {
	return r.get(ctx, tx, id)
}

func (r *TransactionRepository) get(ctx context.Context, q querier, id int64) (*entity.Transaction, error) {
	row := q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %d: %w", id, err)
	}
	return txn, nil
}

// Update persists all mutable fields of the transaction and bumps its updated_at.
func (r *TransactionRepository) Update(ctx context.Context, txn *entity.Transaction) error {
	return r.update(ctx, r.pool, txn)
}

// UpdateTx is Update inside a caller-managed transaction.
func (r *TransactionRepository) UpdateTx(ctx context.Context, tx pgx.Tx, txn *entity.Transaction) error {
	return r.update(ctx, tx, txn)
}

func (r *TransactionRepository) update(ctx context.Context, q querier, txn *entity.Transaction) error {
	if txn == nil {
		return fmt.Errorf("transaction cannot be nil")
	}

	now := time.Now().UTC()
	tag, err := q.Exec(ctx,
		`UPDATE transactions SET
			status = $2, take_profit = $3, stop_loss = $4,
			open_price = $5, close_price = $6, updated_at = $7
		 WHERE id = $1`,
		txn.ID, string(txn.Status),
		numericString(txn.TakeProfit), numericString(txn.StopLoss),
		numericString(txn.OpenPrice), numericString(txn.ClosePrice), now)
	if err != nil {
		return fmt.Errorf("failed to update transaction %d: %w", txn.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %d not found", txn.ID)
	}

	txn.UpdatedAt = now
	return nil
}

// HasActiveForSymbol reports whether the expert has a waiting or opened
// transaction for the symbol.
func (r *TransactionRepository) HasActiveForSymbol(ctx context.Context, expertID int64, symbol string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE expert_id = $1 AND symbol = $2 AND status = ANY($3)
		)`,
		expertID, symbol, activeTransactionStatuses).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active transactions for expert %d symbol %s: %w", expertID, symbol, err)
	}
	return exists, nil
}

// CloseTx marks the transaction closed inside a caller-managed transaction.
func (r *TransactionRepository) CloseTx(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx,
		`UPDATE transactions SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(entity.TransactionStatusClosed), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to close transaction %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %d not found", id)
	}
	return nil
}

// scanTransaction scans a single transaction row. Column order must match
// transactionColumns.
func scanTransaction(row pgx.Row) (*entity.Transaction, error) {
	var t entity.Transaction
	var tp, sl, openPx, closePx string
	err := row.Scan(
		&t.ID, &t.ExpertID, &t.Symbol, &t.Status, &tp, &sl,
		&openPx, &closePx, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if t.TakeProfit, err = parseNumeric(tp, "take_profit"); err != nil {
		return nil, err
	}
	if t.StopLoss, err = parseNumeric(sl, "stop_loss"); err != nil {
		return nil, err
	}
	if t.OpenPrice, err = parseNumeric(openPx, "open_price"); err != nil {
		return nil, err
	}
	if t.ClosePrice, err = parseNumeric(closePx, "close_price"); err != nil {
		return nil, err
	}
	return &t, nil
}
