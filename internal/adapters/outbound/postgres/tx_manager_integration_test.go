//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratalab/tradexec/internal/testutil"
)

// The trigger engine and the recommendation processor run all their database
// work through the transaction manager. These tests pin down the commit,
// rollback and read-only behavior they rely on, against the real schema.

func setupTxManager(t *testing.T) (*TxManager, *pgxpool.Pool) {
	t.Helper()

	pool, _, cleanup := testutil.SetupPostgres(t)
	t.Cleanup(cleanup)

	txm, err := NewTxManager(pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewTxManager: %v", err)
	}
	return txm, pool
}

func countRows(t *testing.T, pool *pgxpool.Pool, table, symbol string) int {
	t.Helper()

	var n int
	err := pool.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM "+table+" WHERE symbol = $1", symbol).Scan(&n)
	if err != nil {
		t.Fatalf("counting %s rows: %v", table, err)
	}
	return n
}

func TestTxManager_CommitsOnSuccess(t *testing.T) {
	txm, pool := setupTxManager(t)
	ctx := context.Background()

	expertID := testutil.SeedExpert(t, ctx, pool, "commit expert", true, nil, "ACC-1")

	var txnID int64
	err := txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO transactions (expert_id, symbol, status)
			VALUES ($1, 'AAPL', 'active')
			RETURNING id`, expertID).Scan(&txnID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			"UPDATE transactions SET status = 'closed' WHERE id = $1", txnID)
		return err
	})
	if err != nil {
		t.Fatalf("WithTransaction: %v", err)
	}

	var status string
	if err := pool.QueryRow(ctx,
		"SELECT status FROM transactions WHERE id = $1", txnID).Scan(&status); err != nil {
		t.Fatalf("reading committed transaction: %v", err)
	}
	if status != "closed" {
		t.Errorf("status = %q, want closed", status)
	}
}

func TestTxManager_RollsBackOnError(t *testing.T) {
	txm, pool := setupTxManager(t)
	ctx := context.Background()

	expertID := testutil.SeedExpert(t, ctx, pool, "rollback expert", true, nil, "ACC-1")

	sentinel := errors.New("analysis rejected")
	err := txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO transactions (expert_id, symbol, status)
			VALUES ($1, 'ROLLBACK', 'active')`, expertID)
		if err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got: %v", err)
	}

	if n := countRows(t, pool, "transactions", "ROLLBACK"); n != 0 {
		t.Errorf("expected 0 transactions after rollback, got %d", n)
	}
}

func TestTxManager_RollsBackAcrossTables(t *testing.T) {
	txm, pool := setupTxManager(t)
	ctx := context.Background()

	expertID := testutil.SeedExpert(t, ctx, pool, "atomic expert", true, nil, "ACC-1")

	// A transaction row and its entry order are written as one unit, the way
	// the recommendation processor persists an accepted recommendation. A
	// failure after both inserts must leave neither behind.
	err := txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		var txnID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO transactions (expert_id, symbol, status)
			VALUES ($1, 'ATOMIC', 'active')
			RETURNING id`, expertID).Scan(&txnID)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO orders (client_order_id, expert_id, symbol, side, order_type, status, quantity, transaction_id)
			VALUES ('atomic-entry-1', $1, 'ATOMIC', 'buy', 'market', 'pending', 10, $2)`,
			expertID, txnID)
		if err != nil {
			return err
		}

		return errors.New("submit refused")
	})
	if err == nil {
		t.Fatal("expected error from work unit")
	}

	if n := countRows(t, pool, "transactions", "ATOMIC"); n != 0 {
		t.Errorf("expected 0 transactions after rollback, got %d", n)
	}
	if n := countRows(t, pool, "orders", "ATOMIC"); n != 0 {
		t.Errorf("expected 0 orders after rollback, got %d", n)
	}
}

func TestTxManager_RollsBackOnPanic(t *testing.T) {
	txm, pool := setupTxManager(t)
	ctx := context.Background()

	expertID := testutil.SeedExpert(t, ctx, pool, "panic expert", true, nil, "ACC-1")

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic to be re-raised")
		}
		if n := countRows(t, pool, "transactions", "PANIC"); n != 0 {
			t.Errorf("expected 0 transactions after panic rollback, got %d", n)
		}
	}()

	_ = txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO transactions (expert_id, symbol, status)
			VALUES ($1, 'PANIC', 'active')`, expertID)
		if err != nil {
			return err
		}
		panic("worker crashed mid-unit")
	})
}

func TestTxManager_ReadOnlyRejectsWrites(t *testing.T) {
	txm, pool := setupTxManager(t)
	ctx := context.Background()

	expertID := testutil.SeedExpert(t, ctx, pool, "readonly expert", true, nil, "ACC-1")
	txnID := testutil.SeedTransaction(t, ctx, pool, expertID, "MSFT", "active")

	readOnly := pgx.TxOptions{AccessMode: pgx.ReadOnly}

	var symbol string
	err := txm.WithTransactionOptions(ctx, readOnly, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			"SELECT symbol FROM transactions WHERE id = $1", txnID).Scan(&symbol)
	})
	if err != nil {
		t.Fatalf("read in read-only transaction: %v", err)
	}
	if symbol != "MSFT" {
		t.Errorf("symbol = %q, want MSFT", symbol)
	}

	err = txm.WithTransactionOptions(ctx, readOnly, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			"UPDATE transactions SET status = 'closed' WHERE id = $1", txnID)
		return err
	})
	if err == nil {
		t.Fatal("expected write in read-only transaction to fail")
	}
}

func TestTxManager_CancelledContext(t *testing.T) {
	txm, _ := setupTxManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := txm.WithTransaction(ctx, func(tx pgx.Tx) error { return nil })
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestNewTxManager_NilPool(t *testing.T) {
	_, err := NewTxManager(nil, nil)
	if err == nil {
		t.Fatal("expected error for nil database pool")
	}
}
