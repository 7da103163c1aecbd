// Package postgres provides PostgreSQL implementations of repository interfaces.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// querier is the subset of query methods shared by *pgxpool.Pool and pgx.Tx.
// Repository methods run against it so the same SQL serves both standalone
// calls and calls inside a caller-managed transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// rollback rolls back the transaction and logs the error unless the
// transaction was already closed by a commit.
func rollback(ctx context.Context, tx pgx.Tx, logger *slog.Logger) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.Error("failed to rollback transaction", "error", err)
	}
}

// numericString converts a decimal to its string form for NUMERIC column
// storage. Postgres's NUMERIC type accepts arbitrary precision numbers as
// strings, which avoids float round-trips.
func numericString(d decimal.Decimal) string {
	return d.String()
}

// parseNumeric converts a NUMERIC column value scanned as a string back
// into a decimal. The field name is included in the error for debugging.
func parseNumeric(s, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to parse %s as decimal: %w", field, err)
	}
	return d, nil
}

// marshalJSONMap safely marshals a details/aux map to JSON, returning "{}"
// for nil/empty maps so JSONB columns never see NULL.
func marshalJSONMap(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// unmarshalJSONMap reverses marshalJSONMap. Empty or "{}" input yields nil
// so entities round-trip to their zero value.
func unmarshalJSONMap(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
