package testutil

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SeedExpert inserts an expert row and returns its auto-generated ID.
// ruleSets maps use case names to rule set IDs.
func SeedExpert(t *testing.T, ctx context.Context, pool *pgxpool.Pool, name string, autoTrading bool, ruleSets map[string]int64, accountCode string) int64 {
	t.Helper()

	rs := []byte("{}")
	if len(ruleSets) > 0 {
		var err error
		rs, err = json.Marshal(ruleSets)
		if err != nil {
			t.Fatalf("failed to marshal rule sets: %v", err)
		}
	}

	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO experts (name, auto_trading_enabled, rule_sets, account_code)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, name, autoTrading, rs, accountCode).Scan(&id)
	if err != nil {
		t.Fatalf("failed to insert test expert %s: %v", name, err)
	}
	return id
}

// SeedTransaction inserts a trade transaction row and returns its
// auto-generated ID.
func SeedTransaction(t *testing.T, ctx context.Context, pool *pgxpool.Pool, expertID int64, symbol, status string) int64 {
	t.Helper()

	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO transactions (expert_id, symbol, status)
		VALUES ($1, $2, $3)
		RETURNING id
	`, expertID, symbol, status).Scan(&id)
	if err != nil {
		t.Fatalf("failed to insert test transaction for %s: %v", symbol, err)
	}
	return id
}
