package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check that ExpertRepository implements outbound.ExpertRepository
var _ outbound.ExpertRepository = (*ExpertRepository)(nil)

// ExpertRepository is a PostgreSQL implementation of the outbound.ExpertRepository port.
type ExpertRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewExpertRepository creates a new PostgreSQL expert repository.
func NewExpertRepository(pool *pgxpool.Pool, logger *slog.Logger) (*ExpertRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpertRepository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Get returns the expert with the given ID, or (nil, nil) if absent.
func (r *ExpertRepository) Get(ctx context.Context, id int64) (*entity.Expert, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, auto_trading_enabled, rule_sets, account_code, created_at
		 FROM experts WHERE id = $1`, id)
	expert, err := scanExpert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expert %d: %w", id, err)
	}
	return expert, nil
}

// List returns all experts ordered by ID.
func (r *ExpertRepository) List(ctx context.Context) ([]*entity.Expert, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, auto_trading_enabled, rule_sets, account_code, created_at
		 FROM experts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query experts: %w", err)
	}
	defer rows.Close()

	var experts []*entity.Expert
	for rows.Next() {
		expert, err := scanExpert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expert row: %w", err)
		}
		experts = append(experts, expert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expert rows: %w", err)
	}
	return experts, nil
}

func scanExpert(row pgx.Row) (*entity.Expert, error) {
	var e entity.Expert
	var ruleSets []byte
	err := row.Scan(&e.ID, &e.Name, &e.AutoTradingEnabled, &ruleSets, &e.AccountCode, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	if len(ruleSets) > 0 {
		if err := json.Unmarshal(ruleSets, &e.RuleSets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal expert rule sets: %w", err)
		}
	}
	if len(e.RuleSets) == 0 {
		e.RuleSets = nil
	}
	return &e, nil
}
