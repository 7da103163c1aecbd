package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check that RecommendationRepository implements outbound.RecommendationRepository
var _ outbound.RecommendationRepository = (*RecommendationRepository)(nil)

// RecommendationRepository is a PostgreSQL implementation of the
// outbound.RecommendationRepository port.
type RecommendationRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRecommendationRepository creates a new PostgreSQL recommendation repository.
func NewRecommendationRepository(pool *pgxpool.Pool, logger *slog.Logger) (*RecommendationRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecommendationRepository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Add inserts the recommendation and returns its assigned ID, which is also
// written back to the entity.
func (r *RecommendationRepository) Add(ctx context.Context, rec *entity.Recommendation) (int64, error) {
	if rec == nil {
		return 0, fmt.Errorf("recommendation cannot be nil")
	}

	details, err := marshalJSONMap(rec.Details)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal recommendation details: %w", err)
	}

	var id int64
	err = r.pool.QueryRow(ctx,
		`INSERT INTO recommendations (expert_id, use_case, symbol, direction, expected_profit, details, generated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		rec.ExpertID, rec.UseCase, rec.Symbol, string(rec.Direction),
		numericString(rec.ExpectedProfit), details, rec.GeneratedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert recommendation: %w", err)
	}

	rec.ID = id
	return id, nil
}

// ListRecent returns recommendations for the expert and use case generated
// at or after since, newest first.
func (r *RecommendationRepository) ListRecent(ctx context.Context, expertID int64, useCase string, since time.Time) ([]*entity.Recommendation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, expert_id, use_case, symbol, direction, expected_profit, details, generated_at
		 FROM recommendations
		 WHERE expert_id = $1 AND use_case = $2 AND generated_at >= $3
		 ORDER BY generated_at DESC, id DESC`,
		expertID, useCase, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent recommendations: %w", err)
	}
	defer rows.Close()

	var recs []*entity.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recommendation row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recommendation rows: %w", err)
	}
	return recs, nil
}

func scanRecommendation(row pgx.Row) (*entity.Recommendation, error) {
	var rec entity.Recommendation
	var profit string
	var details []byte
	err := row.Scan(
		&rec.ID, &rec.ExpertID, &rec.UseCase, &rec.Symbol, &rec.Direction,
		&profit, &details, &rec.GeneratedAt,
	)
	if err != nil {
		return nil, err
	}

	if rec.ExpectedProfit, err = parseNumeric(profit, "expected_profit"); err != nil {
		return nil, err
	}
	if rec.Details, err = unmarshalJSONMap(details); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recommendation details: %w", err)
	}
	return &rec, nil
}
