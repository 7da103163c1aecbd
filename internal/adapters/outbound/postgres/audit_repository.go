package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check that AuditRepository implements outbound.AuditRepository
var _ outbound.AuditRepository = (*AuditRepository)(nil)

// AuditRepository is a PostgreSQL implementation of the outbound.AuditRepository port.
type AuditRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewAuditRepository creates a new PostgreSQL audit repository.
func NewAuditRepository(pool *pgxpool.Pool, logger *slog.Logger) (*AuditRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRepository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Add inserts the audit record. The record's ID and CreatedAt are written
// back on success.
func (r *AuditRepository) Add(ctx context.Context, record *entity.AuditRecord) error {
	if record == nil {
		return fmt.Errorf("audit record cannot be nil")
	}

	details, err := marshalJSONMap(record.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	now := time.Now().UTC()
	var id int64
	err = r.pool.QueryRow(ctx,
		`INSERT INTO audit_records (expert_id, use_case, symbol, recommendation_id, outcome, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		record.ExpertID, record.UseCase, record.Symbol, record.RecommendationID,
		string(record.Outcome), details, now).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	record.ID = id
	record.CreatedAt = now
	return nil
}
