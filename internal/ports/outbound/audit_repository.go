package outbound

import (
	"context"

	"github.com/stratalab/tradexec/internal/domain/entity"
)

// AuditRepository defines the interface for recommendation audit records.
// Audit writes are best-effort: callers log failures and continue.
type AuditRepository interface {
	// Add inserts the audit record.
	Add(ctx context.Context, record *entity.AuditRecord) error
}
