package outbound

import (
	"context"

	"github.com/stratalab/tradexec/internal/domain/entity"
)

// ExpertRepository defines the interface for expert (owner) lookups.
type ExpertRepository interface {
	// Get returns the expert with the given ID, or (nil, nil) if absent.
	Get(ctx context.Context, id int64) (*entity.Expert, error)

	// List returns all experts.
	List(ctx context.Context) ([]*entity.Expert, error)
}
