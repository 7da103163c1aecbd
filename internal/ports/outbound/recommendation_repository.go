package outbound

import (
	"context"
	"time"

	"github.com/stratalab/tradexec/internal/domain/entity"
)

// RecommendationRepository defines the interface for recommendation
// persistence. Analysis tasks write recommendations; the recommendation
// processor reads them back.
type RecommendationRepository interface {
	// Add inserts the recommendation and returns its assigned ID.
	Add(ctx context.Context, rec *entity.Recommendation) (int64, error)

	// ListRecent returns recommendations for the expert and use case
	// generated at or after since, newest first.
	ListRecent(ctx context.Context, expertID int64, useCase string, since time.Time) ([]*entity.Recommendation, error)
}
