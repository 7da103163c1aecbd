package ordersubmit

import (
	"context"
	"fmt"

	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check that ExpertAccountResolver implements outbound.AccountResolver
var _ outbound.AccountResolver = (*ExpertAccountResolver)(nil)

// ExpertAccountResolver resolves broker account codes from the expert table.
type ExpertAccountResolver struct {
	experts outbound.ExpertRepository
}

// NewExpertAccountResolver creates a resolver backed by the expert repository.
func NewExpertAccountResolver(experts outbound.ExpertRepository) (*ExpertAccountResolver, error) {
	if experts == nil {
		return nil, fmt.Errorf("experts is required")
	}
	return &ExpertAccountResolver{experts: experts}, nil
}

// AccountFor implements outbound.AccountResolver.
func (r *ExpertAccountResolver) AccountFor(ctx context.Context, expertID int64) (string, error) {
	expert, err := r.experts.Get(ctx, expertID)
	if err != nil {
		return "", fmt.Errorf("failed to load expert %d: %w", expertID, err)
	}
	if expert == nil {
		return "", fmt.Errorf("expert %d not found", expertID)
	}
	if expert.AccountCode == "" {
		return "", fmt.Errorf("expert %d has no account code", expertID)
	}
	return expert.AccountCode, nil
}
