package outbound

import (
	"context"

	"github.com/stratalab/tradexec/internal/domain/entity"
)

// RiskManager sizes and prioritizes pending orders against the expert's
// buying power and exposure limits.
type RiskManager interface {
	// ReviewAndPrioritizePendingOrders returns the expert's pending orders
	// with Quantity assigned. Orders the risk budget cannot fund come back
	// with zero quantity; the caller decides what to do with them.
	ReviewAndPrioritizePendingOrders(ctx context.Context, expertID int64) ([]*entity.Order, error)
}
