package outbound

import (
	"context"

	"github.com/stratalab/tradexec/internal/domain/entity"
)

// AccountGateway defines the interface to the brokerage. SubmitOrder is the
// only call the trigger engine's second phase makes; the Refresh methods pull
// broker-side state back into the local store and publish change events.
//
// Implementations own their retry policy for transient failures. A returned
// error means the order did not reach the broker (or its state could not be
// refreshed) after retries were exhausted.
type AccountGateway interface {
	// SubmitOrder places the order with the broker and returns the
	// broker-acknowledged order: BrokerOrderID set and Status reflecting the
	// broker's response. The input order is not mutated.
	SubmitOrder(ctx context.Context, order *entity.Order) (*entity.Order, error)

	// RefreshOrders reconciles local open orders for the expert against the
	// broker, persisting status and fill changes and publishing an
	// OrderStatusEvent per changed order.
	RefreshOrders(ctx context.Context, expertID int64) error

	// RefreshPositions reconciles broker positions for the expert.
	RefreshPositions(ctx context.Context, expertID int64) error

	// RefreshTransactions updates transaction statuses from the fill state of
	// their linked orders.
	RefreshTransactions(ctx context.Context, expertID int64) error
}

// AccountResolver maps an expert to its broker account code.
type AccountResolver interface {
	// AccountFor returns the broker account code for the expert. A missing
	// mapping is an error.
	AccountFor(ctx context.Context, expertID int64) (string, error)
}
