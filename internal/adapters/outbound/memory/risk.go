package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check for the risk manager port.
var _ outbound.RiskManager = (*RiskManager)(nil)

// RiskManager is a fixed-size implementation of the RiskManager port. Every
// unsized pending order gets the configured quantity; SetMaxFunded caps how
// many orders per review receive a quantity, the rest come back zero.
type RiskManager struct {
	orders outbound.OrderRepository

	mu        sync.Mutex
	quantity  decimal.Decimal
	maxFunded int
}

// NewRiskManager creates a risk manager that funds pending orders at the
// given fixed quantity.
func NewRiskManager(orders outbound.OrderRepository, quantity decimal.Decimal) (*RiskManager, error) {
	if orders == nil {
		return nil, fmt.Errorf("orders repository is required")
	}
	return &RiskManager{orders: orders, quantity: quantity, maxFunded: -1}, nil
}

// SetMaxFunded caps how many orders per review receive a quantity. Negative
// removes the cap.
func (m *RiskManager) SetMaxFunded(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxFunded = n
}

// ReviewAndPrioritizePendingOrders implements outbound.RiskManager. Orders
// are prioritized oldest first; orders that already carry a quantity keep it
// but still count against the funding cap.
func (m *RiskManager) ReviewAndPrioritizePendingOrders(ctx context.Context, expertID int64) ([]*entity.Order, error) {
	pending, err := m.orders.ListByStatus(ctx, entity.OrderStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}

	m.mu.Lock()
	quantity := m.quantity
	budget := m.maxFunded
	m.mu.Unlock()

	var result []*entity.Order
	for _, order := range pending {
		if order.ExpertID != expertID {
			continue
		}
		if budget == 0 {
			order.Quantity = decimal.Zero
		} else {
			if !order.Quantity.IsPositive() {
				order.Quantity = quantity
			}
			if budget > 0 {
				budget--
			}
		}
		result = append(result, order)
	}
	return result, nil
}
