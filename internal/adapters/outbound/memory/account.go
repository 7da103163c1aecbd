package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time checks for the account ports.
var (
	_ outbound.AccountGateway  = (*AccountGateway)(nil)
	_ outbound.AccountResolver = (*AccountResolver)(nil)
)

// AccountGateway is a paper-trading implementation of the AccountGateway
// port. Submissions are accepted immediately; SetSubmitError injects
// failures and SetFillOnSubmit makes acceptances come back filled.
type AccountGateway struct {
	mu           sync.Mutex
	submitted    []*entity.Order
	nextBrokerID int
	submitErr    error
	fillOnSubmit bool
	fillPrice    decimal.Decimal
}

// NewAccountGateway creates a paper-trading gateway.
func NewAccountGateway() *AccountGateway {
	return &AccountGateway{}
}

// SetSubmitError makes subsequent SubmitOrder calls fail with err. Pass nil
// to restore acceptance.
func (g *AccountGateway) SetSubmitError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitErr = err
}

// SetFillOnSubmit makes subsequent acceptances come back filled at price.
func (g *AccountGateway) SetFillOnSubmit(price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fillOnSubmit = true
	g.fillPrice = price
}

// SubmitOrder implements outbound.AccountGateway.
func (g *AccountGateway) SubmitOrder(ctx context.Context, order *entity.Order) (*entity.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.submitErr != nil {
		return nil, g.submitErr
	}

	g.nextBrokerID++
	accepted := order.Clone()
	accepted.BrokerOrderID = fmt.Sprintf("sim-%d", g.nextBrokerID)
	accepted.Status = entity.OrderStatusOpen
	if g.fillOnSubmit {
		accepted.Status = entity.OrderStatusFilled
		accepted.FilledQuantity = accepted.Quantity
		accepted.FilledAvgPrice = g.fillPrice
	}

	g.submitted = append(g.submitted, accepted.Clone())
	return accepted, nil
}

// RefreshOrders implements outbound.AccountGateway. No-op for paper trading.
func (g *AccountGateway) RefreshOrders(ctx context.Context, expertID int64) error { return nil }

// RefreshPositions implements outbound.AccountGateway. No-op for paper
// trading.
func (g *AccountGateway) RefreshPositions(ctx context.Context, expertID int64) error { return nil }

// RefreshTransactions implements outbound.AccountGateway. No-op for paper
// trading.
func (g *AccountGateway) RefreshTransactions(ctx context.Context, expertID int64) error { return nil }

// SubmittedOrders returns every order the gateway accepted. Test helper.
func (g *AccountGateway) SubmittedOrders() []*entity.Order {
	g.mu.Lock()
	defer g.mu.Unlock()

	result := make([]*entity.Order, len(g.submitted))
	copy(result, g.submitted)
	return result
}

// AccountResolver is a map-backed implementation of the AccountResolver
// port.
type AccountResolver struct {
	mu       sync.RWMutex
	accounts map[int64]string
}

// NewAccountResolver creates a resolver seeded with the given mapping.
func NewAccountResolver(accounts map[int64]string) *AccountResolver {
	r := &AccountResolver{accounts: make(map[int64]string, len(accounts))}
	for id, code := range accounts {
		r.accounts[id] = code
	}
	return r
}

// AccountFor implements outbound.AccountResolver.
func (r *AccountResolver) AccountFor(ctx context.Context, expertID int64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	code, ok := r.accounts[expertID]
	if !ok || code == "" {
		return "", fmt.Errorf("no broker account configured for expert %d", expertID)
	}
	return code, nil
}
