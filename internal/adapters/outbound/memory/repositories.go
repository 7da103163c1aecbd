package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time checks that the views implement the repository ports.
var (
	_ outbound.OrderRepository          = (*OrderRepository)(nil)
	_ outbound.TransactionRepository    = (*TransactionRepository)(nil)
	_ outbound.RecommendationRepository = (*RecommendationRepository)(nil)
	_ outbound.ExpertRepository         = (*ExpertRepository)(nil)
	_ outbound.AuditRepository          = (*AuditRepository)(nil)
)

// OrderRepository is the in-memory implementation of outbound.OrderRepository.
type OrderRepository struct{ s *Store }

// Add implements outbound.OrderRepository.
func (r *OrderRepository) Add(ctx context.Context, tx pgx.Tx, order *entity.Order) (int64, error) {
	if order == nil {
		return 0, fmt.Errorf("order cannot be nil")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextOrderID++
	stored := order.Clone()
	stored.ID = r.s.nextOrderID
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.s.orders[stored.ID] = stored

	order.ID = stored.ID
	order.CreatedAt = stored.CreatedAt
	order.UpdatedAt = stored.UpdatedAt
	return stored.ID, nil
}

// Get implements outbound.OrderRepository.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*entity.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	order, ok := r.s.orders[id]
	if !ok {
		return nil, nil
	}
	return order.Clone(), nil
}

// GetTx implements outbound.OrderRepository.
func (r *OrderRepository) GetTx(ctx context.Context, tx pgx.Tx, id int64) (*entity.Order, error) {
	return r.Get(ctx, id)
}

// Update implements outbound.OrderRepository.
func (r *OrderRepository) Update(ctx context.Context, order *entity.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.orders[order.ID]; !ok {
		return fmt.Errorf("order %d not found", order.ID)
	}
	stored := order.Clone()
	stored.UpdatedAt = time.Now()
	r.s.orders[order.ID] = stored
	order.UpdatedAt = stored.UpdatedAt
	return nil
}

// UpdateTx implements outbound.OrderRepository.
func (r *OrderRepository) UpdateTx(ctx context.Context, tx pgx.Tx, order *entity.Order) error {
	return r.Update(ctx, order)
}

// ListWaitingTrigger implements outbound.OrderRepository.
func (r *OrderRepository) ListWaitingTrigger(ctx context.Context, tx pgx.Tx, parentIDs []int64) ([]*entity.Order, error) {
	parents := make(map[int64]bool, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = true
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var result []*entity.Order
	for _, order := range r.s.orders {
		if order.Status != entity.OrderStatusWaitingTrigger {
			continue
		}
		if len(parents) > 0 {
			if order.DependsOnOrderID == nil || !parents[*order.DependsOnOrderID] {
				continue
			}
		}
		result = append(result, order.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ListByStatus implements outbound.OrderRepository.
func (r *OrderRepository) ListByStatus(ctx context.Context, statuses ...entity.OrderStatus) ([]*entity.Order, error) {
	wanted := make(map[entity.OrderStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var result []*entity.Order
	for _, order := range r.s.orders {
		if wanted[order.Status] {
			result = append(result, order.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ListDependents implements outbound.OrderRepository.
func (r *OrderRepository) ListDependents(ctx context.Context, tx pgx.Tx, parentID int64) ([]*entity.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var result []*entity.Order
	for _, order := range r.s.orders {
		if order.DependsOnOrderID != nil && *order.DependsOnOrderID == parentID {
			result = append(result, order.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// LatestActiveForSymbol implements outbound.OrderRepository.
func (r *OrderRepository) LatestActiveForSymbol(ctx context.Context, expertID int64, symbol string) (*entity.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var latest *entity.Order
	for _, order := range r.s.orders {
		if order.ExpertID != expertID || order.Symbol != symbol || order.Status.IsTerminal() {
			continue
		}
		if latest == nil || order.ID > latest.ID {
			latest = order
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Clone(), nil
}

// Delete implements outbound.OrderRepository.
func (r *OrderRepository) Delete(ctx context.Context, tx pgx.Tx, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.orders[id]; !ok {
		return fmt.Errorf("order %d not found", id)
	}
	delete(r.s.orders, id)
	return nil
}

// TransactionRepository is the in-memory implementation of
// outbound.TransactionRepository.
type TransactionRepository struct{ s *Store }

// Add implements outbound.TransactionRepository.
func (r *TransactionRepository) Add(ctx context.Context, tx pgx.Tx, txn *entity.Transaction) (int64, error) {
	if txn == nil {
		return 0, fmt.Errorf("transaction cannot be nil")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextTxnID++
	stored := txn.Clone()
	stored.ID = r.s.nextTxnID
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.s.transactions[stored.ID] = stored

	txn.ID = stored.ID
	txn.CreatedAt = stored.CreatedAt
	txn.UpdatedAt = stored.UpdatedAt
	return stored.ID, nil
}

// Get implements outbound.TransactionRepository.
func (r *TransactionRepository) Get(ctx context.Context, id int64) (*entity.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	txn, ok := r.s.transactions[id]
	if !ok {
		return nil, nil
	}
	return txn.Clone(), nil
}

// GetTx implements outbound.TransactionRepository.
func (r *TransactionRepository) GetTx(ctx context.Context, tx pgx.Tx, id int64) (*entity.Transaction, error) {
	return r.Get(ctx, id)
}

// Update implements outbound.TransactionRepository.
func (r *TransactionRepository) Update(ctx context.Context, txn *entity.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.transactions[txn.ID]; !ok {
		return fmt.Errorf("transaction %d not found", txn.ID)
	}
	stored := txn.Clone()
	stored.UpdatedAt = time.Now()
	r.s.transactions[txn.ID] = stored
	txn.UpdatedAt = stored.UpdatedAt
	return nil
}

// UpdateTx implements outbound.TransactionRepository.
func (r *TransactionRepository) UpdateTx(ctx context.Context, tx pgx.Tx, txn *entity.Transaction) error {
	return r.Update(ctx, txn)
}

// HasActiveForSymbol implements outbound.TransactionRepository.
func (r *TransactionRepository) HasActiveForSymbol(ctx context.Context, expertID int64, symbol string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, txn := range r.s.transactions {
		if txn.ExpertID == expertID && txn.Symbol == symbol && txn.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

// CloseTx implements outbound.TransactionRepository.
func (r *TransactionRepository) CloseTx(ctx context.Context, tx pgx.Tx, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	txn, ok := r.s.transactions[id]
	if !ok {
		return fmt.Errorf("transaction %d not found", id)
	}
	txn.Status = entity.TransactionStatusClosed
	txn.UpdatedAt = time.Now()
	return nil
}

// RecommendationRepository is the in-memory implementation of
// outbound.RecommendationRepository.
type RecommendationRepository struct{ s *Store }

// Add implements outbound.RecommendationRepository.
func (r *RecommendationRepository) Add(ctx context.Context, rec *entity.Recommendation) (int64, error) {
	if rec == nil {
		return 0, fmt.Errorf("recommendation cannot be nil")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextRecID++
	stored := rec.Clone()
	stored.ID = r.s.nextRecID
	r.s.recommendations[stored.ID] = stored

	rec.ID = stored.ID
	return stored.ID, nil
}

// ListRecent implements outbound.RecommendationRepository.
func (r *RecommendationRepository) ListRecent(ctx context.Context, expertID int64, useCase string, since time.Time) ([]*entity.Recommendation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var result []*entity.Recommendation
	for _, rec := range r.s.recommendations {
		if rec.ExpertID != expertID || rec.UseCase != useCase || rec.GeneratedAt.Before(since) {
			continue
		}
		result = append(result, rec.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].GeneratedAt.Equal(result[j].GeneratedAt) {
			return result[i].GeneratedAt.After(result[j].GeneratedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// ExpertRepository is the in-memory implementation of
// outbound.ExpertRepository.
type ExpertRepository struct{ s *Store }

// Get implements outbound.ExpertRepository.
func (r *ExpertRepository) Get(ctx context.Context, id int64) (*entity.Expert, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	expert, ok := r.s.experts[id]
	if !ok {
		return nil, nil
	}
	return expert.Clone(), nil
}

// List implements outbound.ExpertRepository.
func (r *ExpertRepository) List(ctx context.Context) ([]*entity.Expert, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]*entity.Expert, 0, len(r.s.experts))
	for _, expert := range r.s.experts {
		result = append(result, expert.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// AuditRepository is the in-memory implementation of outbound.AuditRepository.
type AuditRepository struct{ s *Store }

// Add implements outbound.AuditRepository.
func (r *AuditRepository) Add(ctx context.Context, record *entity.AuditRecord) error {
	if record == nil {
		return fmt.Errorf("audit record cannot be nil")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextAuditID++
	stored := *record
	stored.ID = r.s.nextAuditID
	stored.CreatedAt = time.Now()
	r.s.audits = append(r.s.audits, &stored)

	record.ID = stored.ID
	return nil
}
