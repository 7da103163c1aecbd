// Package memory provides in-memory implementations of the outbound ports
// for tests and local runs. All adapters are safe for concurrent use and
// carry no infrastructure dependencies.
package memory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check that Store implements outbound.TxManager
var _ outbound.TxManager = (*Store)(nil)

// Store holds the shared in-memory tables. Repository views over it are
// obtained from Orders(), Transactions(), Recommendations(), Experts() and
// Audits(). As TxManager it runs fn(nil): mutations apply immediately and
// are not rolled back when fn fails, which is enough for the service tests
// that use it.
type Store struct {
	mu sync.RWMutex

	orders          map[int64]*entity.Order
	transactions    map[int64]*entity.Transaction
	recommendations map[int64]*entity.Recommendation
	experts         map[int64]*entity.Expert
	audits          []*entity.AuditRecord

	nextOrderID int64
	nextTxnID   int64
	nextRecID   int64
	nextAuditID int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		orders:          make(map[int64]*entity.Order),
		transactions:    make(map[int64]*entity.Transaction),
		recommendations: make(map[int64]*entity.Recommendation),
		experts:         make(map[int64]*entity.Expert),
	}
}

// WithTransaction implements outbound.TxManager for tests.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

// Orders returns the OrderRepository view of the store.
func (s *Store) Orders() *OrderRepository { return &OrderRepository{s: s} }

// Transactions returns the TransactionRepository view of the store.
func (s *Store) Transactions() *TransactionRepository { return &TransactionRepository{s: s} }

// Recommendations returns the RecommendationRepository view of the store.
func (s *Store) Recommendations() *RecommendationRepository {
	return &RecommendationRepository{s: s}
}

// Experts returns the ExpertRepository view of the store.
func (s *Store) Experts() *ExpertRepository { return &ExpertRepository{s: s} }

// Audits returns the AuditRepository view of the store.
func (s *Store) Audits() *AuditRepository { return &AuditRepository{s: s} }

// PutExpert seeds an expert. Test helper.
func (s *Store) PutExpert(expert *entity.Expert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.experts[expert.ID] = expert.Clone()
}

// AuditRecords returns all stored audit records. Test helper.
func (s *Store) AuditRecords() []*entity.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*entity.AuditRecord, len(s.audits))
	copy(result, s.audits)
	return result
}
