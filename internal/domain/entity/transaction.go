package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	// TransactionStatusWaiting marks a transaction whose entry order has not
	// been confirmed by the broker yet.
	TransactionStatusWaiting TransactionStatus = "waiting"
	// TransactionStatusOpened marks a transaction with a live position.
	TransactionStatusOpened TransactionStatus = "opened"
	// TransactionStatusClosed marks a finished transaction.
	TransactionStatusClosed TransactionStatus = "closed"
)

// validTransactionStatuses contains all valid transaction statuses for quick lookup
var validTransactionStatuses = map[TransactionStatus]bool{
	TransactionStatusWaiting: true,
	TransactionStatusOpened:  true,
	TransactionStatusClosed:  true,
}

// IsValid returns true if the TransactionStatus is a known valid status
func (s TransactionStatus) IsValid() bool {
	return validTransactionStatuses[s]
}

// IsActive returns true while the transaction still represents exposure.
func (s TransactionStatus) IsActive() bool {
	return s == TransactionStatusWaiting || s == TransactionStatusOpened
}

// String returns the string representation of the TransactionStatus
func (s TransactionStatus) String() string {
	return string(s)
}

// Transaction groups an entry order with its protective legs into one trade
// bracket. Prices are zero when unset.
type Transaction struct {
	ID         int64
	ExpertID   int64
	Symbol     string
	Status     TransactionStatus
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
	OpenPrice  decimal.Decimal
	ClosePrice decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewTransaction creates a new Transaction in the waiting state.
func NewTransaction(expertID int64, symbol string) (*Transaction, error) {
	txn := &Transaction{
		ExpertID: expertID,
		Symbol:   symbol,
		Status:   TransactionStatusWaiting,
	}
	if err := txn.validate(); err != nil {
		return nil, err
	}
	return txn, nil
}

func (t *Transaction) validate() error {
	if t.ExpertID <= 0 {
		return fmt.Errorf("expertID must be positive, got %d", t.ExpertID)
	}
	if t.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid transaction status: %q", t.Status)
	}
	return nil
}

// IsActive reports whether the transaction still represents exposure.
func (t *Transaction) IsActive() bool {
	return t.Status.IsActive()
}

// Clone returns a copy of the transaction.
func (t *Transaction) Clone() *Transaction {
	c := *t
	return &c
}
