package entity

import (
	"fmt"
	"time"
)

// AuditOutcome classifies why a recommendation evaluation did or did not
// produce orders.
type AuditOutcome string

const (
	AuditOutcomeOrdersCreated AuditOutcome = "orders_created"
	AuditOutcomeNoAction      AuditOutcome = "no_action"
	AuditOutcomeRuleError     AuditOutcome = "rule_error"
	AuditOutcomeSkippedActive AuditOutcome = "skipped_active"
)

// validAuditOutcomes contains all valid audit outcomes for quick lookup
var validAuditOutcomes = map[AuditOutcome]bool{
	AuditOutcomeOrdersCreated: true,
	AuditOutcomeNoAction:      true,
	AuditOutcomeRuleError:     true,
	AuditOutcomeSkippedActive: true,
}

// IsValid returns true if the AuditOutcome is a known valid outcome
func (o AuditOutcome) IsValid() bool {
	return validAuditOutcomes[o]
}

// AuditRecord captures the result of evaluating one recommendation so
// operators can reconstruct why the system acted or declined.
type AuditRecord struct {
	ID               int64
	ExpertID         int64
	UseCase          string
	Symbol           string
	RecommendationID *int64
	Outcome          AuditOutcome
	Details          map[string]any
	CreatedAt        time.Time
}

// NewAuditRecord creates a new AuditRecord with validation.
func NewAuditRecord(expertID int64, useCase, symbol string, outcome AuditOutcome) (*AuditRecord, error) {
	a := &AuditRecord{
		ExpertID: expertID,
		UseCase:  useCase,
		Symbol:   symbol,
		Outcome:  outcome,
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *AuditRecord) validate() error {
	if a.ExpertID <= 0 {
		return fmt.Errorf("expertID must be positive, got %d", a.ExpertID)
	}
	if a.UseCase == "" {
		return fmt.Errorf("useCase must not be empty")
	}
	if a.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if !a.Outcome.IsValid() {
		return fmt.Errorf("invalid audit outcome: %q", a.Outcome)
	}
	return nil
}
