package outbound

import (
	"context"

	"github.com/stratalab/tradexec/internal/domain/entity"
)

// EvaluationInput carries everything a rule set needs to judge one
// recommendation.
type EvaluationInput struct {
	Expert         *entity.Expert
	RuleSetID      int64
	Recommendation *entity.Recommendation
	// ExistingOrder is the latest non-terminal order for the same symbol, nil
	// when the expert has none.
	ExistingOrder *entity.Order
}

// OrderProposal is one order a rule set wants created, together with its
// dependent legs. Dependents are persisted with DependsOnOrderID pointing at
// the proposal's order; the caller stamps the ID after the parent insert.
// When Transaction is non-nil it is inserted first and its ID stamped onto
// the order and every dependent, grouping them into one trade bracket.
type OrderProposal struct {
	Order       *entity.Order
	Dependents  []*entity.Order
	Transaction *entity.Transaction
}

// EvaluationResult is the outcome of evaluating one recommendation.
type EvaluationResult struct {
	Proposals []OrderProposal
	// Details explains the decision for the audit trail.
	Details map[string]any
	// Errs lists rule executions that failed. Any entry makes the evaluation
	// a rule_error outcome.
	Errs []string
}

// RuleEngine evaluates a rule set against a recommendation. Implementations
// must not persist orders; proposals are persisted by the caller so that one
// recommendation's orders commit atomically.
type RuleEngine interface {
	Evaluate(ctx context.Context, input EvaluationInput) (*EvaluationResult, error)
}
