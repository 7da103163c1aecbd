package memory

import (
	"context"
	"sync"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check for the rule engine port.
var _ outbound.RuleEngine = (*RuleEngine)(nil)

// RuleEngine is a built-in implementation of the RuleEngine port. Its default
// strategy proposes one bracket per recommendation: a market entry in the
// recommended direction plus a take-profit and a stop-loss leg that wait for
// the entry to fill. SetEvaluateFunc replaces the strategy, which is how
// tests script evaluation outcomes.
type RuleEngine struct {
	mu sync.Mutex
	fn func(ctx context.Context, input outbound.EvaluationInput) (*outbound.EvaluationResult, error)

	takeProfitPct float64
	stopLossPct   float64
}

// NewRuleEngine creates a rule engine with the default bracket strategy.
// takeProfitPct and stopLossPct are positive magnitudes; the engine applies
// signs according to the trade direction.
func NewRuleEngine(takeProfitPct, stopLossPct float64) *RuleEngine {
	return &RuleEngine{takeProfitPct: takeProfitPct, stopLossPct: stopLossPct}
}

// SetEvaluateFunc replaces the default strategy. Pass nil to restore it.
func (e *RuleEngine) SetEvaluateFunc(fn func(ctx context.Context, input outbound.EvaluationInput) (*outbound.EvaluationResult, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fn = fn
}

// Evaluate implements outbound.RuleEngine.
func (e *RuleEngine) Evaluate(ctx context.Context, input outbound.EvaluationInput) (*outbound.EvaluationResult, error) {
	e.mu.Lock()
	fn := e.fn
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, input)
	}
	return e.bracket(input)
}

// bracket is the default strategy. A recommendation with no live order for
// the symbol becomes a market entry plus two protective legs released when
// the entry fills. Quantities are left to the risk review.
func (e *RuleEngine) bracket(input outbound.EvaluationInput) (*outbound.EvaluationResult, error) {
	rec := input.Recommendation

	if input.ExistingOrder != nil {
		return &outbound.EvaluationResult{
			Details: map[string]any{
				"reason":            "symbol already has a live order",
				"existing_order_id": input.ExistingOrder.ID,
			},
		}, nil
	}

	entrySide := entity.OrderSideBuy
	exitSide := entity.OrderSideSell
	tpPct := e.takeProfitPct
	slPct := -e.stopLossPct
	if rec.Direction == entity.TradeDirectionShort {
		entrySide = entity.OrderSideSell
		exitSide = entity.OrderSideBuy
		tpPct = -e.takeProfitPct
		slPct = e.stopLossPct
	}

	entry := &entity.Order{
		ExpertID:    rec.ExpertID,
		Symbol:      rec.Symbol,
		Side:        entrySide,
		Type:        entity.OrderTypeMarket,
		TimeInForce: "day",
		Status:      entity.OrderStatusPending,
	}
	takeProfit := &entity.Order{
		ExpertID:        rec.ExpertID,
		Symbol:          rec.Symbol,
		Side:            exitSide,
		Type:            entity.OrderTypeLimit,
		TimeInForce:     "gtc",
		Status:          entity.OrderStatusWaitingTrigger,
		DependsOnStatus: entity.OrderStatusFilled,
		AuxData:         map[string]any{entity.AuxTakeProfitPercent: tpPct},
	}
	stopLoss := &entity.Order{
		ExpertID:        rec.ExpertID,
		Symbol:          rec.Symbol,
		Side:            exitSide,
		Type:            entity.OrderTypeStop,
		TimeInForce:     "gtc",
		Status:          entity.OrderStatusWaitingTrigger,
		DependsOnStatus: entity.OrderStatusFilled,
		AuxData:         map[string]any{entity.AuxStopLossPercent: slPct},
	}

	return &outbound.EvaluationResult{
		Proposals: []outbound.OrderProposal{{
			Order:      entry,
			Dependents: []*entity.Order{takeProfit, stopLoss},
			Transaction: &entity.Transaction{
				ExpertID: rec.ExpertID,
				Symbol:   rec.Symbol,
				Status:   entity.TransactionStatusWaiting,
			},
		}},
		Details: map[string]any{
			"strategy":  "bracket",
			"direction": string(rec.Direction),
		},
	}, nil
}
