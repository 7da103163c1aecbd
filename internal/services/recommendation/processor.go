// Package recommendation turns recent trade recommendations into orders.
//
// One processing round covers a single (expert, use case) pair. Rounds for
// the same pair are serialized through a per-key lock; rounds for different
// pairs run concurrently. A round evaluates the freshest recommendation per
// symbol against the expert's rule set, persists the proposed orders, sizes
// them through the risk review and hands the funded ones to the broker.
package recommendation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/pkg/keylock"
	"github.com/stratalab/tradexec/internal/ports/outbound"
	"github.com/stratalab/tradexec/internal/scheduler"
	"github.com/stratalab/tradexec/internal/services/trigger_engine"
)

// tracerName is the instrumentation name for this service.
const tracerName = "github.com/stratalab/tradexec/internal/services/recommendation"

// OrderSubmitter is the slice of the order submitter a processing round
// needs. The submitter persists each outcome itself.
type OrderSubmitter interface {
	Submit(ctx context.Context, order *entity.Order) (*entity.Order, error)
}

// Sweeper runs one trigger sweep so dependents of instantly filled entries
// are released without waiting for the next periodic sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (trigger_engine.SweepStats, error)
}

// TaskTable exposes the scheduler's live tasks. A processing round defers
// itself while an analysis task for the same pair is still running, since
// that task is about to write fresher recommendations.
type TaskTable interface {
	Snapshot() []scheduler.TaskState
}

// Config holds configuration for the Processor.
type Config struct {
	// LockWait bounds how long a round waits for the per-pair lock before
	// reporting the pair busy.
	LockWait time.Duration

	// Lookback is how far back a round reads recommendations.
	Lookback time.Duration

	// Logger is the structured logger.
	Logger *slog.Logger
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		LockWait: 500 * time.Millisecond,
		Lookback: 30 * time.Minute,
		Logger:   slog.Default(),
	}
}

// Processor drives one processing round per (expert, use case) pair.
type Processor struct {
	config Config

	locks           *keylock.Table
	txManager       outbound.TxManager
	experts         outbound.ExpertRepository
	recommendations outbound.RecommendationRepository
	orders          outbound.OrderRepository
	transactions    outbound.TransactionRepository
	audits          outbound.AuditRepository
	rules           outbound.RuleEngine
	risk            outbound.RiskManager
	submitter       OrderSubmitter
	sweeper         Sweeper
	tasks           TaskTable

	logger *slog.Logger
}

// NewProcessor creates a new recommendation processor. tasks may be nil,
// in which case rounds never defer to running analysis tasks.
func NewProcessor(
	config Config,
	locks *keylock.Table,
	txManager outbound.TxManager,
	experts outbound.ExpertRepository,
	recommendations outbound.RecommendationRepository,
	orders outbound.OrderRepository,
	transactions outbound.TransactionRepository,
	audits outbound.AuditRepository,
	rules outbound.RuleEngine,
	risk outbound.RiskManager,
	submitter OrderSubmitter,
	sweeper Sweeper,
	tasks TaskTable,
) (*Processor, error) {
	if err := validateDependencies(locks, txManager, experts, recommendations, orders, transactions, audits, rules, risk, submitter, sweeper); err != nil {
		return nil, err
	}

	// Apply defaults
	defaults := ConfigDefaults()
	if config.LockWait <= 0 {
		config.LockWait = defaults.LockWait
	}
	if config.Lookback <= 0 {
		config.Lookback = defaults.Lookback
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Processor{
		config:          config,
		locks:           locks,
		txManager:       txManager,
		experts:         experts,
		recommendations: recommendations,
		orders:          orders,
		transactions:    transactions,
		audits:          audits,
		rules:           rules,
		risk:            risk,
		submitter:       submitter,
		sweeper:         sweeper,
		tasks:           tasks,
		logger:          config.Logger.With("component", "recommendation-processor"),
	}, nil
}

func validateDependencies(
	locks *keylock.Table,
	txManager outbound.TxManager,
	experts outbound.ExpertRepository,
	recommendations outbound.RecommendationRepository,
	orders outbound.OrderRepository,
	transactions outbound.TransactionRepository,
	audits outbound.AuditRepository,
	rules outbound.RuleEngine,
	risk outbound.RiskManager,
	submitter OrderSubmitter,
	sweeper Sweeper,
) error {
	if locks == nil {
		return fmt.Errorf("locks is required")
	}
	if txManager == nil {
		return fmt.Errorf("txManager is required")
	}
	if experts == nil {
		return fmt.Errorf("experts is required")
	}
	if recommendations == nil {
		return fmt.Errorf("recommendations is required")
	}
	if orders == nil {
		return fmt.Errorf("orders is required")
	}
	if transactions == nil {
		return fmt.Errorf("transactions is required")
	}
	if audits == nil {
		return fmt.Errorf("audits is required")
	}
	if rules == nil {
		return fmt.Errorf("rules is required")
	}
	if risk == nil {
		return fmt.Errorf("risk is required")
	}
	if submitter == nil {
		return fmt.Errorf("submitter is required")
	}
	if sweeper == nil {
		return fmt.Errorf("sweeper is required")
	}
	return nil
}

// ProcessRecommendations runs one round for the pair. It returns the orders
// it created, before risk sizing; callers that need final quantities reload
// them. A busy pair, a disabled expert, a missing rule set or an in-flight
// analysis task all end the round early with (nil, nil).
func (p *Processor) ProcessRecommendations(ctx context.Context, expertID int64, useCase string) ([]*entity.Order, error) {
	key := keylock.Key{OwnerID: expertID, UseCase: useCase}
	if !p.locks.TryLock(ctx, key, p.config.LockWait) {
		p.logger.Debug("round already in flight for pair",
			"expertId", expertID,
			"useCase", useCase)
		return nil, nil
	}
	defer p.locks.Unlock(key)

	start := time.Now()

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "recommendation.process",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int64("expert_id", expertID),
			attribute.String("use_case", useCase),
		),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("process.duration_ms", time.Since(start).Milliseconds()))
		span.End()
	}()

	expert, err := p.experts.Get(ctx, expertID)
	if err != nil {
		err = fmt.Errorf("failed to load expert %d: %w", expertID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "expert lookup failed")
		return nil, err
	}
	if expert == nil || !expert.AutoTradingEnabled {
		return nil, nil
	}

	ruleSetID, ok := expert.RuleSetFor(useCase)
	if !ok {
		return nil, nil
	}

	if p.analysisInFlight(expertID, useCase) {
		p.logger.Debug("analysis task in flight, deferring round",
			"expertId", expertID,
			"useCase", useCase)
		return nil, nil
	}

	since := time.Now().Add(-p.config.Lookback)
	recent, err := p.recommendations.ListRecent(ctx, expertID, useCase, since)
	if err != nil {
		err = fmt.Errorf("failed to list recommendations: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "recommendation listing failed")
		return nil, err
	}
	candidates := dedupeLatest(recent)

	var created []*entity.Order
	for _, rec := range candidates {
		orders, err := p.processOne(ctx, expert, ruleSetID, rec)
		if err != nil {
			// One bad recommendation must not end the round.
			p.logger.Error("failed to process recommendation",
				"recommendationId", rec.ID,
				"symbol", rec.Symbol,
				"error", err)
			continue
		}
		created = append(created, orders...)
	}

	if len(created) > 0 {
		p.sizeAndSubmit(ctx, expertID)
	}

	span.SetAttributes(
		attribute.Int("process.candidates", len(candidates)),
		attribute.Int("process.orders_created", len(created)),
	)
	if len(created) > 0 {
		p.logger.Info("processing round complete",
			"expertId", expertID,
			"useCase", useCase,
			"candidates", len(candidates),
			"ordersCreated", len(created),
			"duration", time.Since(start))
	}
	return created, nil
}

// analysisInFlight reports whether the scheduler is still running an
// analysis task for the pair.
func (p *Processor) analysisInFlight(expertID int64, useCase string) bool {
	if p.tasks == nil {
		return false
	}
	for _, task := range p.tasks.Snapshot() {
		if task.OwnerID == expertID && task.UseCase == useCase {
			return true
		}
	}
	return false
}

// dedupeLatest keeps the most recent recommendation per symbol and orders
// the result by expected profit, best first.
func dedupeLatest(recs []*entity.Recommendation) []*entity.Recommendation {
	latest := make(map[string]*entity.Recommendation, len(recs))
	for _, rec := range recs {
		cur, ok := latest[rec.Symbol]
		if !ok || rec.GeneratedAt.After(cur.GeneratedAt) ||
			(rec.GeneratedAt.Equal(cur.GeneratedAt) && rec.ID > cur.ID) {
			latest[rec.Symbol] = rec
		}
	}

	result := make([]*entity.Recommendation, 0, len(latest))
	for _, rec := range latest {
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExpectedProfit.Equal(result[j].ExpectedProfit) {
			return result[i].ExpectedProfit.GreaterThan(result[j].ExpectedProfit)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// processOne evaluates a single recommendation and persists any proposed
// orders. It returns the created orders.
func (p *Processor) processOne(ctx context.Context, expert *entity.Expert, ruleSetID int64, rec *entity.Recommendation) ([]*entity.Order, error) {
	active, err := p.transactions.HasActiveForSymbol(ctx, expert.ID, rec.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to check active transactions for %s: %w", rec.Symbol, err)
	}
	if active {
		p.logger.Warn("skipping recommendation, symbol has an active transaction",
			"recommendationId", rec.ID,
			"symbol", rec.Symbol)
		p.audit(ctx, rec, entity.AuditOutcomeSkippedActive, map[string]any{
			"reason": "active transaction for symbol",
		})
		return nil, nil
	}

	existing, err := p.orders.LatestActiveForSymbol(ctx, expert.ID, rec.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load active order for %s: %w", rec.Symbol, err)
	}

	result, err := p.rules.Evaluate(ctx, outbound.EvaluationInput{
		Expert:         expert,
		RuleSetID:      ruleSetID,
		Recommendation: rec,
		ExistingOrder:  existing,
	})
	if err == nil && result == nil {
		err = fmt.Errorf("rule engine returned no result")
	}
	if err != nil {
		p.audit(ctx, rec, entity.AuditOutcomeRuleError, map[string]any{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("rule evaluation failed: %w", err)
	}
	if len(result.Errs) > 0 {
		p.audit(ctx, rec, entity.AuditOutcomeRuleError, map[string]any{
			"errors": result.Errs,
		})
		return nil, fmt.Errorf("rule evaluation reported %d rule errors", len(result.Errs))
	}
	if len(result.Proposals) == 0 {
		p.audit(ctx, rec, entity.AuditOutcomeNoAction, result.Details)
		return nil, nil
	}

	created, err := p.persistProposals(ctx, result.Proposals)
	if err != nil {
		return nil, err
	}

	details := map[string]any{"orders": len(created)}
	for k, v := range result.Details {
		details[k] = v
	}
	p.audit(ctx, rec, entity.AuditOutcomeOrdersCreated, details)
	return created, nil
}

// persistProposals writes one recommendation's proposals in a single
// transaction so a bracket is never half-created. The parent insert happens
// before its dependents so their DependsOnOrderID can be stamped.
func (p *Processor) persistProposals(ctx context.Context, proposals []outbound.OrderProposal) ([]*entity.Order, error) {
	var created []*entity.Order
	err := p.txManager.WithTransaction(ctx, func(tx pgx.Tx) error {
		for _, proposal := range proposals {
			if proposal.Order == nil {
				return fmt.Errorf("proposal without a parent order")
			}

			var txnID *int64
			if proposal.Transaction != nil {
				id, err := p.transactions.Add(ctx, tx, proposal.Transaction)
				if err != nil {
					return fmt.Errorf("failed to insert transaction: %w", err)
				}
				txnID = &id
			}

			parent := proposal.Order
			if txnID != nil {
				parent.TransactionID = txnID
			}
			parentID, err := p.orders.Add(ctx, tx, parent)
			if err != nil {
				return fmt.Errorf("failed to insert order: %w", err)
			}
			created = append(created, parent)

			for _, dep := range proposal.Dependents {
				dep.DependsOnOrderID = &parentID
				if txnID != nil {
					dep.TransactionID = txnID
				}
				if _, err := p.orders.Add(ctx, tx, dep); err != nil {
					return fmt.Errorf("failed to insert dependent order: %w", err)
				}
				created = append(created, dep)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// sizeAndSubmit runs the risk review over the expert's pending orders,
// persists the assigned quantities and submits the funded ones. Unfunded
// orders stay pending for a later round. Submission failures are isolated
// per order; the submitter persists those outcomes itself.
func (p *Processor) sizeAndSubmit(ctx context.Context, expertID int64) {
	reviewed, err := p.risk.ReviewAndPrioritizePendingOrders(ctx, expertID)
	if err != nil {
		p.logger.Error("risk review failed",
			"expertId", expertID,
			"error", err)
		return
	}

	for _, order := range reviewed {
		if err := p.orders.Update(ctx, order); err != nil {
			p.logger.Error("failed to persist risk-assigned quantity",
				"orderId", order.ID,
				"error", err)
			continue
		}
		if order.Status != entity.OrderStatusPending || !order.Quantity.IsPositive() {
			continue
		}
		if _, err := p.submitter.Submit(ctx, order); err != nil {
			p.logger.Error("failed to submit order",
				"orderId", order.ID,
				"symbol", order.Symbol,
				"error", err)
		}
	}

	// Entries can fill immediately; one sweep releases their protective legs
	// without waiting for the next periodic pass.
	if _, err := p.sweeper.Sweep(ctx); err != nil {
		p.logger.Error("trigger sweep after submission failed",
			"expertId", expertID,
			"error", err)
	}
}

// audit records the outcome of one recommendation evaluation. Audit writes
// are best-effort.
func (p *Processor) audit(ctx context.Context, rec *entity.Recommendation, outcome entity.AuditOutcome, details map[string]any) {
	recID := rec.ID
	record := &entity.AuditRecord{
		ExpertID:         rec.ExpertID,
		UseCase:          rec.UseCase,
		Symbol:           rec.Symbol,
		RecommendationID: &recID,
		Outcome:          outcome,
		Details:          details,
	}
	if err := p.audits.Add(ctx, record); err != nil {
		p.logger.Error("failed to write audit record",
			"recommendationId", rec.ID,
			"outcome", string(outcome),
			"error", err)
	}
}
