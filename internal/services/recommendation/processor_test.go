package recommendation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/stratalab/tradexec/internal/adapters/outbound/memory"
	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/pkg/keylock"
	"github.com/stratalab/tradexec/internal/ports/outbound"
	"github.com/stratalab/tradexec/internal/scheduler"
	"github.com/stratalab/tradexec/internal/services/ordersubmit"
	"github.com/stratalab/tradexec/internal/services/trigger_engine"
)

// fakeTasks is a scripted TaskTable.
type fakeTasks struct {
	states []scheduler.TaskState
}

func (f *fakeTasks) Snapshot() []scheduler.TaskState { return f.states }

type processorFixture struct {
	processor *Processor
	store     *memory.Store
	locks     *keylock.Table
	rules     *memory.RuleEngine
	risk      *memory.RiskManager
	gateway   *memory.AccountGateway
	sink      *memory.EventSink
	tasks     *fakeTasks
}

// newProcessorFixture wires a processor against the in-memory adapters, the
// real order submitter and the real trigger engine. Expert 1 trades
// "enter_trade" with rule set 7 on account ACC-1.
func newProcessorFixture(t *testing.T, config Config) *processorFixture {
	t.Helper()

	store := memory.NewStore()
	store.PutExpert(&entity.Expert{
		ID:                 1,
		Name:               "alpha",
		AutoTradingEnabled: true,
		RuleSets:           map[string]int64{"enter_trade": 7},
		AccountCode:        "ACC-1",
	})

	locks := keylock.NewTable()
	rules := memory.NewRuleEngine(5, 2)
	risk, err := memory.NewRiskManager(store.Orders(), decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("failed to create risk manager: %v", err)
	}
	gateway := memory.NewAccountGateway()
	sink := memory.NewEventSink()

	resolver := memory.NewAccountResolver(map[int64]string{1: "ACC-1"})
	submitter, err := ordersubmit.NewSubmitter(ordersubmit.Config{}, resolver, gateway, store.Orders(), sink)
	if err != nil {
		t.Fatalf("failed to create submitter: %v", err)
	}

	engine, err := trigger_engine.NewEngine(trigger_engine.Config{}, store, store.Orders(), store.Transactions(), submitter, nil, sink)
	if err != nil {
		t.Fatalf("failed to create trigger engine: %v", err)
	}

	tasks := &fakeTasks{}
	processor, err := NewProcessor(config, locks, store,
		store.Experts(), store.Recommendations(), store.Orders(), store.Transactions(), store.Audits(),
		rules, risk, submitter, engine, tasks)
	if err != nil {
		t.Fatalf("failed to create processor: %v", err)
	}

	return &processorFixture{
		processor: processor,
		store:     store,
		locks:     locks,
		rules:     rules,
		risk:      risk,
		gateway:   gateway,
		sink:      sink,
		tasks:     tasks,
	}
}

func addRecommendation(t *testing.T, store *memory.Store, symbol string, direction entity.TradeDirection, profit int64, generatedAt time.Time) *entity.Recommendation {
	t.Helper()
	rec := &entity.Recommendation{
		ExpertID:       1,
		UseCase:        "enter_trade",
		Symbol:         symbol,
		Direction:      direction,
		ExpectedProfit: decimal.NewFromInt(profit),
		GeneratedAt:    generatedAt,
	}
	if _, err := store.Recommendations().Add(context.Background(), rec); err != nil {
		t.Fatalf("failed to seed recommendation: %v", err)
	}
	return rec
}

func auditsByOutcome(store *memory.Store, outcome entity.AuditOutcome) []*entity.AuditRecord {
	var result []*entity.AuditRecord
	for _, record := range store.AuditRecords() {
		if record.Outcome == outcome {
			result = append(result, record)
		}
	}
	return result
}

func TestProcessRecommendations_CreatesBracket(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, Config{})

	rec := addRecommendation(t, f.store, "AAPL", entity.TradeDirectionLong, 3, time.Now())

	created, err := f.processor.ProcessRecommendations(ctx, 1, "enter_trade")
	if err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created %d orders, want entry plus two legs", len(created))
	}

	entry, err := f.store.Orders().Get(ctx, created[0].ID)
	if err != nil || entry == nil {
		t.Fatalf("failed to load entry order: %v", err)
	}
	if entry.Status != entity.OrderStatusOpen {
		t.Errorf("entry status = %s, want open after submission", entry.Status)
	}
	if entry.BrokerOrderID == "" {
		t.Error("entry has no broker order ID")
	}
	if !entry.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("entry quantity = %s, want 10 from the risk review", entry.Quantity)
	}
	if entry.TransactionID == nil {
		t.Fatal("entry is not linked to a transaction")
	}

	txn, err := f.store.Transactions().Get(ctx, *entry.TransactionID)
	if err != nil || txn == nil {
		t.Fatalf("failed to load transaction: %v", err)
	}
	if txn.Status != entity.TransactionStatusWaiting {
		t.Errorf("transaction status = %s, want waiting", txn.Status)
	}

	for _, id := range []int64{created[1].ID, created[2].ID} {
		leg, err := f.store.Orders().Get(ctx, id)
		if err != nil || leg == nil {
			t.Fatalf("failed to load leg %d: %v", id, err)
		}
		if leg.Status != entity.OrderStatusWaitingTrigger {
			t.Errorf("leg %d status = %s, want waiting_trigger while the entry is open", id, leg.Status)
		}
		if leg.DependsOnOrderID == nil || *leg.DependsOnOrderID != entry.ID {
			t.Errorf("leg %d does not depend on the entry", id)
		}
		if leg.TransactionID == nil || *leg.TransactionID != txn.ID {
			t.Errorf("leg %d is not linked to the bracket transaction", id)
		}
	}

	audits := auditsByOutcome(f.store, entity.AuditOutcomeOrdersCreated)
	if len(audits) != 1 {
		t.Fatalf("got %d orders_created audits, want 1", len(audits))
	}
	if audits[0].RecommendationID == nil || *audits[0].RecommendationID != rec.ID {
		t.Error("audit does not reference the recommendation")
	}
	if audits[0].Details["orders"] != 3 {
		t.Errorf("audit details orders = %v, want 3", audits[0].Details["orders"])
	}
}

func TestProcessRecommendations_FilledEntryReleasesLegs(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, Config{})
	f.gateway.SetFillOnSubmit(decimal.NewFromInt(100))

	addRecommendation(t, f.store, "AAPL", entity.TradeDirectionLong, 3, time.Now())

	created, err := f.processor.ProcessRecommendations(ctx, 1, "enter_trade")
	if err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created %d orders, want 3", len(created))
	}

	entry, err := f.store.Orders().Get(ctx, created[0].ID)
	if err != nil || entry == nil {
		t.Fatalf("failed to load entry order: %v", err)
	}
	if entry.Status != entity.OrderStatusFilled {
		t.Fatalf("entry status = %s, want filled", entry.Status)
	}

	// The round's closing sweep released the legs and anchored their prices
	// to the fill.
	var limit, stop *entity.Order
	for _, id := range []int64{created[1].ID, created[2].ID} {
		leg, err := f.store.Orders().Get(ctx, id)
		if err != nil || leg == nil {
			t.Fatalf("failed to load leg %d: %v", id, err)
		}
		if leg.Status == entity.OrderStatusWaitingTrigger {
			t.Fatalf("leg %d still waiting after the entry filled", id)
		}
		switch leg.Type {
		case entity.OrderTypeLimit:
			limit = leg
		case entity.OrderTypeStop:
			stop = leg
		}
	}
	if limit == nil || stop == nil {
		t.Fatal("expected one limit and one stop leg")
	}
	if !limit.LimitPrice.Equal(decimal.NewFromInt(105)) {
		t.Errorf("take-profit limit = %s, want 105", limit.LimitPrice)
	}
	if !stop.StopPrice.Equal(decimal.NewFromInt(98)) {
		t.Errorf("stop-loss stop = %s, want 98", stop.StopPrice)
	}

	txn, err := f.store.Transactions().Get(ctx, *entry.TransactionID)
	if err != nil || txn == nil {
		t.Fatalf("failed to load transaction: %v", err)
	}
	if !txn.TakeProfit.Equal(decimal.NewFromInt(105)) || !txn.StopLoss.Equal(decimal.NewFromInt(98)) {
		t.Errorf("transaction targets = %s/%s, want 105/98", txn.TakeProfit, txn.StopLoss)
	}
}

func TestProcessRecommendations_BusyPair(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, Config{LockWait: 20 * time.Millisecond})

	addRecommendation(t, f.store, "AAPL", entity.TradeDirectionLong, 3, time.Now())

	key := keylock.Key{OwnerID: 1, UseCase: "enter_trade"}
	if !f.locks.TryLock(ctx, key, 10*time.Millisecond) {
		t.Fatal("failed to take the pair lock")
	}

	created, err := f.processor.ProcessRecommendations(ctx, 1, "enter_trade")
	if err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if created != nil {
		t.Errorf("busy pair produced orders: %v", created)
	}

	f.locks.Unlock(key)

	created, err = f.processor.ProcessRecommendations(ctx, 1, "enter_trade")
	if err != nil {
		t.Fatalf("processing after unlock failed: %v", err)
	}
	if len(created) != 3 {
		t.Errorf("created %d orders after unlock, want 3", len(created))
	}
	if f.locks.Len() != 0 {
		t.Errorf("lock table still tracks %d keys", f.locks.Len())
	}
}

func TestProcessRecommendations_DisabledExpert(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, Config{})
	f.store.PutExpert(&entity.Expert{
		ID:                 1,
		Name:               "alpha",
		AutoTradingEnabled: false,
		RuleSets:           map[string]int64{"enter_trade": 7},
		AccountCode:        "ACC-1",
	})

	addRecommendation(t, f.store, "AAPL", entity.TradeDirectionLong, 3, time.Now())

	created, err := f.processor.ProcessRecommendations(ctx, 1, "enter_trade")
	if err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if created != nil {
		t.Errorf("disabled expert produced orders: %v", created)
	}
	if got := len(f.store.AuditRecords()); got != 0 {
		t.Errorf("disabled expert wrote %d audit records", got)
	}
}

func TestProcessRecommendations_UnknownExpert(t *testing.T) {
	f := newProcessorFixture(t, Config{})

	created, err := f.processor.ProcessRecommendations(context.Background(), 99, "enter_trade")
	if err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if created != nil {
		t.Errorf("unknown expert produced orders: %v", created)
	}
}

func TestProcessRecommendations_NoRuleSetForUseCase(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, Config{})

	addRecommendation(t, f.store, "AAPL", entity.TradeDirectionLong, 3, time.Now())

	created, err := f.processor.ProcessRecommendations(ctx, 1, "manage_position")
	if err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if created != nil {
		t.Errorf("unconfigured use case produced orders: %v", created)
	}
}

func TestProcessRecommendations_DefersToRunningAnalysis(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, Config{})

	addRecommendation(t, f.store, "AAPL", entity.TradeDirectionLong, 3, time.Now())
	f.tasks.states = []scheduler.TaskState{{Worker: 0, TaskID: "t-1", OwnerID: 1, UseCase: "enter_trade"}}

	created, err := f.processor.ProcessRecommendations(ctx, 1, "enter_trade")
	if err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if created != nil {
		t.Errorf("round ran despite an in-flight analysis task: %v", created)
	}

	// A task for a different pair does not defer the round.
	f.tasks.states = []scheduler.TaskState{{Worker: 0, TaskID: "t-2", OwnerID: 2, UseCase: "enter_trade"}}

	created, err = f.processor.ProcessRecommendations(ctx, 1, "enter_trade")
	if err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if len(created) != 3 {
		t.Errorf("created %d orders, want 3", len(created))
	}
}

func TestProcessRecommendations_DedupesAndOrdersCandidates(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, Config{})

	base := time.Now().Add(-5 * time.Minute)
	stale := addRecommendation(t, f.store, "AAPL", entity.TradeDirectionLong, 2, base)
	fresh := addRecommendation(t, f.store, "AAPL", entity.TradeDirectionShort, 2, base.Add(time.Minute))
	best := addRecommendation(t, f.store, "MSFT", entity.TradeDirectionLong, 9, base)

	var evaluated []int64
	f.rules.SetEvaluateFunc(func(ctx context.Context, input outbound.EvaluationInput) (*outbound.EvaluationResult, error) {
		evaluated = append(evaluated, input.Recommendation.ID)
		return &outbound.EvaluationResult{}, nil
	})

	if _, err := f.processor.ProcessRecommendations(ctx, 1, "enter_trade"); err != nil {
		t.Fatalf("processing failed: %v", err)
	}

	if len(evaluated) != 2 {
		t.Fatalf("evaluated %d candidates, want 2", len(evaluated))
	}
	if evaluated[0] != best.ID {
		t.Errorf("first candidate = %d, want the most profitable %d", evaluated[0], best.ID)
	}
	if evaluated[1] != fresh.ID {
		t.Errorf("second candidate = %d, want the freshest for the symbol %d", evaluated[1], fresh.ID)
	}
	for _, id := range evaluated {
		if id == stale.ID {
			t.Error("superseded recommendation was evaluated")
		}
	}
}

func TestProcessRecommendations_IgnoresStaleRecommendations(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, Config{Lookback: 10 * time.Minute})

	addRecommendation(t, f.store, "AAPL", entity.TradeDirectionLong, 3, time.Now().Add(-time.Hour))

	created, err := f.processor.ProcessRecommendations(ctx, 1, "enter_trade")
	if err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if created != nil {
		t.Errorf("stale recommendation produced orders: %v", created)
	}
}

func TestProcessRecommendations_SkipsSymbolWithActiveTransaction(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, Config{})

	txn := &entity.Transaction{ExpertID: 1, Symbol: "AAPL", Status: entity.TransactionStatusOpened}
	if _, err := f.store.Transactions().Add(ctx, nil, txn); err != nil {
		t.Fatalf("failed to seed transaction: %v", err)
	}
	addRecommendation(t, f.store, "AAPL", entity.TradeDirectionLong, 3, time.Now())

	created, err := f.processor.ProcessRecommendations(ctx, 1, "enter_trade")
	if err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if created != nil {
		t.Errorf("active symbol produced orders: %v", created)
	}

	audits := auditsByOutcome(f.store, entity.AuditOutcomeSkippedActive)
	if len(audits) != 1 {
		t.Fatalf("got %d skipped_active audits, want 1", len(audits))
	}
	if audits[0].Symbol != "AAPL" {
		t.Errorf("audit symbol = %s, want AAPL", audits[0].Symbol)
	}
}

func TestProcessRecommendations_PassesExistingOrderToRules(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, Config{})

	existing := &entity.Order{
		ExpertID:    1,
		Symbol:      "AAPL",
		Side:        entity.OrderSideBuy,
		Type:        entity.OrderTypeMarket,
		TimeInForce: "day",
		Status:      entity.OrderStatusOpen,
	}
	if _, err := f.store.Orders().Add(ctx, nil, existing); err != nil {
		t.Fatalf("failed to seed order: %v", err)
	}
	addRecommendation(t, f.store, "AAPL", entity.TradeDirectionLong, 3, time.Now())

	var seen *entity.Order
	f.rules.SetEvaluateFunc(func(ctx context.Context, input outbound.EvaluationInput) (*outbound.EvaluationResult, error) {
		seen = input.ExistingOrder
		return &outbound.EvaluationResult{}, nil
	})

	if _, err := f.processor.ProcessRecommendations(ctx, 1, "enter_trade"); err != nil {
		t.Fatalf("processing failed: %v", err)
	}

	if seen == nil || seen.ID != existing.ID {
		t.Errorf("rules saw existing order %v, want %d", seen, existing.ID)
	}
}

func TestProcessRecommendations_RuleFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, Config{})

	base := time.Now()
	addRecommendation(t, f.store, "MSFT", entity.TradeDirectionLong, 9, base)
	addRecommendation(t, f.store, "AAPL", entity.TradeDirectionLong, 2, base)

	f.rules.SetEvaluateFunc(func(ctx context.Context, input outbound.EvaluationInput) (*outbound.EvaluationResult, error) {
		if input.Recommendation.Symbol == "MSFT" {
			return nil, fmt.Errorf("rule set 7 is broken")
		}
		return &outbound.EvaluationResult{Details: map[string]any{"reason": "spread too wide"}}, nil
	})

	created, err := f.processor.ProcessRecommendations(ctx, 1, "enter_trade")
	if err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if created != nil {
		t.Errorf("expected no orders, got %v", created)
	}

	ruleErrors := auditsByOutcome(f.store, entity.AuditOutcomeRuleError)
	if len(ruleErrors) != 1 || ruleErrors[0].Symbol != "MSFT" {
		t.Errorf("rule_error audits = %v, want one for MSFT", ruleErrors)
	}
	noAction := auditsByOutcome(f.store, entity.AuditOutcomeNoAction)
	if len(noAction) != 1 || noAction[0].Symbol != "AAPL" {
		t.Fatalf("no_action audits = %v, want one for AAPL", noAction)
	}
	if noAction[0].Details["reason"] != "spread too wide" {
		t.Errorf("no_action details = %v, want the rule explanation", noAction[0].Details)
	}
}

func TestProcessRecommendations_RuleErrsBecomeRuleErrorAudit(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, Config{})

	addRecommendation(t, f.store, "AAPL", entity.TradeDirectionLong, 3, time.Now())

	f.rules.SetEvaluateFunc(func(ctx context.Context, input outbound.EvaluationInput) (*outbound.EvaluationResult, error) {
		return &outbound.EvaluationResult{Errs: []string{"rule 12: division by zero"}}, nil
	})

	created, err := f.processor.ProcessRecommendations(ctx, 1, "enter_trade")
	if err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if created != nil {
		t.Errorf("expected no orders, got %v", created)
	}

	audits := auditsByOutcome(f.store, entity.AuditOutcomeRuleError)
	if len(audits) != 1 {
		t.Fatalf("got %d rule_error audits, want 1", len(audits))
	}
}

func TestProcessRecommendations_UnfundedOrdersStayPending(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, Config{})
	f.risk.SetMaxFunded(0)

	addRecommendation(t, f.store, "AAPL", entity.TradeDirectionLong, 3, time.Now())

	created, err := f.processor.ProcessRecommendations(ctx, 1, "enter_trade")
	if err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created %d orders, want 3", len(created))
	}

	entry, err := f.store.Orders().Get(ctx, created[0].ID)
	if err != nil || entry == nil {
		t.Fatalf("failed to load entry order: %v", err)
	}
	if entry.Status != entity.OrderStatusPending {
		t.Errorf("unfunded entry status = %s, want pending", entry.Status)
	}
	if !entry.Quantity.IsZero() {
		t.Errorf("unfunded entry quantity = %s, want 0", entry.Quantity)
	}
	if got := f.gateway.SubmittedOrders(); len(got) != 0 {
		t.Errorf("unfunded orders were submitted: %v", got)
	}
}

func TestProcessRecommendations_OneTransactionPerRecommendation(t *testing.T) {
	ctx := context.Background()

	store := memory.NewStore()
	store.PutExpert(&entity.Expert{
		ID:                 1,
		Name:               "alpha",
		AutoTradingEnabled: true,
		RuleSets:           map[string]int64{"enter_trade": 7},
		AccountCode:        "ACC-1",
	})
	counter := &countingTxManager{TxManager: store}

	rules := memory.NewRuleEngine(5, 2)
	risk, err := memory.NewRiskManager(store.Orders(), decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("failed to create risk manager: %v", err)
	}
	gateway := memory.NewAccountGateway()
	resolver := memory.NewAccountResolver(map[int64]string{1: "ACC-1"})
	submitter, err := ordersubmit.NewSubmitter(ordersubmit.Config{}, resolver, gateway, store.Orders(), nil)
	if err != nil {
		t.Fatalf("failed to create submitter: %v", err)
	}
	engine, err := trigger_engine.NewEngine(trigger_engine.Config{}, store, store.Orders(), store.Transactions(), submitter, nil, nil)
	if err != nil {
		t.Fatalf("failed to create trigger engine: %v", err)
	}
	processor, err := NewProcessor(Config{}, keylock.NewTable(), counter,
		store.Experts(), store.Recommendations(), store.Orders(), store.Transactions(), store.Audits(),
		rules, risk, submitter, engine, nil)
	if err != nil {
		t.Fatalf("failed to create processor: %v", err)
	}

	base := time.Now()
	addRecommendation(t, store, "AAPL", entity.TradeDirectionLong, 3, base)
	addRecommendation(t, store, "MSFT", entity.TradeDirectionLong, 5, base)

	created, err := processor.ProcessRecommendations(ctx, 1, "enter_trade")
	if err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	if len(created) != 6 {
		t.Fatalf("created %d orders, want 6 across two brackets", len(created))
	}
	if counter.count != 2 {
		t.Errorf("processor opened %d transactions, want one per recommendation", counter.count)
	}
}

// countingTxManager counts WithTransaction calls.
type countingTxManager struct {
	outbound.TxManager
	count int
}

func (c *countingTxManager) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	c.count++
	return c.TxManager.WithTransaction(ctx, fn)
}

func TestNewProcessor_RequiresDependencies(t *testing.T) {
	store := memory.NewStore()
	locks := keylock.NewTable()
	rules := memory.NewRuleEngine(5, 2)
	risk, err := memory.NewRiskManager(store.Orders(), decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("failed to create risk manager: %v", err)
	}
	gateway := memory.NewAccountGateway()
	resolver := memory.NewAccountResolver(map[int64]string{1: "ACC-1"})
	submitter, err := ordersubmit.NewSubmitter(ordersubmit.Config{}, resolver, gateway, store.Orders(), nil)
	if err != nil {
		t.Fatalf("failed to create submitter: %v", err)
	}
	engine, err := trigger_engine.NewEngine(trigger_engine.Config{}, store, store.Orders(), store.Transactions(), submitter, nil, nil)
	if err != nil {
		t.Fatalf("failed to create trigger engine: %v", err)
	}

	tests := []struct {
		name string
		fn   func() error
	}{
		{"nil locks", func() error {
			_, err := NewProcessor(Config{}, nil, store, store.Experts(), store.Recommendations(), store.Orders(), store.Transactions(), store.Audits(), rules, risk, submitter, engine, nil)
			return err
		}},
		{"nil txManager", func() error {
			_, err := NewProcessor(Config{}, locks, nil, store.Experts(), store.Recommendations(), store.Orders(), store.Transactions(), store.Audits(), rules, risk, submitter, engine, nil)
			return err
		}},
		{"nil rules", func() error {
			_, err := NewProcessor(Config{}, locks, store, store.Experts(), store.Recommendations(), store.Orders(), store.Transactions(), store.Audits(), nil, risk, submitter, engine, nil)
			return err
		}},
		{"nil risk", func() error {
			_, err := NewProcessor(Config{}, locks, store, store.Experts(), store.Recommendations(), store.Orders(), store.Transactions(), store.Audits(), rules, nil, submitter, engine, nil)
			return err
		}},
		{"nil submitter", func() error {
			_, err := NewProcessor(Config{}, locks, store, store.Experts(), store.Recommendations(), store.Orders(), store.Transactions(), store.Audits(), rules, risk, nil, engine, nil)
			return err
		}},
		{"nil sweeper", func() error {
			_, err := NewProcessor(Config{}, locks, store, store.Experts(), store.Recommendations(), store.Orders(), store.Transactions(), store.Audits(), rules, risk, submitter, nil, nil)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.fn() == nil {
				t.Error("expected constructor error")
			}
		})
	}
}

func TestDedupeLatest(t *testing.T) {
	base := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	recs := []*entity.Recommendation{
		{ID: 1, Symbol: "AAPL", ExpectedProfit: decimal.NewFromInt(2), GeneratedAt: base},
		{ID: 2, Symbol: "AAPL", ExpectedProfit: decimal.NewFromInt(4), GeneratedAt: base.Add(time.Minute)},
		{ID: 3, Symbol: "MSFT", ExpectedProfit: decimal.NewFromInt(4), GeneratedAt: base},
		{ID: 4, Symbol: "MSFT", ExpectedProfit: decimal.NewFromInt(1), GeneratedAt: base},
		{ID: 5, Symbol: "TSLA", ExpectedProfit: decimal.NewFromInt(9), GeneratedAt: base},
		{ID: 6, Symbol: "AMZN", ExpectedProfit: decimal.NewFromInt(4), GeneratedAt: base},
	}

	got := dedupeLatest(recs)

	want := []int64{5, 2, 6, 4}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	// TSLA leads on profit. AAPL keeps its freshest entry and ties AMZN at 4,
	// where the lower ID goes first. MSFT keeps the higher ID of two entries
	// sharing a timestamp, even though that one is less profitable.
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("candidate %d = %d, want %d", i, got[i].ID, id)
		}
	}
}
