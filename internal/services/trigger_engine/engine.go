// Package trigger_engine releases dependent orders once their parent reaches
// the trigger status. Each sweep runs in two strictly separated phases: phase
// one decides and persists everything inside one database transaction with no
// network I/O, phase two submits the released orders to the broker outside
// any transaction. A slow broker can therefore never hold a row lock open.
package trigger_engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

const (
	// tracerName is the instrumentation name for this service.
	tracerName = "github.com/stratalab/tradexec/internal/services/trigger_engine"

	// receiveBackoff is how long the receive loop pauses after a queue error.
	receiveBackoff = time.Second
)

// OrderSubmitter is the slice of the order submitter the engine needs for
// phase two. The submitter persists each outcome itself.
type OrderSubmitter interface {
	Submit(ctx context.Context, order *entity.Order) (*entity.Order, error)
}

// Config holds configuration for the Engine.
type Config struct {
	// SweepInterval is how often the periodic full sweep runs.
	SweepInterval time.Duration

	// BatchMax caps how many waiting dependents one sweep examines. Zero
	// takes the default; negative means no cap.
	BatchMax int

	// ReceiveMax is how many queue messages one receive drains.
	ReceiveMax int

	// ReceiveIdle is how long the receive loop pauses after an empty
	// receive. The SQS consumer long-polls on its own; this only keeps a
	// non-polling consumer from spinning.
	ReceiveIdle time.Duration

	// Logger is the structured logger.
	Logger *slog.Logger

	// Metrics records sweep results. Optional.
	Metrics outbound.MetricsRecorder
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		SweepInterval: 15 * time.Second,
		BatchMax:      100,
		ReceiveMax:    10,
		ReceiveIdle:   100 * time.Millisecond,
		Logger:        slog.Default(),
	}
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	// Examined is how many waiting dependents the sweep looked at.
	Examined int
	// Released is how many dependents were handed to the submitter.
	Released int
	// Errored is how many orders were moved to error, in either phase.
	Errored int
	// Synced is how many dependents copied a terminal parent status.
	Synced int
}

// Engine is the order-dependency trigger engine.
type Engine struct {
	config Config

	txm          outbound.TxManager
	orders       outbound.OrderRepository
	transactions outbound.TransactionRepository
	submitter    OrderSubmitter
	consumer     outbound.QueueConsumer
	events       outbound.EventSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewEngine creates a new trigger engine. The queue consumer and event sink
// may be nil: without a consumer the engine is purely periodic, without a
// sink status changes are persisted but not announced.
func NewEngine(
	config Config,
	txm outbound.TxManager,
	orders outbound.OrderRepository,
	transactions outbound.TransactionRepository,
	submitter OrderSubmitter,
	consumer outbound.QueueConsumer,
	events outbound.EventSink,
) (*Engine, error) {
	if txm == nil {
		return nil, fmt.Errorf("txm is required")
	}
	if orders == nil {
		return nil, fmt.Errorf("orders is required")
	}
	if transactions == nil {
		return nil, fmt.Errorf("transactions is required")
	}
	if submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}

	// Apply defaults
	defaults := ConfigDefaults()
	if config.SweepInterval == 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.BatchMax == 0 {
		config.BatchMax = defaults.BatchMax
	}
	if config.ReceiveMax <= 0 {
		config.ReceiveMax = defaults.ReceiveMax
	}
	if config.ReceiveIdle <= 0 {
		config.ReceiveIdle = defaults.ReceiveIdle
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Engine{
		config:       config,
		txm:          txm,
		orders:       orders,
		transactions: transactions,
		submitter:    submitter,
		consumer:     consumer,
		events:       events,
		logger:       config.Logger.With("component", "trigger-engine"),
	}, nil
}

// Start launches the periodic sweep loop and, when a queue consumer is
// wired, the reactive receive loop.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.sweepLoop()

	if e.consumer != nil {
		e.wg.Add(1)
		go e.receiveLoop()
	}

	e.logger.Info("trigger engine started",
		"sweepInterval", e.config.SweepInterval,
		"reactive", e.consumer != nil,
	)
	return nil
}

// Stop cancels the loops and waits for them to finish.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info("trigger engine stopped")
	return nil
}

// RunOnce performs a single full sweep. Useful for tests and one-shot runs.
func (e *Engine) RunOnce(ctx context.Context) error {
	_, err := e.Sweep(ctx)
	return err
}

// Sweep runs one full two-phase pass over every waiting_trigger order.
// Sweeps are idempotent: with no external changes a second pass mutates
// nothing.
func (e *Engine) Sweep(ctx context.Context) (SweepStats, error) {
	return e.sweep(ctx, nil)
}

// SweepParents runs a pass restricted to dependents of the given parent
// orders. The reactive path uses it to react to order-status events without
// paying for a full table scan.
func (e *Engine) SweepParents(ctx context.Context, parentIDs []int64) (SweepStats, error) {
	if len(parentIDs) == 0 {
		return SweepStats{}, nil
	}
	return e.sweep(ctx, parentIDs)
}

// sweepLoop runs the periodic full sweep, once immediately and then on every
// tick.
func (e *Engine) sweepLoop() {
	defer e.wg.Done()

	if _, err := e.Sweep(e.ctx); err != nil {
		e.logger.Warn("initial sweep failed", "error", err)
	}

	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Sweep(e.ctx); err != nil {
				e.logger.Warn("sweep failed", "error", err)
			}
		}
	}
}

// receiveLoop drains order-status messages and sweeps the dependents of the
// orders they name.
func (e *Engine) receiveLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		received, err := e.drainQueue(e.ctx)
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.logger.Error("failed to process order events", "error", err)
			e.pause(receiveBackoff)
			continue
		}
		if received == 0 {
			e.pause(e.config.ReceiveIdle)
		}
	}
}

func (e *Engine) pause(d time.Duration) {
	select {
	case <-e.ctx.Done():
	case <-time.After(d):
	}
}

// drainQueue receives one batch of order-status messages, sweeps the
// dependents of the orders they name, and deletes the handled messages.
// When the sweep fails the messages are left on the queue for redelivery;
// messages that cannot parse are deleted, they will never parse better.
func (e *Engine) drainQueue(ctx context.Context) (int, error) {
	messages, err := e.consumer.ReceiveMessages(ctx, e.config.ReceiveMax)
	if err != nil {
		return 0, fmt.Errorf("failed to receive messages: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	parentIDs := make([]int64, 0, len(messages))
	handled := make([]outbound.QueueMessage, 0, len(messages))
	for _, msg := range messages {
		var event outbound.OrderStatusEvent
		if err := json.Unmarshal([]byte(msg.Body), &event); err != nil {
			e.logger.Warn("dropping malformed order event",
				"messageId", msg.MessageID,
				"error", err,
			)
			e.deleteMessage(ctx, msg)
			continue
		}
		if event.OrderID == 0 {
			e.logger.Warn("dropping order event without order ID", "messageId", msg.MessageID)
			e.deleteMessage(ctx, msg)
			continue
		}
		parentIDs = append(parentIDs, event.OrderID)
		handled = append(handled, msg)
	}

	if len(parentIDs) == 0 {
		return len(messages), nil
	}

	if _, err := e.SweepParents(ctx, parentIDs); err != nil {
		return len(messages), fmt.Errorf("failed to sweep parents: %w", err)
	}

	for _, msg := range handled {
		e.deleteMessage(ctx, msg)
	}
	return len(messages), nil
}

func (e *Engine) deleteMessage(ctx context.Context, msg outbound.QueueMessage) {
	if err := e.consumer.DeleteMessage(ctx, msg.ReceiptHandle); err != nil {
		e.logger.Error("failed to delete message",
			"messageId", msg.MessageID,
			"error", err,
		)
	}
}

// rowOutcome classifies what one phase-one pass did to a dependent.
type rowOutcome int

const (
	rowUntouched rowOutcome = iota
	rowReleased
	rowErrored
	rowSynced
)

func (e *Engine) sweep(ctx context.Context, parentIDs []int64) (SweepStats, error) {
	start := time.Now()

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "trigger.sweep",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("sweep.parent_filter", len(parentIDs))),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("sweep.duration_ms", time.Since(start).Milliseconds()))
		span.End()
	}()

	var (
		stats    SweepStats
		toSubmit []*entity.Order
		pending  []outbound.OrderStatusEvent
	)

	// Phase one: every decision and mutation inside one transaction, no
	// network I/O. Events are collected and published only after commit.
	err := e.txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		waiting, err := e.orders.ListWaitingTrigger(ctx, tx, parentIDs)
		if err != nil {
			return fmt.Errorf("failed to list waiting orders: %w", err)
		}
		if e.config.BatchMax > 0 && len(waiting) > e.config.BatchMax {
			waiting = waiting[:e.config.BatchMax]
		}

		for _, dep := range waiting {
			stats.Examined++

			outcome, event, err := e.sweepOne(ctx, tx, dep)
			if err != nil {
				// One broken row must not abort the sweep.
				e.logger.Error("failed to sweep dependent order",
					"orderId", dep.ID,
					"error", err,
				)
				continue
			}

			switch outcome {
			case rowReleased:
				stats.Released++
				toSubmit = append(toSubmit, dep)
			case rowErrored:
				stats.Errored++
				pending = append(pending, event)
			case rowSynced:
				stats.Synced++
				pending = append(pending, event)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep transaction failed")
		return SweepStats{}, fmt.Errorf("failed to sweep waiting orders: %w", err)
	}

	for _, event := range pending {
		e.publish(ctx, event)
	}

	// Phase two: broker submissions, one by one, outside any transaction.
	// The submitter persists and publishes each outcome itself.
	for _, order := range toSubmit {
		if _, err := e.submitter.Submit(ctx, order); err != nil {
			e.logger.Error("failed to submit released order",
				"orderId", order.ID,
				"symbol", order.Symbol,
				"error", err,
			)
			stats.Errored++
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.examined", stats.Examined),
		attribute.Int("sweep.released", stats.Released),
		attribute.Int("sweep.errored", stats.Errored),
		attribute.Int("sweep.synced", stats.Synced),
	)

	if e.config.Metrics != nil {
		e.config.Metrics.RecordTriggerSweep(ctx, stats.Released, stats.Errored, stats.Synced)
	}

	if stats.Examined > 0 {
		e.logger.Info("sweep complete",
			"examined", stats.Examined,
			"released", stats.Released,
			"errored", stats.Errored,
			"synced", stats.Synced,
		)
	}
	return stats, nil
}

// sweepOne decides what happens to one waiting dependent and persists the
// decision inside the caller's transaction. Released orders stay
// waiting_trigger; phase two and the submitter own their next transition,
// so a crash between the phases re-releases them on the next sweep.
func (e *Engine) sweepOne(ctx context.Context, tx pgx.Tx, dep *entity.Order) (rowOutcome, outbound.OrderStatusEvent, error) {
	if dep.DependsOnOrderID == nil {
		return e.errorOut(ctx, tx, dep, "waiting_trigger order has no parent reference")
	}

	parent, err := e.orders.GetTx(ctx, tx, *dep.DependsOnOrderID)
	if err != nil {
		return rowUntouched, outbound.OrderStatusEvent{}, fmt.Errorf("failed to load parent %d: %w", *dep.DependsOnOrderID, err)
	}
	if parent == nil {
		return e.errorOut(ctx, tx, dep, fmt.Sprintf("parent order %d not found", *dep.DependsOnOrderID))
	}

	switch {
	case parent.Status == dep.DependsOnStatus:
		return e.release(ctx, tx, dep, parent)
	case parent.Status.IsTerminal():
		return e.syncTerminal(ctx, tx, dep, parent)
	default:
		return rowUntouched, outbound.OrderStatusEvent{}, nil
	}
}

// release resolves the dependent's quantity and prices against the parent's
// fill and persists it for submission.
func (e *Engine) release(ctx context.Context, tx pgx.Tx, dep, parent *entity.Order) (rowOutcome, outbound.OrderStatusEvent, error) {
	if dep.Quantity.IsZero() {
		qty := parent.FilledQuantity
		if qty.IsZero() {
			qty = parent.Quantity
		}
		if qty.IsZero() {
			return e.errorOut(ctx, tx, dep, fmt.Sprintf("cannot resolve quantity from parent %d", parent.ID))
		}
		dep.Quantity = qty
	}

	if err := e.rewritePrices(ctx, tx, dep, parent); err != nil {
		return rowUntouched, outbound.OrderStatusEvent{}, err
	}

	if err := e.orders.UpdateTx(ctx, tx, dep); err != nil {
		return rowUntouched, outbound.OrderStatusEvent{}, fmt.Errorf("failed to persist released order: %w", err)
	}

	e.logger.Debug("dependent order released",
		"orderId", dep.ID,
		"parentId", parent.ID,
		"quantity", dep.Quantity,
	)
	return rowReleased, outbound.OrderStatusEvent{}, nil
}

// rewritePrices recomputes the limit and stop prices from the parent's
// actual fill when the dependent carries percent distances. Protective legs
// are created before the entry fill price is known, so the prices they were
// stored with are placeholders anchored to the analysis-time price.
func (e *Engine) rewritePrices(ctx context.Context, tx pgx.Tx, dep, parent *entity.Order) error {
	var txn *entity.Transaction
	if dep.TransactionID != nil {
		loaded, err := e.transactions.GetTx(ctx, tx, *dep.TransactionID)
		if err != nil {
			return fmt.Errorf("failed to load transaction %d: %w", *dep.TransactionID, err)
		}
		txn = loaded
	}

	fill := parent.FilledAvgPrice
	if fill.IsZero() && txn != nil {
		fill = txn.OpenPrice
	}
	if !fill.IsPositive() {
		return nil
	}

	var limitChanged, stopChanged bool
	if pct, ok := dep.AuxFloat(entity.AuxTakeProfitPercent); ok {
		price := priceAtPercent(fill, pct)
		if !price.Equal(dep.LimitPrice) {
			dep.LimitPrice = price
			limitChanged = true
		}
	}
	if pct, ok := dep.AuxFloat(entity.AuxStopLossPercent); ok {
		price := priceAtPercent(fill, pct)
		if !price.Equal(dep.StopPrice) {
			dep.StopPrice = price
			stopChanged = true
		}
	}
	if !limitChanged && !stopChanged {
		return nil
	}

	dep.SetAux(entity.AuxParentFillPrice, fill.String())
	dep.SetAux(entity.AuxPriceRecalculated, true)

	if txn == nil {
		return nil
	}
	if limitChanged {
		txn.TakeProfit = dep.LimitPrice
	}
	if stopChanged {
		txn.StopLoss = dep.StopPrice
	}
	if err := e.transactions.UpdateTx(ctx, tx, txn); err != nil {
		return fmt.Errorf("failed to update transaction %d: %w", txn.ID, err)
	}
	return nil
}

// priceAtPercent returns the price pct percent away from fill, rounded to
// four decimal places. Negative pct lands below the fill.
func priceAtPercent(fill decimal.Decimal, pct float64) decimal.Decimal {
	factor := decimal.NewFromFloat(1 + pct/100)
	return fill.Mul(factor).Round(4)
}

// syncTerminal copies the parent's terminal status onto the dependent. A leg
// whose parent was cancelled or rejected must never reach the broker.
func (e *Engine) syncTerminal(ctx context.Context, tx pgx.Tx, dep, parent *entity.Order) (rowOutcome, outbound.OrderStatusEvent, error) {
	oldStatus := dep.Status
	dep.Status = parent.Status
	dep.SetAux(entity.AuxTriggerNote, fmt.Sprintf("parent order %d ended %s", parent.ID, parent.Status))

	if err := e.orders.UpdateTx(ctx, tx, dep); err != nil {
		return rowUntouched, outbound.OrderStatusEvent{}, fmt.Errorf("failed to persist synced status: %w", err)
	}

	e.logger.Info("dependent order synced to parent terminal status",
		"orderId", dep.ID,
		"parentId", parent.ID,
		"status", dep.Status,
	)
	return rowSynced, statusEvent(dep, oldStatus), nil
}

// errorOut moves the dependent to error with the reason recorded in aux
// data, so the failure is queryable instead of silent.
func (e *Engine) errorOut(ctx context.Context, tx pgx.Tx, dep *entity.Order, reason string) (rowOutcome, outbound.OrderStatusEvent, error) {
	oldStatus := dep.Status
	dep.Status = entity.OrderStatusError
	dep.SetAux(entity.AuxTriggerError, reason)

	if err := e.orders.UpdateTx(ctx, tx, dep); err != nil {
		return rowUntouched, outbound.OrderStatusEvent{}, fmt.Errorf("failed to persist error status: %w", err)
	}

	e.logger.Warn("dependent order moved to error",
		"orderId", dep.ID,
		"reason", reason,
	)
	return rowErrored, statusEvent(dep, oldStatus), nil
}

func (e *Engine) publish(ctx context.Context, event outbound.OrderStatusEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, event); err != nil {
		e.logger.Error("failed to publish order status event",
			"orderId", event.OrderID,
			"error", err,
		)
	}
}

func statusEvent(order *entity.Order, oldStatus entity.OrderStatus) outbound.OrderStatusEvent {
	return outbound.OrderStatusEvent{
		OrderID:       order.ID,
		ExpertID:      order.ExpertID,
		Symbol:        order.Symbol,
		OldStatus:     oldStatus,
		NewStatus:     order.Status,
		BrokerOrderID: order.BrokerOrderID,
		OccurredAt:    time.Now().UTC(),
	}
}
