// Package ordersubmit sends locally created orders to the broker and keeps
// the local rows in step with the outcome. Every submission attempt, success
// or failure, ends in a persisted order status and a published status event,
// never in an ambiguous in-between state.
package ordersubmit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stratalab/tradexec/internal/domain/entity"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Config holds configuration for the Submitter.
type Config struct {
	// Logger is the structured logger.
	Logger *slog.Logger

	// Metrics records submission outcomes. Optional.
	Metrics outbound.MetricsRecorder
}

// Submitter pushes orders to the broker through the account gateway.
type Submitter struct {
	resolver outbound.AccountResolver
	gateway  outbound.AccountGateway
	orders   outbound.OrderRepository
	events   outbound.EventSink
	metrics  outbound.MetricsRecorder
	logger   *slog.Logger
}

// NewSubmitter creates a new Submitter. The event sink may be nil; status
// events are then skipped.
func NewSubmitter(
	config Config,
	resolver outbound.AccountResolver,
	gateway outbound.AccountGateway,
	orders outbound.OrderRepository,
	events outbound.EventSink,
) (*Submitter, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if orders == nil {
		return nil, fmt.Errorf("orders is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Submitter{
		resolver: resolver,
		gateway:  gateway,
		orders:   orders,
		events:   events,
		metrics:  config.Metrics,
		logger:   config.Logger.With("component", "order-submitter"),
	}, nil
}

// Submit places the order with the broker and persists the outcome. The
// order is mutated in place: on success it carries the broker order ID and
// the broker-reported status, on failure it is moved to error with the
// reason under the submit_error aux key. The returned error is non-nil
// exactly when the order did not end up live at the broker.
func (s *Submitter) Submit(ctx context.Context, order *entity.Order) (*entity.Order, error) {
	if order == nil {
		return nil, fmt.Errorf("order cannot be nil")
	}

	account, err := s.resolver.AccountFor(ctx, order.ExpertID)
	if err != nil {
		s.failOrder(ctx, order, fmt.Sprintf("no broker account: %v", err))
		return nil, fmt.Errorf("failed to resolve account for expert %d: %w", order.ExpertID, err)
	}

	// The client order ID makes retries of the same order idempotent at the
	// broker.
	if order.ClientOrderID == "" {
		order.ClientOrderID = uuid.NewString()
	}

	s.logger.Debug("submitting order",
		"orderId", order.ID,
		"symbol", order.Symbol,
		"side", order.Side,
		"account", account,
	)

	submitted, err := s.gateway.SubmitOrder(ctx, order)
	if err == nil && submitted == nil {
		err = fmt.Errorf("broker returned no order")
	}
	if err != nil {
		s.failOrder(ctx, order, err.Error())
		return nil, fmt.Errorf("failed to submit order %d: %w", order.ID, err)
	}

	oldStatus := order.Status
	order.BrokerOrderID = submitted.BrokerOrderID
	order.Status = entity.OrderStatusOpen
	if submitted.Status.IsValid() {
		order.Status = submitted.Status
	}
	order.FilledQuantity = submitted.FilledQuantity
	order.FilledAvgPrice = submitted.FilledAvgPrice

	if err := s.orders.Update(ctx, order); err != nil {
		// The order is live at the broker but the local row is stale. This
		// needs an operator; the periodic refresh will converge the status.
		s.logger.Error("order live at broker but local update failed",
			"orderId", order.ID,
			"brokerOrderId", order.BrokerOrderID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to persist submitted order %d: %w", order.ID, err)
	}

	s.publishStatus(ctx, order, oldStatus)
	if s.metrics != nil {
		s.metrics.RecordOrderSubmitted(ctx, order.Symbol, "ok")
	}

	s.logger.Info("order submitted",
		"orderId", order.ID,
		"symbol", order.Symbol,
		"brokerOrderId", order.BrokerOrderID,
		"status", order.Status,
	)
	return order, nil
}

// failOrder moves the order to error, persists it and publishes the change.
func (s *Submitter) failOrder(ctx context.Context, order *entity.Order, reason string) {
	oldStatus := order.Status
	order.Status = entity.OrderStatusError
	order.SetAux(entity.AuxSubmitError, reason)

	if err := s.orders.Update(ctx, order); err != nil {
		s.logger.Error("failed to persist order error status",
			"orderId", order.ID,
			"error", err,
		)
	}

	s.publishStatus(ctx, order, oldStatus)
	if s.metrics != nil {
		s.metrics.RecordOrderSubmitted(ctx, order.Symbol, "error")
	}

	s.logger.Warn("order submission failed",
		"orderId", order.ID,
		"symbol", order.Symbol,
		"reason", reason,
	)
}

func (s *Submitter) publishStatus(ctx context.Context, order *entity.Order, oldStatus entity.OrderStatus) {
	if s.events == nil {
		return
	}

	event := outbound.OrderStatusEvent{
		OrderID:       order.ID,
		ExpertID:      order.ExpertID,
		Symbol:        order.Symbol,
		OldStatus:     oldStatus,
		NewStatus:     order.Status,
		BrokerOrderID: order.BrokerOrderID,
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish order status event",
			"orderId", order.ID,
			"error", err,
		)
	}
}
