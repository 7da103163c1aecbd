package outbound

import (
	"context"
	"time"

	"github.com/stratalab/tradexec/internal/domain/entity"
)

// EventType represents the type of event.
type EventType string

// Event type constants.
const (
	EventTypeOrderStatus EventType = "order_status"
	EventTypeOrderFill   EventType = "order_fill"
)

// Event is the interface that all event types implement.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType
	// GetExpertID returns the owning expert's ID.
	GetExpertID() int64
	// GetOrderID returns the order the event is about.
	GetOrderID() int64
}

// OrderStatusEvent is published whenever an order's status changes, whether
// from submission, a trigger sweep, or a broker refresh. Downstream consumers
// (including the trigger worker's reactive path) key off OrderID.
type OrderStatusEvent struct {
	// OrderID is the local order ID.
	OrderID int64 `json:"orderId"`

	// ExpertID identifies the owning expert.
	ExpertID int64 `json:"expertId"`

	// Symbol is the instrument the order trades.
	Symbol string `json:"symbol"`

	// OldStatus is the status before the change, empty for newly created
	// orders.
	OldStatus entity.OrderStatus `json:"oldStatus,omitempty"`

	// NewStatus is the status after the change.
	NewStatus entity.OrderStatus `json:"newStatus"`

	// BrokerOrderID is the broker-side ID when known.
	BrokerOrderID string `json:"brokerOrderId,omitempty"`

	// OccurredAt is when the change was observed.
	OccurredAt time.Time `json:"occurredAt"`
}

func (e OrderStatusEvent) EventType() EventType { return EventTypeOrderStatus }
func (e OrderStatusEvent) GetExpertID() int64   { return e.ExpertID }
func (e OrderStatusEvent) GetOrderID() int64    { return e.OrderID }

// OrderFillEvent is published when a broker refresh observes a new fill.
type OrderFillEvent struct {
	// OrderID is the local order ID.
	OrderID int64 `json:"orderId"`

	// ExpertID identifies the owning expert.
	ExpertID int64 `json:"expertId"`

	// Symbol is the instrument the order trades.
	Symbol string `json:"symbol"`

	// FilledQuantity is the cumulative filled quantity as a decimal string.
	FilledQuantity string `json:"filledQuantity"`

	// FilledAvgPrice is the average fill price as a decimal string.
	FilledAvgPrice string `json:"filledAvgPrice"`

	// OccurredAt is when the fill was observed.
	OccurredAt time.Time `json:"occurredAt"`
}

func (e OrderFillEvent) EventType() EventType { return EventTypeOrderFill }
func (e OrderFillEvent) GetExpertID() int64   { return e.ExpertID }
func (e OrderFillEvent) GetOrderID() int64    { return e.OrderID }

// EventSink is the interface for publishing events to downstream consumers.
type EventSink interface {
	// Publish sends an event. Implementations may retry transient failures.
	Publish(ctx context.Context, event Event) error

	// Close releases any resources held by the sink.
	Close() error
}
