// eventsink.go holds the in-memory EventSink used by tests and by worker
// processes running without an SNS topic configured. Published events are
// retained in publish order; the Get helpers are what service tests assert
// against.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check that EventSink implements outbound.EventSink
var _ outbound.EventSink = (*EventSink)(nil)

// EventSink collects published events instead of sending them anywhere.
type EventSink struct {
	mu        sync.RWMutex
	published []outbound.Event
	closed    bool
	onPublish func(outbound.Event)
}

// NewEventSink creates an empty in-memory sink.
func NewEventSink() *EventSink {
	return &EventSink{}
}

// Publish appends the event to the in-memory log. A closed sink refuses
// further events, matching the SNS sink.
func (s *EventSink) Publish(_ context.Context, event outbound.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("event sink is closed")
	}
	s.published = append(s.published, event)

	if s.onPublish != nil {
		s.onPublish(event)
	}
	return nil
}

// Close stops the sink from accepting events.
func (s *EventSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// GetEvents returns a copy of every published event in publish order.
func (s *EventSink) GetEvents() []outbound.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.published)
}

// GetStatusEvents returns the published order-status events.
func (s *EventSink) GetStatusEvents() []outbound.OrderStatusEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []outbound.OrderStatusEvent
	for _, e := range s.published {
		if status, ok := e.(outbound.OrderStatusEvent); ok {
			out = append(out, status)
		}
	}
	return out
}

// GetEventsForOrder returns every event published about one order.
func (s *EventSink) GetEventsForOrder(orderID int64) []outbound.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []outbound.Event
	for _, e := range s.published {
		if e.GetOrderID() == orderID {
			out = append(out, e)
		}
	}
	return out
}

// SetOnPublish registers a callback invoked for every accepted event, used
// by tests that need to interleave with publishing.
func (s *EventSink) SetOnPublish(fn func(outbound.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPublish = fn
}
