package outbound

import "context"

// QueueMessage represents a message received from the order-event queue.
type QueueMessage struct {
	// MessageID is the unique ID of the message.
	MessageID string

	// ReceiptHandle is needed to delete the message after processing.
	ReceiptHandle string

	// Body is the raw message body (JSON-encoded OrderStatusEvent).
	Body string
}

// QueueConsumer defines the interface for consuming order-event messages.
// The trigger worker's reactive path drains this queue and sweeps the
// dependents of the orders the messages name.
type QueueConsumer interface {
	// ReceiveMessages fetches up to maxMessages from the queue.
	// Returns an empty slice if no messages are available.
	ReceiveMessages(ctx context.Context, maxMessages int) ([]QueueMessage, error)

	// DeleteMessage removes a successfully processed message from the queue.
	DeleteMessage(ctx context.Context, receiptHandle string) error

	// Close closes the consumer and releases resources.
	Close() error
}
