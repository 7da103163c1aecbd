package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check that QueueConsumer implements outbound.QueueConsumer
var _ outbound.QueueConsumer = (*QueueConsumer)(nil)

// QueueConsumer is a channel-backed implementation of the QueueConsumer port
// for testing the reactive trigger path. Push enqueues messages; messages
// stay tracked until DeleteMessage, mirroring the redelivery semantics of a
// real queue.
type QueueConsumer struct {
	mu       sync.Mutex
	messages chan outbound.QueueMessage
	inflight map[string]outbound.QueueMessage
	nextID   int
	closed   bool
}

// NewQueueConsumer creates a queue consumer with the given buffer capacity.
func NewQueueConsumer(capacity int) *QueueConsumer {
	if capacity <= 0 {
		capacity = 64
	}
	return &QueueConsumer{
		messages: make(chan outbound.QueueMessage, capacity),
		inflight: make(map[string]outbound.QueueMessage),
	}
}

// Push enqueues a message body. Test helper.
func (c *QueueConsumer) Push(body string) {
	c.mu.Lock()
	c.nextID++
	msg := outbound.QueueMessage{
		MessageID:     fmt.Sprintf("m-%d", c.nextID),
		ReceiptHandle: fmt.Sprintf("rh-%d", c.nextID),
		Body:          body,
	}
	c.mu.Unlock()
	c.messages <- msg
}

// ReceiveMessages implements outbound.QueueConsumer. It returns immediately
// with whatever is buffered, up to maxMessages.
func (c *QueueConsumer) ReceiveMessages(ctx context.Context, maxMessages int) ([]outbound.QueueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var result []outbound.QueueMessage
	for len(result) < maxMessages {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case msg := <-c.messages:
			c.mu.Lock()
			c.inflight[msg.ReceiptHandle] = msg
			c.mu.Unlock()
			result = append(result, msg)
		default:
			return result, nil
		}
	}
	return result, nil
}

// DeleteMessage implements outbound.QueueConsumer.
func (c *QueueConsumer) DeleteMessage(ctx context.Context, receiptHandle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.inflight[receiptHandle]; !ok {
		return fmt.Errorf("unknown receipt handle: %s", receiptHandle)
	}
	delete(c.inflight, receiptHandle)
	return nil
}

// Close implements outbound.QueueConsumer.
func (c *QueueConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// InflightCount returns how many received messages were not deleted. Test
// helper.
func (c *QueueConsumer) InflightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
