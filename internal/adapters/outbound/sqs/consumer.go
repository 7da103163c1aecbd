// Package sqs provides an SQS adapter for consuming order-event messages.
//
// The queue is expected to subscribe to the order-events SNS topic with raw
// message delivery enabled, so message bodies are the JSON events themselves
// rather than SNS envelopes. The trigger engine drains the queue in short
// bursts and deletes each message only after it was handled; unhandled
// messages reappear after the visibility timeout.
package sqs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// sqsAPI is the part of the SQS client the consumer calls, narrowed so
// tests can substitute a fake.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Compile-time check that Consumer implements outbound.QueueConsumer
var _ outbound.QueueConsumer = (*Consumer)(nil)

// Config configures the consumer.
type Config struct {
	// QueueURL identifies the queue to drain.
	QueueURL string

	// WaitTimeSeconds is how long one receive call long-polls. Max is 20
	// seconds.
	WaitTimeSeconds int32
}

// ConfigDefaults returns the consumer defaults: 20 second long polls.
func ConfigDefaults() Config {
	return Config{
		WaitTimeSeconds: 20,
	}
}

// Consumer is an SQS implementation of the outbound.QueueConsumer port.
type Consumer struct {
	client sqsAPI
	queue  *string
	config Config
	logger *slog.Logger
}

// NewConsumer creates a consumer for the configured queue.
func NewConsumer(cfg aws.Config, sqsConfig Config, logger *slog.Logger) (*Consumer, error) {
	return NewConsumerWithOptions(cfg, sqsConfig, logger)
}

// NewConsumerWithOptions creates a new SQS consumer with optional SQS client
// options, used to point the client at a local endpoint.
func NewConsumerWithOptions(cfg aws.Config, sqsConfig Config, logger *slog.Logger, optFns ...func(*sqs.Options)) (*Consumer, error) {
	if sqsConfig.QueueURL == "" {
		return nil, fmt.Errorf("queue URL is required")
	}
	if sqsConfig.WaitTimeSeconds == 0 {
		sqsConfig.WaitTimeSeconds = ConfigDefaults().WaitTimeSeconds
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		client: sqs.NewFromConfig(cfg, optFns...),
		queue:  aws.String(sqsConfig.QueueURL),
		config: sqsConfig,
		logger: logger.With("component", "sqs-consumer"),
	}, nil
}

// ReceiveMessages fetches up to maxMessages from the queue. The count is
// clamped to the 1..10 range SQS accepts. Messages missing required fields
// are dropped; they reappear after the visibility timeout and end up in the
// dead-letter queue if one is attached.
func (c *Consumer) ReceiveMessages(ctx context.Context, maxMessages int) ([]outbound.QueueMessage, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              c.queue,
		MaxNumberOfMessages:   clampBatch(maxMessages),
		WaitTimeSeconds:       c.config.WaitTimeSeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	messages := make([]outbound.QueueMessage, 0, len(result.Messages))
	for _, raw := range result.Messages {
		msg, ok := toQueueMessage(raw)
		if !ok {
			c.logger.Debug("skipping message with missing fields")
			continue
		}
		messages = append(messages, msg)
	}

	if len(messages) > 0 {
		c.logger.Debug("received messages", "count", len(messages))
	}

	return messages, nil
}

// DeleteMessage acknowledges one handled message by its receipt handle.
func (c *Consumer) DeleteMessage(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      c.queue,
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Close satisfies outbound.QueueConsumer. The SQS client holds no
// connections of its own, so there is nothing to release.
func (c *Consumer) Close() error {
	return nil
}

// toQueueMessage converts an SDK message, reporting false when a required
// field is absent.
func toQueueMessage(raw types.Message) (outbound.QueueMessage, bool) {
	if raw.MessageId == nil || raw.ReceiptHandle == nil || raw.Body == nil {
		return outbound.QueueMessage{}, false
	}
	return outbound.QueueMessage{
		MessageID:     *raw.MessageId,
		ReceiptHandle: *raw.ReceiptHandle,
		Body:          *raw.Body,
	}, true
}

// clampBatch bounds a receive size to what one SQS call accepts.
func clampBatch(n int) int32 {
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return int32(n)
}
