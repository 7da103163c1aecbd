// Package sns publishes order lifecycle events to an AWS SNS FIFO topic.
//
// All event types go to one topic; consumers filter on message attributes
// instead of subscribing to per-type topics:
//
//   - eventType: "order_status" or "order_fill"
//   - expertId: the owning expert's ID
//   - orderId: the order's ID
//
// The topic is expected to be a FIFO topic with content-based deduplication
// enabled. The message group is the expert ID, so one expert's events arrive
// in publish order while different experts publish in parallel.
//
// Transient publish failures are retried with exponential backoff through
// the retry package. For tests and local runs without AWS, use the
// memory.EventSink adapter instead.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/stratalab/tradexec/internal/pkg/retry"
	"github.com/stratalab/tradexec/internal/ports/outbound"
)

// Compile-time check that EventSink implements outbound.EventSink
var _ outbound.EventSink = (*EventSink)(nil)

// SNSPublisher is the one SNS client method the sink calls, narrowed so
// tests can substitute a fake.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config configures the sink.
type Config struct {
	// TopicARN is the ARN of the order-events FIFO topic.
	TopicARN string

	// Retry controls how transient publish failures are retried. The zero
	// value picks up retry.DefaultConfig.
	Retry retry.Config

	// Logger is the structured logger events and retries are logged to.
	Logger *slog.Logger
}

// ConfigDefaults returns the sink defaults: the shared retry policy and
// the process-wide logger.
func ConfigDefaults() Config {
	return Config{
		Retry:  retry.DefaultConfig(),
		Logger: slog.Default(),
	}
}

// EventSink publishes order events to AWS SNS.
type EventSink struct {
	client SNSPublisher
	config Config
	logger *slog.Logger
	closed atomic.Bool
}

// NewEventSink wraps an SNS client as an outbound.EventSink publishing to
// one FIFO topic.
func NewEventSink(client SNSPublisher, config Config) (*EventSink, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if config.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}

	defaults := ConfigDefaults()
	if config.Retry == (retry.Config{}) {
		config.Retry = defaults.Retry
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &EventSink{
		client: client,
		config: config,
		logger: config.Logger.With("component", "sns-eventsink"),
	}, nil
}

// Publish serializes the event and publishes it to the topic, retrying
// transient failures until the retry budget runs out.
func (s *EventSink) Publish(ctx context.Context, event outbound.Event) error {
	if s.closed.Load() {
		return errors.New("event sink is closed")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	input := s.buildInput(event, string(body))

	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("publish failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
			"eventType", event.EventType(),
			"orderId", event.GetOrderID(),
		)
	}

	err = retry.DoVoid(ctx, s.config.Retry, isRetryable, onRetry, func() error {
		_, err := s.client.Publish(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}

// buildInput assembles the publish request. The message group is the expert
// ID, keeping one expert's events ordered relative to each other.
func (s *EventSink) buildInput(event outbound.Event, body string) *sns.PublishInput {
	expertID := strconv.FormatInt(event.GetExpertID(), 10)

	return &sns.PublishInput{
		TopicArn:       aws.String(s.config.TopicARN),
		Message:        aws.String(body),
		MessageGroupId: aws.String(expertID),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.EventType())),
			},
			"expertId": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(expertID),
			},
			"orderId": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatInt(event.GetOrderID(), 10)),
			},
		},
	}
}

// isRetryable reports whether a publish error is worth another attempt.
// Parameter and authorization failures never heal on retry; everything else,
// throttling and SNS internal errors included, is assumed transient. A
// cancelled context means shutdown and stops retrying immediately.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var notFound *types.NotFoundException
	var badParam *types.InvalidParameterException
	var authErr *types.AuthorizationErrorException
	if errors.As(err, &notFound) || errors.As(err, &badParam) || errors.As(err, &authErr) {
		return false
	}

	return true
}

// Close marks the sink as closed; later publishes fail fast.
func (s *EventSink) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.logger.Info("SNS event sink closed")
	}
	return nil
}
