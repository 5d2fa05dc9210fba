package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/segmentio/kafka-go"
)

const (
	defaultRetryBackoff    = 500 * time.Millisecond
	defaultMaxRetryBackoff = 30 * time.Second
)

// MessageReader is satisfied by *kafka.Reader. Offsets are committed
// explicitly, never by the read itself.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader MessageReader
	topic  string
	logger *logger.Logger

	// RetryBackoff is the first wait before a failed message is handled
	// again; it doubles up to MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(reader, topic, log)
}

// NewConsumerWithReader is used by tests to inject a reader.
func NewConsumerWithReader(reader MessageReader, topic string, log *logger.Logger) *Consumer {
	return &Consumer{
		reader:          reader,
		topic:           topic,
		logger:          log,
		RetryBackoff:    defaultRetryBackoff,
		MaxRetryBackoff: defaultMaxRetryBackoff,
	}
}

// StartPaymentConfirmations feeds decoded confirmations to handler until ctx
// is cancelled. A message is committed only once handler returns nil;
// a handler error is retried with backoff on the same message, and a message
// left uncommitted at shutdown is redelivered to the group. Undecodable
// messages are logged and committed.
func (c *Consumer) StartPaymentConfirmations(ctx context.Context, handler func(ctx context.Context, event models.PaymentConfirmedEvent) error) {
	c.logger.LogKafka("CONSUME", c.topic, "consumer started")
	defer c.logger.LogKafka("CONSUME", c.topic, "consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Error fetching message from %s: %v", c.topic, err))
			continue
		}

		var event models.PaymentConfirmedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal payment confirmation at offset %d: %v", msg.Offset, err))
		} else if !c.handle(ctx, msg, event, handler) {
			return
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			// The next fetch may redeliver it; confirmations are idempotent.
			c.logger.Error("KAFKA", fmt.Sprintf("Failed to commit offset %d on %s: %v", msg.Offset, c.topic, err))
		}
	}
}

// handle retries until handler succeeds. It returns false if ctx ended first.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message, event models.PaymentConfirmedEvent, handler func(ctx context.Context, event models.PaymentConfirmedEvent) error) bool {
	backoff := c.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := handler(ctx, event)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("Payment confirmation %s left uncommitted at offset %d: %v", event.ExternalOrderID, msg.Offset, err))
			return false
		}
		c.logger.Error("KAFKA", fmt.Sprintf("Payment confirmation %s failed (attempt %d), retrying in %s: %v",
			event.ExternalOrderID, attempt, backoff, err))

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > c.MaxRetryBackoff {
			backoff = c.MaxRetryBackoff
		}
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
