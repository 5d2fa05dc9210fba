package kafka

import (
	"context"
	"fmt"

	"ms-booking/internal/config"
	bookingkafka "ms-booking/internal/kafka"
	"ms-booking/internal/models"
)

// Publisher streams order lifecycle events, one topic per outcome.
type Publisher struct {
	Producer *bookingkafka.Producer
	Topics   config.TopicConfig
}

func NewPublisher(producer *bookingkafka.Producer, topics config.TopicConfig) *Publisher {
	return &Publisher{Producer: producer, Topics: topics}
}

// PublishStatus routes the event by its order status.
func (p *Publisher) PublishStatus(ctx context.Context, event models.OrderEvent) error {
	topic, err := p.topicFor(event.Status)
	if err != nil {
		return err
	}
	return p.Producer.PublishJSON(ctx, topic, event.OrderID, event)
}

// PublishRefundRequired tells the payments side a captured payment must be returned.
func (p *Publisher) PublishRefundRequired(ctx context.Context, event models.OrderEvent) error {
	return p.Producer.PublishJSON(ctx, p.Topics.RefundRequired, event.OrderID, event)
}

func (p *Publisher) topicFor(status models.OrderStatus) (string, error) {
	switch status {
	case models.OrderCreated, models.OrderAwaitingPayment:
		return p.Topics.OrderCreated, nil
	case models.OrderSettled:
		return p.Topics.OrderSettled, nil
	case models.OrderFailed:
		return p.Topics.OrderFailed, nil
	case models.OrderCancelled:
		return p.Topics.OrderCancelled, nil
	default:
		return "", fmt.Errorf("no topic for order status %q", status)
	}
}
