package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// OutboxTopicPublisher — domain.OutboxPublisher поверх Producer для одного топика.
// Один и тот же тип обслуживает shop.order.events и shop.dlq.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт паблишер; пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic, now: time.Now}
}

// Topic возвращает топик, в который пишет паблишер.
func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka outbox publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.producer.Send(p.topic, EnvelopeFor(event, p.now()))
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
