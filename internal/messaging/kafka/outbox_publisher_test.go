package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

func TestOutboxPublisherPublish(t *testing.T) {
	t.Parallel()

	published := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicOrderEvents, msg.Topic)
		key, _ := msg.Key.Encode()
		assert.Equal(t, "order-123", string(key))

		raw, err := msg.Value.Encode()
		require.NoError(t, err)
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, "outbox-1", env.ID)
		assert.True(t, env.PublishedAt.Equal(published))
		assert.JSONEq(t, `{"status":"PAID"}`, string(env.Payload))
		return nil
	})

	publisher := NewOutboxPublisher(newProducer(sp, nil), "")
	publisher.now = func() time.Time { return published }
	assert.Equal(t, TopicOrderEvents, publisher.Topic())

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     string(EventTypeOrderPaid),
		Payload:       []byte(`{"status":"PAID"}`),
	})
	require.NoError(t, err)
	require.NoError(t, sp.Close())
}

func TestOutboxPublisherDeadLetterTopic(t *testing.T) {
	t.Parallel()

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicDeadLetterQueue, msg.Topic)
		return nil
	})

	publisher := NewOutboxPublisher(newProducer(sp, nil), TopicDeadLetterQueue)
	require.NoError(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "dlq-1", AggregateID: "order-1"}))
	require.NoError(t, sp.Close())
}

func TestOutboxPublisherProducerError(t *testing.T) {
	t.Parallel()

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(newProducer(sp, nil), TopicOrderEvents)
	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:          "outbox-2",
		AggregateID: "order-234",
		EventType:   string(EventTypeOrderStatusChanged),
		Payload:     []byte(`{"status":"CANCELLED"}`),
	})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, sp.Close())
}

func TestOutboxPublisherNotInitialized(t *testing.T) {
	t.Parallel()

	var nilPublisher *OutboxTopicPublisher
	require.Error(t, nilPublisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}))
	require.Error(t, NewOutboxPublisher(nil, TopicOrderEvents).Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}))
}

func TestOutboxPublisherCancelledContext(t *testing.T) {
	t.Parallel()

	sp := mocks.NewSyncProducer(t, nil)
	publisher := NewOutboxPublisher(newProducer(sp, nil), TopicOrderEvents)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, publisher.Publish(ctx, domain.OutboxMessage{ID: "outbox-4"}), context.Canceled)
	require.NoError(t, sp.Close())
}
