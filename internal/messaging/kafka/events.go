package kafka

import (
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// EventType — тип события заказа.
type EventType string

const (
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderPaid          EventType = "order.paid"
	EventTypeOrderCancelled     EventType = "order.cancelled"
	EventTypeOrderRefunded      EventType = "order.refunded"
	EventTypeOrderShipped       EventType = "order.shipped"
	EventTypeOrderDelivered     EventType = "order.delivered"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	EventTypeOrderPaymentFailed EventType = "order.payment_failed"
)

const (
	TopicOrderEvents     = "shop.order.events"
	TopicDeadLetterQueue = "shop.dlq"
)

// Заголовки Kafka-сообщения: подписчики фильтруют и дедуплицируют без разбора тела.
const (
	HeaderEventType = "x-event-type"
	HeaderMessageID = "x-message-id"
	HeaderReplayed  = "x-replayed"
)

// OrderEvent — payload события заказа.
type OrderEvent struct {
	EventType  EventType              `json:"event_type"`
	OrderID    string                 `json:"order_id"`
	UserID     string                 `json:"user_id"`
	Status     string                 `json:"status"`
	FinalTotal string                 `json:"final_total,omitempty"`
	CouponCode string                 `json:"coupon_code,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent снимает с заказа то, что нужно подписчикам: статус, сумму к оплате, купон.
func NewOrderEvent(eventType EventType, order domain.Order, occurred time.Time, metadata map[string]interface{}) OrderEvent {
	return OrderEvent{
		EventType:  eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		FinalTotal: order.FinalTotal.StringFixed(2),
		CouponCode: order.CouponCode,
		Timestamp:  occurred.UTC(),
		Metadata:   metadata,
	}
}

// Envelope — тело Kafka-сообщения: outbox-запись вокруг исходного payload.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	PublishedAt   time.Time       `json:"published_at"`
	Replayed      bool            `json:"replayed,omitempty"`
}

// EnvelopeFor заворачивает outbox-сообщение для публикации в момент publishedAt.
func EnvelopeFor(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		OccurredAt:    msg.CreatedAt,
		PublishedAt:   publishedAt.UTC(),
	}
}

// Key — ключ партиционирования: события одного заказа идут в одну партицию по порядку.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// Headers возвращает заголовки сообщения; пустые значения пропускаются.
func (e Envelope) Headers() []sarama.RecordHeader {
	headers := make([]sarama.RecordHeader, 0, 3)
	if e.EventType != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(e.EventType)})
	}
	if e.ID != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderMessageID), Value: []byte(e.ID)})
	}
	if e.Replayed {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderReplayed), Value: []byte("true")})
	}
	return headers
}
