package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
)

const aggregateOrder = "order"

// emit фиксирует уже совершённый переход в timeline и outbox.
// Сбой любого из них только логируется: заказ к этому моменту сохранён.
func (s *Service) emit(ctx context.Context, order domain.Order, eventType kafka.EventType, reason string, metadata map[string]any) {
	ctx = context.WithoutCancel(ctx)
	occurred := order.UpdatedAt
	if occurred.IsZero() {
		occurred = s.now().UTC()
	}
	logger := s.logger.WithFields(log.Fields{"order_id": order.ID, "event": eventType})

	if err := s.appendTimeline(ctx, order, eventType, reason, occurred); err != nil {
		logger.WithError(err).Warn("order timeline not updated")
	}
	if err := s.enqueueEvent(ctx, order, eventType, reason, metadata, occurred); err != nil {
		logger.WithError(err).Error("order event lost before outbox")
	}
}

func (s *Service) appendTimeline(ctx context.Context, order domain.Order, eventType kafka.EventType, reason string, occurred time.Time) error {
	if s.timeline == nil {
		return nil
	}
	err := s.timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     string(eventType),
		Status:   order.Status,
		Reason:   reason,
		Occurred: occurred,
	})
	if err != nil {
		return err
	}
	s.metrics.RecordTimelineEvent()
	return nil
}

func (s *Service) enqueueEvent(ctx context.Context, order domain.Order, eventType kafka.EventType, reason string, metadata map[string]any, occurred time.Time) error {
	if s.outbox == nil {
		return nil
	}
	if reason != "" {
		metadata = withReason(metadata, reason)
	}
	payload, err := json.Marshal(kafka.NewOrderEvent(eventType, order, occurred, metadata))
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: aggregateOrder,
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
		CreatedAt:     occurred,
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	s.metrics.RecordOutboxEvent()
	return nil
}

// withReason копирует metadata, чтобы не менять карту вызывающего.
func withReason(metadata map[string]any, reason string) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["reason"] = reason
	return out
}
