package domain

import (
	"fmt"
	"strings"
	"time"
)

// ErrTimelineEventInvalid — событие истории без заказа, типа или с неизвестным статусом.
var ErrTimelineEventInvalid = fmt.Errorf("%w: timeline event needs order id, type and a known status", ErrValidation)

// TimelineEvent — запись истории заказа. Seq назначает хранилище при Append:
// порядковый номер события внутри заказа, начиная с 1. История читается по Seq,
// Occurred только информирует.
type TimelineEvent struct {
	Seq      int64
	OrderID  string
	Type     string
	Status   OrderStatus
	Reason   string
	Occurred time.Time
}

// Normalize проверяет событие и проставляет Occurred, если он пуст.
func (e TimelineEvent) Normalize(now time.Time) (TimelineEvent, error) {
	e.OrderID = strings.TrimSpace(e.OrderID)
	e.Type = strings.TrimSpace(e.Type)
	if e.OrderID == "" || e.Type == "" || !e.Status.Valid() {
		return e, ErrTimelineEventInvalid
	}
	if e.Occurred.IsZero() {
		e.Occurred = now
	}
	e.Occurred = e.Occurred.UTC()
	return e, nil
}
