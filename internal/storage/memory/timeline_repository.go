package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// TimelineRepository — история заказов в памяти, по срезу на заказ.
type TimelineRepository struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.TimelineEvent
}

func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{byOrder: make(map[string][]domain.TimelineEvent)}
}

// Append дописывает событие в конец истории заказа и назначает ему Seq.
func (r *TimelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	event, err := event.Normalize(time.Now().UTC())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.byOrder[event.OrderID]
	event.Seq = int64(len(history)) + 1
	r.byOrder[event.OrderID] = append(history, event)
	return nil
}

// List возвращает копию истории в порядке Seq; для неизвестного заказа — пустой срез.
func (r *TimelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.TimelineEvent{}, r.byOrder[orderID]...), nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
