package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// TimelineRepository хранит историю заказов в timeline_events. Seq не хранится:
// он равен номеру строки заказа в порядке BIGSERIAL id.
type TimelineRepository struct {
	store *Store
}

func NewTimelineRepository(store *Store) *TimelineRepository {
	return &TimelineRepository{store: store}
}

func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	event, err := event.Normalize(time.Now().UTC())
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err = r.store.DB().ExecContext(ctx,
		`INSERT INTO timeline_events (order_id, type, status, reason, occurred) VALUES ($1, $2, $3, $4, $5)`,
		event.OrderID, event.Type, string(event.Status), event.Reason, event.Occurred)
	if err != nil {
		return fmt.Errorf("append %s to timeline of %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

// List возвращает историю заказа по возрастанию Seq; неизвестный заказ даёт пустой срез.
func (r *TimelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT ROW_NUMBER() OVER w, type, status, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		WINDOW w AS (ORDER BY id)
		ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("timeline of %s: %w", orderID, err)
	}
	defer rows.Close()

	history := []domain.TimelineEvent{}
	for rows.Next() {
		ev := domain.TimelineEvent{OrderID: orderID}
		var status string
		if err := rows.Scan(&ev.Seq, &ev.Type, &status, &ev.Reason, &ev.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline row: %w", err)
		}
		ev.Status = domain.OrderStatus(status)
		ev.Occurred = ev.Occurred.UTC()
		history = append(history, ev)
	}
	return history, rows.Err()
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
