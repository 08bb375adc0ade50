package order

import (
	"context"
	"strings"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// DefaultListLimit — сколько заказов отдаёт ListByUser, если limit не задан.
const DefaultListLimit = 50

// Get возвращает заказ. Если userID задан, заказ должен принадлежать ему,
// иначе ErrAccessDenied.
func (s *Service) Get(ctx context.Context, orderID, userID string) (domain.Order, error) {
	order, err := s.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	if userID != "" && !order.OwnedBy(userID) {
		return domain.Order{}, domain.ErrAccessDenied
	}
	return order, nil
}

// ListByUser возвращает заказы пользователя, новые первыми.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrUserRequired
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.orders.ListByUser(ctx, userID, limit)
}

// Timeline возвращает историю событий заказа в порядке появления.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return nil, nil
	}
	return s.timeline.List(ctx, orderID)
}
