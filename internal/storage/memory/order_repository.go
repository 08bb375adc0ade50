package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// OrderRepository держит заказы в map и индекс заказов по пользователю.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	byUser map[string][]string
	now    func() time.Time
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]domain.Order),
		byUser: make(map[string][]string),
		now:    time.Now,
	}
}

// Create сохраняет новый заказ. Занятый ID — ErrVersionConflict, как и в Postgres.
func (r *OrderRepository) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.orders[order.ID]; taken {
		return domain.ErrVersionConflict
	}
	r.orders[order.ID] = cloneOrder(order)
	r.byUser[order.UserID] = append(r.byUser[order.UserID], order.ID)
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByUser отдаёт заказы пользователя от новых к старым; при равном CreatedAt
// порядок задаёт ID по убыванию.
func (r *OrderRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	ids := r.byUser[userID]
	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, cloneOrder(r.orders[id]))
	}
	r.mu.RUnlock()

	slices.SortFunc(orders, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// Save — compare-and-set по Version. Позиции заказа после создания не меняются,
// поэтому берутся из хранимой копии.
func (r *OrderRepository) Save(_ context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	switch {
	case !ok:
		return domain.Order{}, domain.ErrOrderNotFound
	case stored.Version != order.Version:
		return domain.Order{}, domain.ErrVersionConflict
	}

	order.Items = stored.Items
	order.UserID = stored.UserID
	order.Version = stored.Version + 1
	order.UpdatedAt = r.now().UTC()
	r.orders[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
