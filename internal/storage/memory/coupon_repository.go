package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

type couponRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Coupon
}

// NewCouponRepository возвращает in-memory реализацию CouponRepository.
// Коды купонов сравниваются без учёта регистра.
func NewCouponRepository() domain.CouponRepository {
	return &couponRepositoryInMemory{items: make(map[string]domain.Coupon)}
}

func couponKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r *couponRepositoryInMemory) Create(_ context.Context, c domain.Coupon) error {
	if err := c.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := couponKey(c.Code)
	if _, exists := r.items[key]; exists {
		return domain.ErrCouponAlreadyExists
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.items[key] = cloneCoupon(c)
	return nil
}

func (r *couponRepositoryInMemory) Get(_ context.Context, code string) (domain.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.items[couponKey(code)]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return cloneCoupon(c), nil
}

func (r *couponRepositoryInMemory) Update(_ context.Context, c domain.Coupon) (domain.Coupon, error) {
	if err := c.Validate(); err != nil {
		return domain.Coupon{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := couponKey(c.Code)
	current, ok := r.items[key]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	if current.Version != c.Version {
		return domain.Coupon{}, domain.ErrVersionConflict
	}

	c.Version++
	r.items[key] = cloneCoupon(c)
	return cloneCoupon(c), nil
}

// cloneCoupon копирует указатели, чтобы вызывающий код не менял хранилище.
func cloneCoupon(src domain.Coupon) domain.Coupon {
	dst := src
	if src.MaxUses != nil {
		v := *src.MaxUses
		dst.MaxUses = &v
	}
	if src.ExpiresAt != nil {
		v := *src.ExpiresAt
		dst.ExpiresAt = &v
	}
	return dst
}

var _ domain.CouponRepository = (*couponRepositoryInMemory)(nil)
