package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coupon — промокод со скидкой и лимитом использований.
type Coupon struct {
	Code          string
	DiscountValue decimal.Decimal
	IsPercentage  bool
	// MaxUses nil — без ограничения.
	MaxUses   *int64
	UsedCount int64
	// ExpiresAt nil — бессрочный купон.
	ExpiresAt *time.Time
	Version   int64
	CreatedAt time.Time
}

// CheckRedeemable возвращает причину, по которой купон нельзя применить в момент now.
func (c Coupon) CheckRedeemable(now time.Time) error {
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return ErrCouponExpired
	}
	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return ErrCouponExhausted
	}
	return nil
}

// Validate проверяет купон перед сохранением.
func (c Coupon) Validate() error {
	if c.Code == "" {
		return ErrCouponCodeRequired
	}
	if c.DiscountValue.IsNegative() {
		return ErrDiscountInvalid
	}
	if c.UsedCount < 0 || (c.MaxUses != nil && (*c.MaxUses < 0 || c.UsedCount > *c.MaxUses)) {
		return ErrDiscountInvalid
	}
	return nil
}
