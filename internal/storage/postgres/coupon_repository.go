package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

type couponRepository struct {
	db *sql.DB
}

// NewCouponRepository создаёт PostgreSQL-реализацию CouponRepository.
// Коды сравниваются без учёта регистра.
func NewCouponRepository(store *Store) domain.CouponRepository {
	return &couponRepository{db: store.DB()}
}

func (r *couponRepository) Create(ctx context.Context, c domain.Coupon) error {
	if err := c.Validate(); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coupons (
			code, discount_value, is_percentage, max_uses, used_count, expires_at, version, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		strings.TrimSpace(c.Code), c.DiscountValue, c.IsPercentage, nullInt64(c.MaxUses),
		c.UsedCount, nullTime(c.ExpiresAt), c.Version, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCouponAlreadyExists
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

func (r *couponRepository) Get(ctx context.Context, code string) (domain.Coupon, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		c       domain.Coupon
		maxUses sql.NullInt64
		expires sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT code, discount_value, is_percentage, max_uses, used_count, expires_at, version, created_at
		FROM coupons
		WHERE UPPER(code) = UPPER($1)
	`, strings.TrimSpace(code)).Scan(
		&c.Code, &c.DiscountValue, &c.IsPercentage, &maxUses, &c.UsedCount, &expires, &c.Version, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}
	if maxUses.Valid {
		v := maxUses.Int64
		c.MaxUses = &v
	}
	c.ExpiresAt = timePtr(expires)
	return c, nil
}

// Update сохраняет счётчик использований при совпадении версии.
func (r *couponRepository) Update(ctx context.Context, c domain.Coupon) (domain.Coupon, error) {
	if err := c.Validate(); err != nil {
		return domain.Coupon{}, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err := r.db.QueryRowContext(ctx, `
		UPDATE coupons
		SET used_count = $1,
		    version = version + 1
		WHERE UPPER(code) = UPPER($2)
		  AND version = $3
		RETURNING version
	`, c.UsedCount, strings.TrimSpace(c.Code), c.Version).Scan(&c.Version)
	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, sql.ErrNoRows):
		if _, getErr := r.Get(ctx, c.Code); getErr != nil {
			return domain.Coupon{}, getErr
		}
		return domain.Coupon{}, domain.ErrVersionConflict
	case isCheckViolation(err):
		return domain.Coupon{}, fmt.Errorf("%w: %w", domain.ErrCouponExhausted, err)
	default:
		return domain.Coupon{}, fmt.Errorf("update coupon: %w", err)
	}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

var _ domain.CouponRepository = (*couponRepository)(nil)
