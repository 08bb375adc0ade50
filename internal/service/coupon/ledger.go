package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/service/retry"
)

// Ledger погашает купоны. Проверка лимита и инкремент счётчика — одна
// запись с проверкой версии, поэтому купон с MaxUses=N погашается не более N раз.
type Ledger struct {
	repo    domain.CouponRepository
	policy  retry.Policy
	metrics *metrics.ShopMetrics
	logger  *log.Entry
	now     func() time.Time
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithClock подменяет источник времени (для проверки срока действия в тестах).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithPolicy(p retry.Policy) Option {
	return func(l *Ledger) { l.policy = p }
}

func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger создаёт сервис купонов.
func NewLedger(repo domain.CouponRepository, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		policy: retry.DefaultPolicy(),
		logger: log.New().WithField("component", "coupon-ledger"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Redeem проверяет купон и атомарно увеличивает UsedCount.
func (l *Ledger) Redeem(ctx context.Context, code string) (domain.Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Coupon{}, domain.ErrCouponCodeRequired
	}

	var redeemed domain.Coupon
	err := retry.Do(ctx, l.policy, l.logger.WithField("coupon", code), nil, func(ctx context.Context) error {
		c, err := l.repo.Get(ctx, code)
		if err != nil {
			return err
		}
		if err := c.CheckRedeemable(l.now()); err != nil {
			return err
		}
		c.UsedCount++
		redeemed, err = l.repo.Update(ctx, c)
		return err
	})

	l.metrics.RecordCouponRedemption(metrics.ResultOf(err, domain.IsBusinessError, func(err error) bool {
		return errors.Is(err, domain.ErrConcurrentUpdateConflict)
	}))
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("redeem coupon %s: %w", code, err)
	}

	l.logger.WithFields(log.Fields{
		"coupon":     redeemed.Code,
		"used_count": redeemed.UsedCount,
	}).Debug("coupon redeemed")
	return redeemed, nil
}

// Revert возвращает одно использование купона (компенсация неудачного checkout).
// Счётчик не опускается ниже нуля.
func (l *Ledger) Revert(ctx context.Context, code string) error {
	err := retry.Do(ctx, l.policy, l.logger.WithField("coupon", code), nil, func(ctx context.Context) error {
		c, err := l.repo.Get(ctx, code)
		if err != nil {
			return err
		}
		if c.UsedCount == 0 {
			return nil
		}
		c.UsedCount--
		_, err = l.repo.Update(ctx, c)
		return err
	})
	if err != nil {
		return fmt.Errorf("revert coupon %s: %w", code, err)
	}
	return nil
}

// Get возвращает купон по коду.
func (l *Ledger) Get(ctx context.Context, code string) (domain.Coupon, error) {
	return l.repo.Get(ctx, strings.TrimSpace(code))
}

// Create заводит новый купон.
func (l *Ledger) Create(ctx context.Context, c domain.Coupon) (domain.Coupon, error) {
	c.Code = strings.TrimSpace(c.Code)
	c.UsedCount = 0
	c.Version = 0
	if c.CreatedAt.IsZero() {
		c.CreatedAt = l.now().UTC()
	}
	if err := l.repo.Create(ctx, c); err != nil {
		return domain.Coupon{}, fmt.Errorf("create coupon %s: %w", c.Code, err)
	}
	return l.repo.Get(ctx, c.Code)
}
