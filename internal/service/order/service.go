package order

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/service/retry"
)

// Inventory — операции склада, которые нужны жизненному циклу заказа.
type Inventory interface {
	Reserve(ctx context.Context, productID string, qty int64) error
	ConfirmReservation(ctx context.Context, productID string, qty int64) error
	ReleaseReservation(ctx context.Context, productID string, qty int64) error
	RevertConfirmation(ctx context.Context, productID string, qty int64) error
	Restock(ctx context.Context, productID string, qty int64) (domain.StockRecord, error)
	RevertRestock(ctx context.Context, productID string, qty int64) error
}

// Coupons — погашение купонов.
type Coupons interface {
	Redeem(ctx context.Context, code string) (domain.Coupon, error)
	Revert(ctx context.Context, code string) error
}

// Deps собирает зависимости сервиса заказов.
type Deps struct {
	Orders    domain.OrderRepository
	Directory domain.Directory
	Catalog   domain.Catalog
	Inventory Inventory
	Coupons   Coupons
	Payments  domain.PaymentGateway
	Outbox    domain.OutboxRepository
	Timeline  domain.TimelineRepository
}

// Service — конечный автомат заказа. Каждая запись статуса — Save с проверкой
// версии. Переход сначала захватывает заказ (claim), затем применяет эффекты
// на складе и в платёжном шлюзе, затем фиксирует итоговый статус или
// откатывает эффекты и статус.
type Service struct {
	orders    domain.OrderRepository
	directory domain.Directory
	catalog   domain.Catalog
	inventory Inventory
	coupons   Coupons
	payments  domain.PaymentGateway
	outbox    domain.OutboxRepository
	timeline  domain.TimelineRepository

	policy  retry.Policy
	metrics *metrics.ShopMetrics
	logger  *log.Entry
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

func WithPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени для отметок paidAt, cancelledAt и т.д.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис жизненного цикла заказа.
func NewService(deps Deps, opts ...Option) *Service {
	s := &Service{
		orders:    deps.Orders,
		directory: deps.Directory,
		catalog:   deps.Catalog,
		inventory: deps.Inventory,
		coupons:   deps.Coupons,
		payments:  deps.Payments,
		outbox:    deps.Outbox,
		timeline:  deps.Timeline,
		policy:    retry.DefaultPolicy(),
		logger:    log.New().WithField("component", "order-lifecycle"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) stamp() *time.Time {
	t := s.now().UTC()
	return &t
}

func (s *Service) record(event domain.OrderEvent, err error) {
	s.metrics.RecordOrderTransition(string(event), metrics.ResultOf(err, domain.IsBusinessError, isConflict))
}
