package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shopcore/internal/health"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/service/coupon"
	"github.com/vladislavdragonenkov/shopcore/internal/service/inventory"
	"github.com/vladislavdragonenkov/shopcore/internal/service/order"
	"github.com/vladislavdragonenkov/shopcore/internal/service/payment"
	"github.com/vladislavdragonenkov/shopcore/internal/service/retry"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/memory"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/redis"
)

// Dependencies содержит сервисы, собранные поверх выбранного хранилища.
type Dependencies struct {
	Inventory *inventory.Service
	Coupons   *coupon.Ledger
	Orders    *order.Service
	Payments  domain.PaymentGateway

	cacheChecker healthcheck.Checker
	cacheClose   func() error
}

// NewDependencies собирает сервисы склада, купонов и заказов.
// Если Redis недоступен, используется in-memory кеш.
func NewDependencies(ctx context.Context, cfg Config, rt *runtimeDependencies, m *metrics.ShopMetrics, logger *log.Entry) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	policy := retry.DefaultPolicy()
	if cfg.RetryMaxAttempts > 0 {
		policy.MaxAttempts = cfg.RetryMaxAttempts
	}

	deps := &Dependencies{}
	cache := initCache(ctx, cfg, deps, logger)

	deps.Inventory = inventory.NewService(rt.stockRepo,
		inventory.WithCache(cache),
		inventory.WithPolicy(policy),
		inventory.WithMetrics(m),
		inventory.WithLogger(logger.WithField("component", "inventory")),
	)
	deps.Coupons = coupon.NewLedger(rt.couponRepo,
		coupon.WithPolicy(policy),
		coupon.WithMetrics(m),
		coupon.WithLogger(logger.WithField("component", "coupons")),
	)

	gateway := payment.NewGateway(payment.Config{
		Latency:     cfg.PaymentLatency,
		FailureRate: cfg.PaymentFailureRate,
	}, m, logger.WithField("component", "payment-gateway"))
	breaker := retry.NewCircuitBreaker(cfg.PaymentBreakerFailures, cfg.PaymentBreakerReset,
		logger.WithField("component", "payment-breaker"),
		retry.WithTransitionHook(func(_, to retry.CircuitState) { m.RecordBreakerTransition(to.String()) }),
	)
	deps.Payments = payment.NewBreakerGateway(gateway, breaker)

	deps.Orders = order.NewService(order.Deps{
		Orders:    rt.repo,
		Directory: rt.directory,
		Catalog:   rt.directory,
		Inventory: deps.Inventory,
		Coupons:   deps.Coupons,
		Payments:  deps.Payments,
		Outbox:    rt.outboxRepo,
		Timeline:  rt.timelineRepo,
	},
		order.WithPolicy(policy),
		order.WithMetrics(m),
		order.WithLogger(logger.WithField("component", "order-lifecycle")),
	)
	return deps
}

func initCache(ctx context.Context, cfg Config, deps *Dependencies, logger *log.Entry) domain.AvailabilityCache {
	if cfg.RedisAddr == "" {
		return memory.NewAvailabilityCache(cfg.CacheTTL)
	}

	client, err := redis.NewClient(ctx, redis.Config{Addr: cfg.RedisAddr, TTL: cfg.CacheTTL})
	if err != nil {
		logger.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis is not available, using in-memory availability cache")
		return memory.NewAvailabilityCache(cfg.CacheTTL)
	}

	cache := redis.NewAvailabilityCache(client, cfg.CacheTTL, "")
	deps.cacheChecker = healthcheck.NewOptionalChecker("redis", cache.Ping)
	deps.cacheClose = client.Close
	logger.WithField("addr", cfg.RedisAddr).Info("redis availability cache initialized")
	return cache
}

func (d *Dependencies) close(logger *log.Entry) {
	if d == nil || d.cacheClose == nil {
		return
	}
	if err := d.cacheClose(); err != nil {
		logger.WithError(err).Warn("failed to close redis client")
	}
}
