// Package httpapi — тонкий HTTP-слой над сервисами заказов и склада.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/service/order"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultLowStock       = int64(10)
)

// Orders — операции жизненного цикла заказа, доступные через API.
type Orders interface {
	Create(ctx context.Context, req order.CreateRequest) (domain.Order, error)
	Get(ctx context.Context, orderID, userID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
	Pay(ctx context.Context, orderID, paymentMethod string) (domain.Order, error)
	Cancel(ctx context.Context, orderID, reason string) (domain.Order, error)
	Refund(ctx context.Context, orderID, reason string) (domain.Order, error)
	Ship(ctx context.Context, orderID string) (domain.Order, error)
	Deliver(ctx context.Context, orderID string) (domain.Order, error)
}

// Inventory — операции склада, доступные через API.
type Inventory interface {
	GetStock(ctx context.Context, productID string) (domain.StockRecord, error)
	GetAvailable(ctx context.Context, productID string) (int64, error)
	Reserve(ctx context.Context, productID string, qty int64) error
	Restock(ctx context.Context, productID string, qty int64) (domain.StockRecord, error)
	ListLowStock(ctx context.Context, threshold int64) ([]domain.StockRecord, error)
}

// Config собирает зависимости роутера.
type Config struct {
	Orders      Orders
	Inventory   Inventory
	Idempotency domain.IdempotencyRepository
	Metrics     *metrics.ShopMetrics
	Logger      *log.Entry

	RequestTimeout time.Duration
	IdempotencyTTL time.Duration
	Now            func() time.Time
}

type api struct {
	orders      Orders
	inventory   Inventory
	idempotency domain.IdempotencyRepository
	logger      *log.Entry
	ttl         time.Duration
	now         func() time.Time
}

// NewRouter собирает chi-роутер /api/orders и /api/inventory.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = log.New().WithField("component", "http-api")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = domain.DefaultIdempotencyTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	a := &api{
		orders:      cfg.Orders,
		inventory:   cfg.Inventory,
		idempotency: cfg.Idempotency,
		logger:      cfg.Logger,
		ttl:         cfg.IdempotencyTTL,
		now:         cfg.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(cfg.Logger, cfg.Metrics))
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", a.createOrder)
		r.Get("/user/{userId}", a.listUserOrders)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getOrder)
			r.Get("/timeline", a.orderTimeline)
			r.Post("/payment", a.payOrder)
			r.Put("/cancel", a.cancelOrder)
			r.Post("/refund", a.refundOrder)
			r.Post("/ship", a.shipOrder)
			r.Post("/deliver", a.deliverOrder)
		})
	})

	r.Route("/api/inventory", func(r chi.Router) {
		r.Get("/low-stock", a.lowStock)
		r.Route("/{productId}", func(r chi.Router) {
			r.Get("/", a.getStock)
			r.Get("/available", a.getAvailable)
			r.Put("/reserve", a.reserve)
			r.Post("/restock", a.restock)
		})
	})

	return r
}

// requestLogger пишет access-лог и метрики по шаблону маршрута.
func requestLogger(logger *log.Entry, m *metrics.ShopMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			m.RecordHTTPRequest(route, r.Method, status, elapsed)

			logger.WithFields(log.Fields{
				"method":      r.Method,
				"route":       route,
				"path":        r.URL.Path,
				"status":      status,
				"duration_ms": elapsed.Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}).Debug("http request served")
		})
	}
}
