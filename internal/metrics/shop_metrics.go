package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций для label result.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// ShopMetrics содержит метрики склада, купонов и жизненного цикла заказа.
// Методы безопасно вызывать на nil-получателе: метрики опциональны.
type ShopMetrics struct {
	stockOperations   *prometheus.CounterVec
	stockRetries      *prometheus.CounterVec
	orderTransitions  *prometheus.CounterVec
	couponRedemptions *prometheus.CounterVec
	paymentDuration   *prometheus.HistogramVec
	breakerChanges    *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	timelineEvents    prometheus.Counter
	outboxEvents      prometheus.Counter

	outboxPublish      *prometheus.CounterVec
	outboxPending      prometheus.Gauge
	outboxOldestAge    prometheus.Gauge
	idempotencyRuns    *prometheus.CounterVec
	idempotencyDeleted prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewShopMetrics регистрирует метрики в глобальном реестре.
func NewShopMetrics() *ShopMetrics {
	return NewShopMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewShopMetricsWithRegisterer регистрирует метрики в указанном реестре (для тестов).
func NewShopMetricsWithRegisterer(registerer prometheus.Registerer) *ShopMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ShopMetrics{
		stockOperations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_stock_operations_total",
			Help: "Total number of stock operations by operation and result",
		}, []string{"op", "result"}),
		stockRetries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_stock_conflict_retries_total",
			Help: "Total number of optimistic retries caused by version conflicts",
		}, []string{"op"}),
		orderTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_order_transitions_total",
			Help: "Total number of order lifecycle transitions by event and result",
		}, []string{"event", "result"}),
		couponRedemptions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_coupon_redemptions_total",
			Help: "Total number of coupon redemption attempts by result",
		}, []string{"result"}),
		paymentDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shop_payment_gateway_duration_seconds",
			Help:    "Duration of payment gateway calls in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 2.5, 5.0},
		}, []string{"op", "result"}),
		breakerChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_payment_breaker_transitions_total",
			Help: "Payment circuit breaker state changes by target state",
		}, []string{"to"}),
		cacheLookups: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_availability_cache_lookups_total",
			Help: "Availability cache lookups by outcome (hit, miss, error)",
		}, []string{"outcome"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_outbox_events_enqueued_total",
			Help: "Total number of outbox events enqueued",
		}),
		outboxPublish: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
		idempotencyRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result",
		}, []string{"result"}),
		idempotencyDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records",
		}),
		httpRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_http_requests_total",
			Help: "Total number of HTTP API requests by route, method and status code",
		}, []string{"route", "method", "code"}),
		httpDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shop_http_request_duration_seconds",
			Help:    "HTTP API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordStockOperation учитывает операцию склада.
func (m *ShopMetrics) RecordStockOperation(op, result string) {
	if m == nil {
		return
	}
	m.stockOperations.WithLabelValues(op, result).Inc()
}

// RecordStockRetry учитывает повтор из-за конфликта версий.
func (m *ShopMetrics) RecordStockRetry(op string) {
	if m == nil {
		return
	}
	m.stockRetries.WithLabelValues(op).Inc()
}

// RecordOrderTransition учитывает попытку перехода заказа.
func (m *ShopMetrics) RecordOrderTransition(event, result string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(event, result).Inc()
}

// RecordCouponRedemption учитывает попытку погашения купона.
func (m *ShopMetrics) RecordCouponRedemption(result string) {
	if m == nil {
		return
	}
	m.couponRedemptions.WithLabelValues(result).Inc()
}

// RecordPaymentCall записывает длительность обращения к платёжному шлюзу.
func (m *ShopMetrics) RecordPaymentCall(op, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.paymentDuration.WithLabelValues(op, result).Observe(duration.Seconds())
}

// RecordBreakerTransition учитывает смену состояния circuit breaker платёжного шлюза.
func (m *ShopMetrics) RecordBreakerTransition(to string) {
	if m == nil {
		return
	}
	m.breakerChanges.WithLabelValues(to).Inc()
}

// RecordCacheLookup учитывает обращение к кешу доступности.
func (m *ShopMetrics) RecordCacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *ShopMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *ShopMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordOutboxPublish учитывает попытку публикации из outbox (sent, retry_error, failed, dlq_failed).
func (m *ShopMetrics) RecordOutboxPublish(result string) {
	if m == nil {
		return
	}
	m.outboxPublish.WithLabelValues(result).Inc()
}

// SetOutboxBacklog выставляет размер backlog и возраст самой старой записи.
func (m *ShopMetrics) SetOutboxBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.outboxPending.Set(float64(pending))
	m.outboxOldestAge.Set(oldestAge.Seconds())
}

// RecordIdempotencyCleanup учитывает прогон очистки idempotency-ключей.
func (m *ShopMetrics) RecordIdempotencyCleanup(result string, deleted int) {
	if m == nil {
		return
	}
	m.idempotencyRuns.WithLabelValues(result).Inc()
	if deleted > 0 {
		m.idempotencyDeleted.Add(float64(deleted))
	}
}

// RecordHTTPRequest учитывает запрос к HTTP API; route — шаблон chi, а не сырой путь.
func (m *ShopMetrics) RecordHTTPRequest(route, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// ResultOf классифицирует ошибку для label result.
func ResultOf(err error, isBusiness func(error) bool, isConflict func(error) bool) string {
	switch {
	case err == nil:
		return ResultSuccess
	case isConflict != nil && isConflict(err):
		return ResultConflict
	case isBusiness != nil && isBusiness(err):
		return ResultRejected
	default:
		return ResultError
	}
}
