package payment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
)

// Config задаёт поведение заглушки платёжного провайдера.
type Config struct {
	// Latency — задержка каждого обращения к провайдеру.
	Latency time.Duration
	// FailureRate — вероятность отказа списания в диапазоне [0, 1].
	FailureRate float64
}

// DefaultConfig повторяет поведение демо-провайдера: 2s задержки, 10% отказов.
func DefaultConfig() Config {
	return Config{Latency: 2 * time.Second, FailureRate: 0.1}
}

// Gateway — заглушка платёжного шлюза. Ответ формата PAY-<uuid> / REF-<uuid>.
type Gateway struct {
	cfg     Config
	metrics *metrics.ShopMetrics
	logger  *log.Entry

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGateway создаёт заглушку платёжного шлюза.
func NewGateway(cfg Config, m *metrics.ShopMetrics, logger *log.Entry) *Gateway {
	if logger == nil {
		logger = log.New().WithField("component", "payment-gateway")
	}
	if cfg.FailureRate < 0 {
		cfg.FailureRate = 0
	}
	if cfg.FailureRate > 1 {
		cfg.FailureRate = 1
	}
	return &Gateway{
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // имитация отказов, не криптография.
	}
}

// Charge имитирует списание.
func (g *Gateway) Charge(ctx context.Context, orderID string, amount decimal.Decimal, method string) (string, error) {
	started := time.Now()
	id, err := g.call(ctx, "PAY-")
	g.metrics.RecordPaymentCall("charge", resultLabel(err), time.Since(started))
	if err != nil {
		g.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"amount":   amount.StringFixed(domain.MoneyScale),
			"method":   method,
		}).Warn("payment charge failed")
		return "", err
	}
	return id, nil
}

// Refund имитирует возврат. Возврат не отказывает случайно, только по контексту.
func (g *Gateway) Refund(ctx context.Context, orderID, paymentID string, amount decimal.Decimal) (string, error) {
	started := time.Now()
	if err := g.wait(ctx); err != nil {
		g.metrics.RecordPaymentCall("refund", metrics.ResultError, time.Since(started))
		return "", fmt.Errorf("%w: refund for order %s: %w", domain.ErrPaymentGateway, orderID, err)
	}
	g.metrics.RecordPaymentCall("refund", metrics.ResultSuccess, time.Since(started))
	g.logger.WithFields(log.Fields{
		"order_id":   orderID,
		"payment_id": paymentID,
		"amount":     amount.StringFixed(domain.MoneyScale),
	}).Debug("payment refunded")
	return "REF-" + uuid.NewString(), nil
}

func (g *Gateway) call(ctx context.Context, prefix string) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrPaymentGateway, err)
	}
	if g.fail() {
		return "", fmt.Errorf("%w: payment declined by provider", domain.ErrPaymentGateway)
	}
	return prefix + uuid.NewString(), nil
}

func (g *Gateway) wait(ctx context.Context) error {
	if g.cfg.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(g.cfg.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (g *Gateway) fail() bool {
	if g.cfg.FailureRate <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Float64() < g.cfg.FailureRate
}

func resultLabel(err error) string {
	if err != nil {
		return metrics.ResultError
	}
	return metrics.ResultSuccess
}

var _ domain.PaymentGateway = (*Gateway)(nil)
