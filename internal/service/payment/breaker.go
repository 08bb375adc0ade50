package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/service/retry"
)

// BreakerGateway пропускает вызовы провайдера через circuit breaker.
// Пока breaker открыт, запросы сразу завершаются ErrPaymentGateway.
type BreakerGateway struct {
	next    domain.PaymentGateway
	breaker *retry.CircuitBreaker
}

// NewBreakerGateway оборачивает шлюз circuit breaker'ом.
func NewBreakerGateway(next domain.PaymentGateway, breaker *retry.CircuitBreaker) *BreakerGateway {
	return &BreakerGateway{next: next, breaker: breaker}
}

func (b *BreakerGateway) Charge(ctx context.Context, orderID string, amount decimal.Decimal, method string) (string, error) {
	var id string
	err := b.breaker.Execute("charge", func() error {
		var err error
		id, err = b.next.Charge(ctx, orderID, amount, method)
		return err
	}, isCallerError)
	return id, wrapOpen(err)
}

func (b *BreakerGateway) Refund(ctx context.Context, orderID, paymentID string, amount decimal.Decimal) (string, error) {
	var id string
	err := b.breaker.Execute("refund", func() error {
		var err error
		id, err = b.next.Refund(ctx, orderID, paymentID, amount)
		return err
	}, isCallerError)
	return id, wrapOpen(err)
}

// isCallerError — отмена запроса клиентом не считается отказом провайдера.
func isCallerError(err error) bool {
	return err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func wrapOpen(err error) error {
	if errors.Is(err, retry.ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", domain.ErrPaymentGateway, err)
	}
	return err
}

var _ domain.PaymentGateway = (*BreakerGateway)(nil)
