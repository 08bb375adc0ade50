package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// MockService — конфигурируемая заглушка PaymentGateway для тестов.
type MockService struct {
	mu sync.Mutex

	ChargeErr error
	RefundErr error

	ChargeCalls int
	RefundCalls int
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService() *MockService {
	return &MockService{}
}

// Charge возвращает заранее настроенную ошибку и считает вызовы.
func (m *MockService) Charge(_ context.Context, orderID string, _ decimal.Decimal, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChargeCalls++
	if m.ChargeErr != nil {
		return "", m.ChargeErr
	}
	return fmt.Sprintf("PAY-%s-%d", orderID, m.ChargeCalls), nil
}

// Refund возвращает настроенный результат и считает вызовы.
func (m *MockService) Refund(_ context.Context, orderID, _ string, _ decimal.Decimal) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RefundCalls++
	if m.RefundErr != nil {
		return "", m.RefundErr
	}
	return fmt.Sprintf("REF-%s-%d", orderID, m.RefundCalls), nil
}

// Calls возвращает счётчики вызовов под блокировкой.
func (m *MockService) Calls() (charge, refund int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ChargeCalls, m.RefundCalls
}

// SetChargeErr меняет ошибку списания под блокировкой.
func (m *MockService) SetChargeErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChargeErr = err
}

var _ domain.PaymentGateway = (*MockService)(nil)
