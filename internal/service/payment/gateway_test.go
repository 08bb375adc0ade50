package payment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/service/retry"
)

func TestGatewayChargeAndRefund(t *testing.T) {
	gw := NewGateway(Config{Latency: time.Millisecond}, nil, nil)

	id, err := gw.Charge(context.Background(), "o-1", decimal.NewFromInt(90), "card")
	if err != nil {
		t.Fatalf("unexpected charge error: %v", err)
	}
	if !strings.HasPrefix(id, "PAY-") {
		t.Fatalf("unexpected payment id %q", id)
	}

	refundID, err := gw.Refund(context.Background(), "o-1", id, decimal.NewFromInt(90))
	if err != nil {
		t.Fatalf("unexpected refund error: %v", err)
	}
	if !strings.HasPrefix(refundID, "REF-") {
		t.Fatalf("unexpected refund id %q", refundID)
	}
}

func TestGatewayAlwaysFails(t *testing.T) {
	gw := NewGateway(Config{FailureRate: 1}, nil, nil)

	_, err := gw.Charge(context.Background(), "o-1", decimal.NewFromInt(1), "card")
	if !errors.Is(err, domain.ErrPaymentGateway) {
		t.Fatalf("expected ErrPaymentGateway, got %v", err)
	}
}

func TestGatewayRespectsContext(t *testing.T) {
	gw := NewGateway(Config{Latency: time.Second}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := gw.Charge(ctx, "o-1", decimal.NewFromInt(1), "card")
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, domain.ErrPaymentGateway) {
		t.Fatalf("expected deadline wrapped in ErrPaymentGateway, got %v", err)
	}
	if time.Since(started) > 500*time.Millisecond {
		t.Fatal("charge must not wait for full latency after cancellation")
	}
}

func TestBreakerGatewayOpensOnFailures(t *testing.T) {
	mock := NewMockService()
	mock.ChargeErr = domain.ErrPaymentGateway
	gw := NewBreakerGateway(mock, retry.NewCircuitBreaker(2, time.Minute, nil))

	for i := 0; i < 2; i++ {
		if _, err := gw.Charge(context.Background(), "o-1", decimal.NewFromInt(1), "card"); !errors.Is(err, domain.ErrPaymentGateway) {
			t.Fatalf("expected gateway error, got %v", err)
		}
	}

	_, err := gw.Charge(context.Background(), "o-1", decimal.NewFromInt(1), "card")
	if !errors.Is(err, domain.ErrPaymentGateway) || !errors.Is(err, retry.ErrCircuitOpen) {
		t.Fatalf("expected open breaker error, got %v", err)
	}
	if charge, _ := mock.Calls(); charge != 2 {
		t.Fatalf("open breaker must not reach provider, calls=%d", charge)
	}
}

func TestMockService(t *testing.T) {
	mock := NewMockService()

	id, err := mock.Charge(context.Background(), "o-1", decimal.NewFromInt(1), "card")
	if err != nil || id == "" {
		t.Fatalf("unexpected charge result %q, %v", id, err)
	}

	mock.SetChargeErr(errors.New("pay failed"))
	mock.RefundErr = errors.New("refund failed")

	if _, err := mock.Charge(context.Background(), "o-2", decimal.NewFromInt(1), "card"); err == nil {
		t.Fatal("expected charge error")
	}
	if _, err := mock.Refund(context.Background(), "o-2", "PAY-1", decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected refund error")
	}

	if charge, refund := mock.Calls(); charge != 2 || refund != 1 {
		t.Fatalf("unexpected call counters: charge=%d refund=%d", charge, refund)
	}
}
