package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxAttempts != 5 {
		t.Fatalf("unexpected MaxAttempts: %d", p.MaxAttempts)
	}
	if p.InitialDelay != 5*time.Millisecond || p.MaxDelay != 100*time.Millisecond {
		t.Fatalf("unexpected delays: %+v", p)
	}
	if p.BackoffFactor <= 1 {
		t.Fatalf("backoff factor should be > 1: %f", p.BackoffFactor)
	}
}

func TestDo(t *testing.T) {
	logger := log.New().WithField("test", "retry")

	t.Run("retry then success", func(t *testing.T) {
		attempts, hooks := 0, 0
		err := Do(context.Background(), fastPolicy(5), logger, func(int, error) { hooks++ }, func(context.Context) error {
			attempts++
			if attempts < 3 {
				return fmt.Errorf("save: %w", domain.ErrVersionConflict)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 3 || hooks != 2 {
			t.Fatalf("expected 3 attempts and 2 hooks, got %d/%d", attempts, hooks)
		}
	})

	t.Run("business error is not retried", func(t *testing.T) {
		attempts := 0
		err := Do(context.Background(), fastPolicy(5), logger, nil, func(context.Context) error {
			attempts++
			return domain.ErrInsufficientStock
		})
		if !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("expected business error, got %v", err)
		}
		if attempts != 1 {
			t.Fatalf("expected single attempt, got %d", attempts)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		attempts := 0
		err := Do(context.Background(), fastPolicy(4), nil, nil, func(context.Context) error {
			attempts++
			return domain.ErrVersionConflict
		})
		if !errors.Is(err, domain.ErrConcurrentUpdateConflict) {
			t.Fatalf("expected ErrConcurrentUpdateConflict, got %v", err)
		}
		if attempts != 4 {
			t.Fatalf("expected 4 attempts, got %d", attempts)
		}
	})

	t.Run("context cancelled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := Policy{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second, BackoffFactor: 2}
		err := Do(ctx, p, nil, func(int, error) { cancel() }, func(context.Context) error {
			return domain.ErrVersionConflict
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
