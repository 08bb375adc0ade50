package retry

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// Policy — параметры optimistic retry при конфликте версий.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultPolicy возвращает конфигурацию по умолчанию: 5 попыток, 5ms..100ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   5,
		InitialDelay:  5 * time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = def.BackoffFactor
	}
	return p
}

// Hook вызывается перед каждой повторной попыткой (метрики, логи).
type Hook func(attempt int, err error)

// Do выполняет fn, повторяя её только при domain.ErrVersionConflict.
// fn должна заново читать состояние на каждой попытке. Любая другая ошибка
// возвращается сразу. После MaxAttempts конфликтов возвращается
// domain.ErrConcurrentUpdateConflict.
func Do(ctx context.Context, p Policy, logger *log.Entry, onRetry Hook, fn func(ctx context.Context) error) error {
	p = p.normalized()
	delay := p.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 && logger != nil {
				logger.WithField("attempt", attempt).Debug("operation succeeded after version conflict")
			}
			return nil
		}
		if !domain.IsVersionConflict(err) {
			return err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if logger != nil {
			logger.WithFields(log.Fields{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("version conflict, retrying")
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		// Экспоненциальная задержка с ограничением
		delay = time.Duration(float64(delay) * p.BackoffFactor)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	if logger != nil {
		logger.WithFields(log.Fields{
			"max_attempts": p.MaxAttempts,
			"error":        lastErr,
		}).Warn("optimistic retry exhausted")
	}
	return fmt.Errorf("%w after %d attempts", domain.ErrConcurrentUpdateConflict, p.MaxAttempts)
}
