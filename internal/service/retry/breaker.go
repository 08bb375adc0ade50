package retry

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrCircuitOpen возвращается без вызова операции, пока breaker открыт.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

var circuitStateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// BreakerOption настраивает CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithTransitionHook вызывает fn при каждой смене состояния. Хук выполняется под
// мьютексом breaker'а и не должен обращаться к нему.
func WithTransitionHook(fn func(from, to CircuitState)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onTransition = fn }
}

// CircuitBreaker размыкается после threshold подряд засчитанных отказов и через
// cooldown пропускает одну пробную операцию. Проба успешна — цепь замыкается,
// нет — снова размыкается на cooldown.
type CircuitBreaker struct {
	threshold    int
	cooldown     time.Duration
	now          func() time.Time
	logger       *log.Entry
	onTransition func(from, to CircuitState)

	mu       sync.Mutex
	state    CircuitState
	streak   int
	openedAt time.Time
	trial    bool
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry, opts ...BreakerOption) *CircuitBreaker {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	cb := &CircuitBreaker{
		threshold: max(maxFailures, 1),
		cooldown:  resetTimeout,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute запускает fn, если цепь пропускает вызов. Ошибки, для которых ignore
// возвращает true, не засчитываются как отказ, но и серию отказов не сбрасывают.
func (cb *CircuitBreaker) Execute(operation string, fn func() error, ignore func(error) bool) error {
	if !cb.admit(operation) {
		return ErrCircuitOpen
	}

	err := fn()
	switch {
	case err == nil:
		cb.succeeded(operation)
	case ignore != nil && ignore(err):
		cb.released()
	default:
		cb.failed(operation)
	}
	return err
}

func (cb *CircuitBreaker) admit(operation string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.openedAt) <= cb.cooldown {
			return false
		}
		cb.moveTo(CircuitHalfOpen, operation)
	}
	if cb.state == CircuitHalfOpen {
		if cb.trial {
			return false
		}
		cb.trial = true
	}
	return true
}

func (cb *CircuitBreaker) succeeded(operation string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trial = false
	cb.streak = 0
	if cb.state == CircuitHalfOpen {
		cb.moveTo(CircuitClosed, operation)
	}
}

func (cb *CircuitBreaker) failed(operation string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trial = false
	cb.streak++
	if cb.state == CircuitHalfOpen || cb.streak >= cb.threshold {
		cb.openedAt = cb.now()
		cb.moveTo(CircuitOpen, operation)
	}
}

// released освобождает слот пробы, не меняя состояние.
func (cb *CircuitBreaker) released() {
	cb.mu.Lock()
	cb.trial = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) moveTo(next CircuitState, operation string) {
	prev := cb.state
	if prev == next {
		return
	}
	cb.state = next

	entry := cb.logger.WithFields(log.Fields{
		"operation": operation,
		"from":      prev.String(),
		"to":        next.String(),
	})
	if next == CircuitOpen {
		entry.WithField("failures", cb.streak).Warn("circuit breaker opened")
	} else {
		entry.Info("circuit breaker state changed")
	}
	if cb.onTransition != nil {
		cb.onTransition(prev, next)
	}
}
