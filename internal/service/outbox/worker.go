package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
)

// Результаты публикации для метрик.
const (
	resultSent       = "sent"
	resultRetryError = "retry_error"
	resultFailed     = "failed"
	resultDLQFailed  = "dlq_failed"
)

// Config задаёт темп опроса и политику повторов.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	// RetryBase — пауза перед второй попыткой, дальше она удваивается до RetryMax.
	// Ноль отключает паузы.
	RetryBase time.Duration
	RetryMax  time.Duration
}

// DefaultConfig — значения для shop-service без переопределений в окружении.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		BatchSize:    100,
		MaxAttempts:  3,
		RetryBase:    50 * time.Millisecond,
		RetryMax:     2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	c.RetryBase = max(c.RetryBase, 0)
	if c.RetryMax < c.RetryBase {
		c.RetryMax = max(c.RetryBase, def.RetryMax)
	}
	return c
}

// backoff возвращает паузу после неудачной попытки attempt (с единицы).
func (c Config) backoff(attempt int) time.Duration {
	d := c.RetryBase
	for i := 1; i < attempt && d < c.RetryMax; i++ {
		d *= 2
	}
	return min(d, c.RetryMax)
}

// Option подключает к Worker необязательные зависимости.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithDeadLetters задаёт publisher для событий, которые не удалось доставить.
// Без него такие события только помечаются failed.
func WithDeadLetters(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// Worker переносит события заказов из outbox в брокер.
// Запись помечается sent только после подтверждения брокера,
// так что потребители должны выдерживать повторы (at-least-once).
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	cfg       Config
	metrics   *metrics.ShopMetrics
	logger    *log.Entry
	now       func() time.Time
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, cfg Config, opts ...Option) *Worker {
	w := &Worker{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    log.WithField("component", "outbox-worker"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run разбирает outbox каждые PollInterval, пока ctx не отменён.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox relay disabled: no repository or publisher")
		return
	}
	w.logger.WithFields(log.Fields{
		"poll_interval": w.cfg.PollInterval,
		"batch_size":    w.cfg.BatchSize,
		"max_attempts":  w.cfg.MaxAttempts,
		"dead_letters":  w.dlq != nil,
	}).Info("outbox relay started")

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("outbox relay stopped")
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// delivery — итог обработки одной записи outbox.
type delivery int

const (
	delivered delivery = iota
	deadLettered
	// interrupted: ctx отменён, запись осталась pending.
	interrupted
	// unmarked: брокер принял событие, но отметка sent не сохранилась.
	unmarked
)

// ProcessOnce забирает одну пачку pending-записей и возвращает число доставленных.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.observeBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox batch")
		return 0
	}

	sent := 0
	for _, msg := range batch {
		switch w.deliver(ctx, msg) {
		case delivered:
			sent++
		case interrupted:
			return sent
		}
	}
	return sent
}

func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) delivery {
	logger := w.logger.WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"event_type": msg.EventType,
		"order_id":   msg.AggregateID,
	})

	attempts, err := w.publish(ctx, msg)
	switch {
	case err == nil:
		if markErr := w.repo.MarkSent(ctx, msg.ID); markErr != nil {
			logger.WithError(markErr).Warn("event published but not marked sent; it will be sent again")
			return unmarked
		}
		return delivered
	case ctx.Err() != nil:
		return interrupted
	}

	logger.WithError(err).WithField("attempts", attempts).Error("outbox event undeliverable")
	w.metrics.RecordOutboxPublish(resultFailed)
	if dlqErr := w.deadLetter(ctx, msg, attempts, err); dlqErr != nil {
		logger.WithError(dlqErr).Warn("dead letter not published")
		w.metrics.RecordOutboxPublish(resultDLQFailed)
	}
	if markErr := w.repo.MarkFailed(ctx, msg.ID); markErr != nil {
		logger.WithError(markErr).Warn("mark outbox event failed")
	}
	return deadLettered
}

// publish делает до MaxAttempts попыток и возвращает число сделанных.
func (w *Worker) publish(ctx context.Context, msg domain.OutboxMessage) (int, error) {
	var err error
	for attempt := 1; ; attempt++ {
		if err = w.publisher.Publish(ctx, msg); err == nil {
			w.metrics.RecordOutboxPublish(resultSent)
			return attempt, nil
		}
		w.metrics.RecordOutboxPublish(resultRetryError)
		if attempt >= w.cfg.MaxAttempts {
			return attempt, fmt.Errorf("%w after %d attempts: %w", domain.ErrOutboxPublish, attempt, err)
		}
		if pause := w.cfg.backoff(attempt); pause > 0 {
			if !sleep(ctx, pause) {
				return attempt, ctx.Err()
			}
		} else if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Debug("outbox backlog stats unavailable")
		return
	}
	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, age)
}

// DeadLetter — полезная нагрузка DLQ: исходное событие и причина отказа.
// cmd/dlq-reprocess разбирает её обратно.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, attempts int, cause error) error {
	if w.dlq == nil {
		return nil
	}
	body, err := json.Marshal(DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		Attempts:      attempts,
		PublishError:  cause.Error(),
		FailedAt:      w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode dead letter %s: %w", msg.ID, err)
	}

	dead := msg
	dead.Payload = body
	return w.dlq.Publish(ctx, dead)
}
