package app

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shopcore/internal/service/outbox"
)

// logPublisher дренирует outbox в лог, когда Kafka не настроена.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"aggregate_id": msg.AggregateID,
		"event_type":   msg.EventType,
	}).Debug("order event published to log")
	return nil
}

// createOutboxWorker выбирает паблишер: Kafka с DLQ при наличии producer, иначе лог.
func createOutboxWorker(cfg Config, repo domain.OutboxRepository, producer *kafka.Producer, m *metrics.ShopMetrics, logger *log.Entry) *outbox.Worker {
	relay := outbox.DefaultConfig()
	relay.PollInterval = cfg.OutboxPollInterval
	relay.BatchSize = cfg.OutboxBatchSize
	relay.MaxAttempts = cfg.OutboxMaxAttempts
	relay.RetryBase = cfg.OutboxRetryDelay

	opts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(m),
	}

	var publisher domain.OutboxPublisher = logPublisher{logger: logger.WithField("component", "outbox-log")}
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents)
		opts = append(opts, outbox.WithDeadLetters(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)))
	}
	return outbox.NewWorker(repo, publisher, relay, opts...)
}

func createCleanupWorker(cfg Config, repo domain.IdempotencyRepository, m *metrics.ShopMetrics, logger *log.Entry) *idempotency.CleanupWorker {
	return idempotency.NewCleanupWorker(repo, idempotency.CleanupConfig{
		Interval:  cfg.IdempotencyCleanupInterval,
		BatchSize: cfg.IdempotencyCleanupBatchSize,
		// Порция в секунду и не больше сотни порций за проход: хвост дочистится следующими запусками.
		MaxBatches:       100,
		BatchesPerSecond: 1,
	}, m, logger.WithField("component", "idempotency-cleanup"))
}

// startBackground запускает fn в горутине и возвращает cancel и канал завершения.
func startBackground(ctx context.Context, fn func(ctx context.Context)) (context.CancelFunc, <-chan struct{}) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return cancel, done
}

// shutdownWorker останавливает фоновый воркер и ждёт его не дольше 5 секунд.
func shutdownWorker(name string, cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.WithField("worker", name).Warn("worker did not stop in time")
	}
}

// outboxOldest возвращает время самой старой неотправленной записи для health-проверки.
func outboxOldest(repo domain.OutboxRepository) func(ctx context.Context) (time.Time, error) {
	return func(ctx context.Context) (time.Time, error) {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return time.Time{}, err
		}
		return stats.OldestPendingAt, nil
	}
}
