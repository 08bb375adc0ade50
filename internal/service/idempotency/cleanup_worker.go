// Package idempotency вычищает просроченные Idempotency-Key checkout-запросов.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
)

// CleanupConfig задаёт расписание и размер порций очистки.
// Нулевые поля заменяются значениями по умолчанию.
type CleanupConfig struct {
	Interval time.Duration
	// BatchSize — сколько ключей удаляет один DELETE.
	BatchSize int
	// MaxBatches ограничивает число DELETE за один проход; 0 — без ограничения.
	MaxBatches int
	// BatchesPerSecond сдерживает нагрузку на БД при большом хвосте; 0 — без паузы.
	BatchesPerSecond float64
}

func (c CleanupConfig) withDefaults() CleanupConfig {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	return c
}

// Sweep — итог одного прохода очистки.
type Sweep struct {
	Deleted   int
	Batches   int
	Truncated bool
}

// CleanupWorker периодически удаляет ключи с истёкшим TTL.
type CleanupWorker struct {
	repo    domain.IdempotencyRepository
	cfg     CleanupConfig
	metrics *metrics.ShopMetrics
	logger  *log.Entry
	now     func() time.Time
	pace    *rate.Limiter
}

func NewCleanupWorker(repo domain.IdempotencyRepository, cfg CleanupConfig, m *metrics.ShopMetrics, logger *log.Entry) *CleanupWorker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.WithField("component", "idempotency-cleanup")
	}
	pace := rate.NewLimiter(rate.Inf, 1)
	if cfg.BatchesPerSecond > 0 {
		pace = rate.NewLimiter(rate.Limit(cfg.BatchesPerSecond), 1)
	}
	return &CleanupWorker{repo: repo, cfg: cfg, metrics: m, logger: logger, now: time.Now, pace: pace}
}

// Run делает проход сразу и затем раз в Interval, пока жив ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup disabled: no repository")
		return
	}

	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.Interval):
		}
	}
}

func (w *CleanupWorker) tick(ctx context.Context) {
	sweep, err := w.Sweep(ctx, w.now())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		w.metrics.RecordIdempotencyCleanup(metrics.ResultError, sweep.Deleted)
		w.logger.WithError(err).WithField("deleted", sweep.Deleted).Warn("idempotency cleanup failed")
		return
	}

	w.metrics.RecordIdempotencyCleanup(metrics.ResultSuccess, sweep.Deleted)
	if sweep.Deleted == 0 {
		return
	}
	entry := w.logger.WithFields(log.Fields{"deleted": sweep.Deleted, "batches": sweep.Batches})
	if sweep.Truncated {
		entry.Warn("idempotency cleanup hit batch limit, rest is left for the next run")
		return
	}
	entry.Info("idempotency cleanup finished")
}

// Sweep удаляет ключи с TTL <= before порциями по BatchSize. Неполная порция
// означает, что хвост исчерпан.
func (w *CleanupWorker) Sweep(ctx context.Context, before time.Time) (Sweep, error) {
	var sweep Sweep
	before = before.UTC()

	for w.cfg.MaxBatches <= 0 || sweep.Batches < w.cfg.MaxBatches {
		if err := w.pace.Wait(ctx); err != nil {
			return sweep, err
		}
		n, err := w.repo.DeleteExpired(ctx, before, w.cfg.BatchSize)
		if err != nil {
			return sweep, err
		}
		sweep.Batches++
		sweep.Deleted += n
		if n < w.cfg.BatchSize {
			return sweep, nil
		}
	}
	sweep.Truncated = true
	return sweep, nil
}
