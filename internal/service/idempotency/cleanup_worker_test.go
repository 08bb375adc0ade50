package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/memory"
)

var sweepAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seedKeys(t *testing.T, repo domain.IdempotencyRepository, expired int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < expired; i++ {
		_, err := repo.CreateProcessing(ctx, fmt.Sprintf("checkout-%d", i), "hash", sweepAt.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "live", "hash", sweepAt.Add(time.Hour))
	require.NoError(t, err)
}

func TestSweepDeletesExpiredInBatches(t *testing.T) {
	t.Parallel()
	repo := memory.NewIdempotencyRepositoryWithClock(func() time.Time { return sweepAt.Add(-2 * time.Minute) })
	seedKeys(t, repo, 5)

	w := NewCleanupWorker(repo, CleanupConfig{BatchSize: 2}, nil, nil)
	sweep, err := w.Sweep(context.Background(), sweepAt)
	require.NoError(t, err)
	assert.Equal(t, Sweep{Deleted: 5, Batches: 3}, sweep)

	_, err = repo.Get(context.Background(), "live")
	require.NoError(t, err)
	_, err = repo.Get(context.Background(), "checkout-0")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestSweepStopsAtBatchLimit(t *testing.T) {
	t.Parallel()
	repo := memory.NewIdempotencyRepositoryWithClock(func() time.Time { return sweepAt.Add(-2 * time.Minute) })
	seedKeys(t, repo, 5)

	w := NewCleanupWorker(repo, CleanupConfig{BatchSize: 2, MaxBatches: 1}, nil, nil)
	sweep, err := w.Sweep(context.Background(), sweepAt)
	require.NoError(t, err)
	assert.Equal(t, Sweep{Deleted: 2, Batches: 1, Truncated: true}, sweep)

	sweep, err = w.Sweep(context.Background(), sweepAt)
	require.NoError(t, err)
	assert.Equal(t, 2, sweep.Deleted, "next run continues the tail")
}

func TestSweepPropagatesError(t *testing.T) {
	t.Parallel()
	repo := &countingRepo{err: errors.New("connection reset")}

	sweep, err := NewCleanupWorker(repo, CleanupConfig{BatchSize: 10}, nil, nil).Sweep(context.Background(), sweepAt)
	require.ErrorContains(t, err, "connection reset")
	assert.Zero(t, sweep.Deleted)
}

func TestSweepHonoursCancelledContext(t *testing.T) {
	t.Parallel()
	repo := &countingRepo{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCleanupWorker(repo, CleanupConfig{}, nil, nil).Sweep(ctx, sweepAt)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, repo.calls())
}

func TestTickRecordsMetrics(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	m := metrics.NewShopMetricsWithRegisterer(registry)

	NewCleanupWorker(&countingRepo{deleted: 3}, CleanupConfig{BatchSize: 10}, m, nil).tick(context.Background())
	NewCleanupWorker(&countingRepo{err: errors.New("boom")}, CleanupConfig{}, m, nil).tick(context.Background())

	families, err := registry.Gather()
	require.NoError(t, err)
	results := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "shop_idempotency_cleanup_runs_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			results[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{metrics.ResultSuccess: 1, metrics.ResultError: 1}, results)
}

func TestRunRepeatsUntilCancelled(t *testing.T) {
	t.Parallel()
	repo := &countingRepo{}
	w := NewCleanupWorker(repo, CleanupConfig{Interval: 5 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	require.Eventually(t, func() bool { return repo.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

// countingRepo отвечает только на DeleteExpired.
type countingRepo struct {
	domain.IdempotencyRepository

	mu      sync.Mutex
	n       int
	deleted int
	err     error
}

func (r *countingRepo) DeleteExpired(context.Context, time.Time, int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return r.deleted, r.err
}

func (r *countingRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
