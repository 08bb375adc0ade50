package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/memory"
)

func fillOutbox(t *testing.T, repo domain.OutboxRepository, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   fmt.Sprintf("order-%d", i),
			EventType:     "order.created",
			Payload:       []byte(`{"status":"PENDING"}`),
		})
		require.NoError(t, err)
	}
}

func TestOutboxWorkerWithoutKafkaDrainsToLog(t *testing.T) {
	repo := memory.NewOutboxRepository()
	fillOutbox(t, repo, 4)

	cfg := testConfig()
	cfg.OutboxBatchSize = 3
	m := metrics.NewShopMetricsWithRegisterer(prometheus.NewRegistry())
	worker := createOutboxWorker(cfg, repo, nil, m, log.WithField("test", "outbox"))

	assert.Equal(t, 3, worker.ProcessOnce(context.Background()), "one batch per pass")
	assert.Equal(t, 1, worker.ProcessOnce(context.Background()))

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
}

func TestLogPublisherStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := logPublisher{logger: log.WithField("test", "outbox")}.Publish(ctx, domain.OutboxMessage{ID: "outbox-1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutboxOldestFollowsBacklog(t *testing.T) {
	repo := memory.NewOutboxRepository()
	oldest := outboxOldest(repo)

	at, err := oldest(context.Background())
	require.NoError(t, err)
	assert.True(t, at.IsZero(), "empty outbox has no oldest event")

	fillOutbox(t, repo, 2)
	pending := repo.AllPending()
	require.Len(t, pending, 2)

	at, err = oldest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pending[0].CreatedAt, at)
}

func TestShutdownWorkerCancelsAndWaits(t *testing.T) {
	var stopped atomic.Bool
	cancel, done := startBackground(context.Background(), func(ctx context.Context) {
		<-ctx.Done()
		stopped.Store(true)
	})

	shutdownWorker("outbox", cancel, done, log.WithField("test", "shutdown"))
	assert.True(t, stopped.Load(), "shutdownWorker returns after the worker exits")

	assert.NotPanics(t, func() { shutdownWorker("idempotency-cleanup", nil, nil, log.WithField("test", "shutdown")) })
}

func TestShutdownWorkerGivesUpOnStuckWorker(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the shutdown deadline")
	}
	never := make(chan struct{})
	start := time.Now()
	shutdownWorker("stuck", func() {}, never, log.WithField("test", "shutdown"))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Second)
}
