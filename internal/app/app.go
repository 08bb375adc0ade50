package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/shopcore/internal/health"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/shopcore/internal/version"
)

// Run собирает сервис и обслуживает HTTP API до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	rt, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close(logger)

	m := metrics.NewShopMetrics()
	deps := NewDependencies(ctx, cfg, rt, m, logger)
	defer deps.close(logger)

	if cfg.SeedDemo {
		if err := seedDemo(ctx, rt.directory, deps.Inventory, deps.Coupons, logger); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	// Ошибка подключения уже залогирована: без Kafka outbox пишет события в лог.
	kafkaProducer, releaseKafka, _ := dialKafka(cfg, logger)
	defer releaseKafka()

	outboxWorker := createOutboxWorker(cfg, rt.outboxRepo, kafkaProducer, m, logger)
	outboxCancel, outboxDone := startBackground(ctx, outboxWorker.Run)
	defer shutdownWorker("outbox", outboxCancel, outboxDone, logger)

	cleanupWorker := createCleanupWorker(cfg, rt.idempotencyRepo, m, logger)
	cleanupCancel, cleanupDone := startBackground(ctx, cleanupWorker.Run)
	defer shutdownWorker("idempotency-cleanup", cleanupCancel, cleanupDone, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if rt.storageChecker != nil {
		healthHandler.RegisterChecker("storage", rt.storageChecker)
	}
	if deps.cacheChecker != nil {
		healthHandler.RegisterChecker("cache", deps.cacheChecker)
	}
	healthHandler.RegisterChecker("outbox", healthcheck.NewBacklogChecker("outbox", outboxOldest(rt.outboxRepo), cfg.OutboxMaxAge))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	router := httpapi.NewRouter(httpapi.Config{
		Orders:         deps.Orders,
		Inventory:      deps.Inventory,
		Idempotency:    rt.idempotencyRepo,
		Metrics:        m,
		Logger:         logger.WithField("layer", "http"),
		RequestTimeout: cfg.RequestTimeout,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}

	apiSrv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", lis.Addr())
		errCh <- apiSrv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownHTTP(apiSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// opsRouter обслуживает служебный порт: метрики Prometheus и пробы Kubernetes.
func opsRouter(health *healthcheck.Handler) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Method(http.MethodGet, "/healthz", health)
	r.Get("/livez", healthcheck.LivenessHandler)
	r.Get("/readyz", health.ReadinessHandler)
	return r
}

// startMetricsServer поднимает служебный порт и гасит его при отмене ctx.
// Ошибка bind только логируется: API продолжает работать без метрик.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, health *healthcheck.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: opsRouter(health), ReadHeaderTimeout: 5 * time.Second}
	logger = logger.WithField("ops_addr", addr)

	go func() {
		logger.Info("ops server listening: /metrics /healthz /livez /readyz")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("ops server stopped")
		}
	}()
	context.AfterFunc(ctx, func() { shutdownHTTP(srv, logger) })
	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
