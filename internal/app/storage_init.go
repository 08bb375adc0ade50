package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shopcore/internal/health"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/memory"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/postgres"
)

// directory — справочник и каталог, который умеет наполняться демо-данными.
type directory interface {
	domain.Directory
	domain.Catalog
	seeder
}

// runtimeDependencies — репозитории выбранного хранилища.
type runtimeDependencies struct {
	stockRepo       domain.StockRepository
	couponRepo      domain.CouponRepository
	repo            domain.OrderRepository
	directory       directory
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	storageChecker healthcheck.Checker
	closeFn        func() error
}

// storageOpeners — поддерживаемые значения SHOP_STORAGE_DRIVER.
var storageOpeners = map[string]func(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error){
	StorageDriverMemory:   openMemory,
	StorageDriverPostgres: openPostgres,
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}
	open, ok := storageOpeners[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
	rt, err := open(ctx, cfg, logger.WithField("storage", driver))
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", driver, err)
	}
	return rt, nil
}

func openMemory(_ context.Context, _ Config, logger *log.Entry) (*runtimeDependencies, error) {
	logger.Info("storage ready, data lives until restart")
	return &runtimeDependencies{
		stockRepo:       memory.NewStockRepository(),
		couponRepo:      memory.NewCouponRepository(),
		repo:            memory.NewOrderRepository(),
		directory:       memoryDirectory{Directory: memory.NewDirectory()},
		outboxRepo:      memory.NewOutboxRepository(),
		timelineRepo:    memory.NewTimelineRepository(),
		idempotencyRepo: memory.NewIdempotencyRepository(),
	}, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return nil, errors.New("SHOP_POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, err := postgres.Open(ctx, dsn, postgres.WithApplicationName("shop-service"))
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}
	logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("storage ready")

	return &runtimeDependencies{
		stockRepo:       postgres.NewStockRepository(store),
		couponRepo:      postgres.NewCouponRepository(store),
		repo:            postgres.NewOrderRepository(store),
		directory:       postgres.NewDirectory(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		timelineRepo:    postgres.NewTimelineRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewPingChecker("postgres", store.Ping),
		closeFn:         store.Close,
	}, nil
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("storage close failed")
	}
}
