package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shopcore/internal/health"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/service/order"
)

// testConfig — конфигурация без задержек и случайных отказов платежей.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PaymentLatency = 0
	cfg.PaymentFailureRate = 0
	return cfg
}

func newTestDependencies(t *testing.T, cfg Config) (*runtimeDependencies, *Dependencies) {
	t.Helper()

	logger := log.WithField("test", t.Name())
	rt, err := initRuntimeDependencies(context.Background(), cfg, logger)
	require.NoError(t, err)

	m := metrics.NewShopMetricsWithRegisterer(prometheus.NewRegistry())
	deps := NewDependencies(context.Background(), cfg, rt, m, logger)
	t.Cleanup(func() { deps.close(logger) })
	return rt, deps
}

func TestNewDependencies_AllFieldsInitialized(t *testing.T) {
	_, deps := newTestDependencies(t, testConfig())

	assert.NotNil(t, deps.Inventory)
	assert.NotNil(t, deps.Coupons)
	assert.NotNil(t, deps.Orders)
	assert.NotNil(t, deps.Payments)
	assert.Nil(t, deps.cacheChecker, "in-memory cache has no health checker")
}

func TestNewDependencies_WithNilLogger(t *testing.T) {
	cfg := testConfig()
	rt, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "nil-logger"))
	require.NoError(t, err)

	deps := NewDependencies(context.Background(), cfg, rt, nil, nil)
	require.NotNil(t, deps)
	assert.NotNil(t, deps.Orders)
}

func TestNewDependencies_CheckoutFlow(t *testing.T) {
	ctx := context.Background()
	rt, deps := newTestDependencies(t, testConfig())
	require.NoError(t, seedDemo(ctx, rt.directory, deps.Inventory, deps.Coupons, log.WithField("test", "seed")))

	created, err := deps.Orders.Create(ctx, order.CreateRequest{
		UserID:            "user-1",
		CartID:            "cart-1",
		ShippingAddressID: "addr-1",
		CouponCode:        "save10",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, created.Status)
	assert.True(t, created.Total.Equal(decimal.RequireFromString("100.00")), created.Total.String())
	assert.True(t, created.FinalTotal.Equal(decimal.RequireFromString("90.00")), created.FinalTotal.String())

	available, err := deps.Inventory.GetAvailable(ctx, "prod-keyboard")
	require.NoError(t, err)
	assert.Equal(t, int64(3), available)

	paid, err := deps.Orders.Pay(ctx, created.ID, "card")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, paid.Status)

	stock, err := deps.Inventory.GetStock(ctx, "prod-keyboard")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stock.Quantity)
	assert.Equal(t, int64(0), stock.Reserved)

	stats, err := rt.outboxRepo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PendingCount, "created and paid events are queued")
}

func TestNewDependencies_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()
	_, deps := newTestDependencies(t, cfg)

	require.NotNil(t, deps.cacheChecker)
	assert.Equal(t, healthcheck.StatusHealthy, deps.cacheChecker.Check(context.Background()).Status)

	ctx := context.Background()
	_, err := deps.Inventory.Provision(ctx, "p-1", 7)
	require.NoError(t, err)
	available, err := deps.Inventory.GetAvailable(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), available)

	keys := mr.Keys()
	assert.Contains(t, keys, "shop:available:p-1")

	mr.Close()
	assert.Equal(t, healthcheck.StatusDegraded, deps.cacheChecker.Check(ctx).Status)
}

func TestNewDependencies_RedisUnavailableFallsBackToMemory(t *testing.T) {
	cfg := testConfig()
	cfg.RedisAddr = "127.0.0.1:1"
	_, deps := newTestDependencies(t, cfg)

	assert.Nil(t, deps.cacheChecker)
	_, err := deps.Inventory.Provision(context.Background(), "p-1", 2)
	require.NoError(t, err)
	available, err := deps.Inventory.GetAvailable(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), available)
}

func TestDependencies_CloseNilSafe(_ *testing.T) {
	var deps *Dependencies
	deps.close(log.WithField("test", "close-nil"))
}
