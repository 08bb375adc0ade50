package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/service/retry"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/memory"
)

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 50, InitialDelay: 100 * time.Microsecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
}

func newTestService(t *testing.T, qty int64, opts ...Option) (*Service, domain.StockRepository) {
	t.Helper()
	repo := memory.NewStockRepository()
	opts = append([]Option{WithPolicy(testPolicy()), WithMetrics(metrics.NewShopMetricsWithRegisterer(prometheus.NewRegistry()))}, opts...)
	svc := NewService(repo, opts...)
	_, err := svc.Provision(context.Background(), "p-1", qty)
	require.NoError(t, err)
	return svc, repo
}

func TestReserveConfirmRelease(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 5)

	require.NoError(t, svc.Reserve(ctx, "p-1", 2))
	available, err := svc.GetAvailable(ctx, "p-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, available)

	require.NoError(t, svc.ConfirmReservation(ctx, "p-1", 2))
	rec, err := svc.GetStock(ctx, "p-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, rec.Quantity)
	require.EqualValues(t, 0, rec.Reserved)

	// Release после Confirm того же количества отклоняется, счётчики не меняются.
	err = svc.ReleaseReservation(ctx, "p-1", 2)
	require.ErrorIs(t, err, domain.ErrReservationNotFound)
	rec, _ = svc.GetStock(ctx, "p-1")
	require.EqualValues(t, 0, rec.Reserved)
	require.EqualValues(t, 3, rec.Quantity)

	restocked, err := svc.Restock(ctx, "p-1", 2)
	require.NoError(t, err)
	require.EqualValues(t, 5, restocked.Quantity)
}

func TestReserveInsufficientStock(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 5)

	err := svc.Reserve(ctx, "p-1", 6)
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.EqualValues(t, 5, insufficient.Available)
	require.EqualValues(t, 6, insufficient.Requested)
}

func TestValidationAndNotFound(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 5)

	require.ErrorIs(t, svc.Reserve(ctx, "p-1", 0), domain.ErrValidation)
	require.ErrorIs(t, svc.Reserve(ctx, "p-1", -3), domain.ErrValidation)
	require.ErrorIs(t, svc.Reserve(ctx, "missing", 1), domain.ErrNotFound)
	_, err := svc.GetAvailable(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrStockNotFound)
	_, err = svc.Provision(ctx, "p-1", 1)
	require.ErrorIs(t, err, domain.ErrStockAlreadyExists)
	_, err = svc.ListLowStock(ctx, 0)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	ctx := context.Background()
	const stock = 20
	const workers = 100
	svc, _ := newTestService(t, stock)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		rejected  atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.Reserve(ctx, "p-1", 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, stock, succeeded.Load())
	require.EqualValues(t, workers-stock, rejected.Load())

	rec, err := svc.GetStock(ctx, "p-1")
	require.NoError(t, err)
	require.EqualValues(t, stock, rec.Reserved)
	require.LessOrEqual(t, rec.Reserved, rec.Quantity)
}

func TestReserveAllThenConcurrentReserveFails(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 5)
	require.NoError(t, svc.Reserve(ctx, "p-1", 5))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.Reserve(ctx, "p-1", 1)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.ErrorIs(t, err, domain.ErrInsufficientStock)
	}
}

func TestRevertConfirmation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 5)

	require.NoError(t, svc.Reserve(ctx, "p-1", 2))
	require.NoError(t, svc.ConfirmReservation(ctx, "p-1", 2))
	require.NoError(t, svc.RevertConfirmation(ctx, "p-1", 2))

	rec, err := svc.GetStock(ctx, "p-1")
	require.NoError(t, err)
	require.EqualValues(t, 5, rec.Quantity)
	require.EqualValues(t, 2, rec.Reserved)
}

func TestGetAvailableCacheInvalidatedOnMutation(t *testing.T) {
	ctx := context.Background()
	cache := memory.NewAvailabilityCache(time.Minute)
	svc, _ := newTestService(t, 5, WithCache(cache))

	available, err := svc.GetAvailable(ctx, "p-1")
	require.NoError(t, err)
	require.EqualValues(t, 5, available)

	cached, hit, err := cache.Get(ctx, "p-1")
	require.NoError(t, err)
	require.True(t, hit)
	require.EqualValues(t, 5, cached)

	require.NoError(t, svc.Reserve(ctx, "p-1", 3))
	_, hit, _ = cache.Get(ctx, "p-1")
	require.False(t, hit, "mutation must invalidate cache entry")

	available, err = svc.GetAvailable(ctx, "p-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, available)
}

func TestListLowStock(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 3)
	_, err := svc.Provision(ctx, "p-2", 50)
	require.NoError(t, err)

	low, err := svc.ListLowStock(ctx, 10)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, "p-1", low[0].ProductID)
}

// conflictingRepo всегда проигрывает compare-and-set.
type conflictingRepo struct {
	domain.StockRepository
	mu      sync.Mutex
	updates int
}

func (r *conflictingRepo) Update(context.Context, domain.StockRecord) (domain.StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	return domain.StockRecord{}, domain.ErrVersionConflict
}

func TestMutationRetryExhausted(t *testing.T) {
	ctx := context.Background()
	base := memory.NewStockRepository()
	require.NoError(t, base.Create(ctx, domain.StockRecord{ProductID: "p-1", Quantity: 5}))

	repo := &conflictingRepo{StockRepository: base}
	svc := NewService(repo, WithPolicy(retry.Policy{MaxAttempts: 5, MaxDelay: time.Millisecond, BackoffFactor: 2}))

	err := svc.Reserve(ctx, "p-1", 1)
	require.ErrorIs(t, err, domain.ErrConcurrentUpdateConflict)
	require.Equal(t, 5, repo.updates)
}

// slowRepo считает чтения и задерживает их, чтобы промахи кеша пересеклись.
type slowRepo struct {
	domain.StockRepository
	gets atomic.Int64
}

func (r *slowRepo) Get(ctx context.Context, productID string) (domain.StockRecord, error) {
	r.gets.Add(1)
	time.Sleep(20 * time.Millisecond)
	return r.StockRepository.Get(ctx, productID)
}

func TestGetAvailableCoalescesMisses(t *testing.T) {
	ctx := context.Background()
	base := memory.NewStockRepository()
	require.NoError(t, base.Create(ctx, domain.StockRecord{ProductID: "p-1", Quantity: 9}))
	repo := &slowRepo{StockRepository: base}
	svc := NewService(repo, WithCache(memory.NewAvailabilityCache(time.Minute)))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := svc.GetAvailable(ctx, "p-1")
			if err != nil || v != 9 {
				t.Errorf("unexpected result %d, %v", v, err)
			}
		}()
	}
	wg.Wait()

	require.Less(t, repo.gets.Load(), int64(20))
}

// pausingRepo задерживает одно чтение после похода в хранилище,
// пока тест не отпустит release.
type pausingRepo struct {
	domain.StockRepository
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (r *pausingRepo) Get(ctx context.Context, productID string) (domain.StockRecord, error) {
	rec, err := r.StockRepository.Get(ctx, productID)
	if r.armed.CompareAndSwap(true, false) {
		close(r.read)
		<-r.release
	}
	return rec, err
}

func TestGetAvailableDoesNotCacheValueReadBeforeMutation(t *testing.T) {
	ctx := context.Background()
	base := memory.NewStockRepository()
	require.NoError(t, base.Create(ctx, domain.StockRecord{ProductID: "p-1", Quantity: 5}))
	repo := &pausingRepo{StockRepository: base, read: make(chan struct{}), release: make(chan struct{})}
	cache := memory.NewAvailabilityCache(time.Minute)
	svc := NewService(repo, WithCache(cache), WithPolicy(testPolicy()))

	repo.armed.Store(true)
	inflight := make(chan int64, 1)
	go func() {
		v, err := svc.GetAvailable(ctx, "p-1")
		if err != nil {
			t.Errorf("in-flight read: %v", err)
		}
		inflight <- v
	}()

	<-repo.read
	require.NoError(t, svc.Reserve(ctx, "p-1", 2))
	close(repo.release)
	require.EqualValues(t, 5, <-inflight, "read started before the reservation")

	_, hit, err := cache.Get(ctx, "p-1")
	require.NoError(t, err)
	require.False(t, hit, "value read before the reservation must not stay cached")

	available, err := svc.GetAvailable(ctx, "p-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, available)
}
