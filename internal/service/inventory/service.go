package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/service/retry"
)

// Service — движок резервирования остатков. Каждая мутация: чтение записи,
// чистое изменение копии и запись с проверкой версии; при конфликте повтор
// по retry.Policy. Между попытками блокировки не удерживаются.
type Service struct {
	repo    domain.StockRepository
	cache   domain.AvailabilityCache
	policy  retry.Policy
	metrics *metrics.ShopMetrics
	logger  *log.Entry

	fill singleflight.Group
	// generations: productID -> *atomic.Uint64, растёт при каждой инвалидации.
	generations sync.Map
}

// Option настраивает Service.
type Option func(*Service)

// WithCache подключает кеш доступного остатка.
func WithCache(cache domain.AvailabilityCache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithPolicy задаёт параметры optimistic retry.
func WithPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService создаёт сервис резервирования поверх репозитория остатков.
func NewService(repo domain.StockRepository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		policy: retry.DefaultPolicy(),
		logger: log.New().WithField("component", "inventory"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve резервирует qty единиц товара.
func (s *Service) Reserve(ctx context.Context, productID string, qty int64) error {
	_, err := s.mutate(ctx, domain.StockOpReserve, productID, qty)
	return err
}

// ConfirmReservation списывает ранее зарезервированные единицы.
func (s *Service) ConfirmReservation(ctx context.Context, productID string, qty int64) error {
	_, err := s.mutate(ctx, domain.StockOpConfirm, productID, qty)
	return err
}

// ReleaseReservation снимает резерв без списания.
func (s *Service) ReleaseReservation(ctx context.Context, productID string, qty int64) error {
	_, err := s.mutate(ctx, domain.StockOpRelease, productID, qty)
	return err
}

// Restock возвращает товар на склад.
func (s *Service) Restock(ctx context.Context, productID string, qty int64) (domain.StockRecord, error) {
	return s.mutate(ctx, domain.StockOpRestock, productID, qty)
}

// RevertConfirmation откатывает ConfirmReservation: товар снова на складе и в резерве.
func (s *Service) RevertConfirmation(ctx context.Context, productID string, qty int64) error {
	_, err := s.mutate(ctx, domain.StockOpUnconfirm, productID, qty)
	return err
}

// RevertRestock откатывает Restock (компенсация неудачной отмены или возврата).
func (s *Service) RevertRestock(ctx context.Context, productID string, qty int64) error {
	_, err := s.mutate(ctx, domain.StockOpUnrestock, productID, qty)
	return err
}

// Provision заводит складскую запись с начальным остатком.
func (s *Service) Provision(ctx context.Context, productID string, qty int64) (domain.StockRecord, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.StockRecord{}, domain.ErrProductRequired
	}
	if qty < 0 {
		return domain.StockRecord{}, domain.ErrQuantityInvalid
	}

	rec := domain.StockRecord{ProductID: productID, Quantity: qty}
	if err := s.repo.Create(ctx, rec); err != nil {
		return domain.StockRecord{}, fmt.Errorf("provision %s: %w", productID, err)
	}
	s.invalidate(ctx, productID)
	return s.repo.Get(ctx, productID)
}

// GetStock возвращает полную складскую запись.
func (s *Service) GetStock(ctx context.Context, productID string) (domain.StockRecord, error) {
	return s.repo.Get(ctx, productID)
}

// ListLowStock возвращает товары с доступным остатком ниже threshold.
func (s *Service) ListLowStock(ctx context.Context, threshold int64) ([]domain.StockRecord, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("%w: threshold must be greater than zero", domain.ErrValidation)
	}
	return s.repo.ListLowStock(ctx, threshold)
}

// GetAvailable возвращает quantity - reserved. Промахи кеша для одного товара
// объединяются: в хранилище уходит один запрос.
func (s *Service) GetAvailable(ctx context.Context, productID string) (int64, error) {
	if s.cache != nil {
		v, hit, err := s.cache.Get(ctx, productID)
		switch {
		case err != nil:
			s.metrics.RecordCacheLookup("error")
			s.logger.WithError(err).WithField("product_id", productID).Warn("availability cache read failed")
		case hit:
			s.metrics.RecordCacheLookup("hit")
			return v, nil
		default:
			s.metrics.RecordCacheLookup("miss")
		}
	}

	v, err, _ := s.fill.Do(productID, func() (interface{}, error) {
		gen := s.generation(productID)
		seen := gen.Load()
		rec, err := s.repo.Get(ctx, productID)
		if err != nil {
			return int64(0), err
		}
		available := rec.Available()
		if s.cache != nil {
			s.fillCache(ctx, productID, available, gen, seen)
		}
		return available, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (s *Service) mutate(ctx context.Context, op domain.StockOp, productID string, qty int64) (domain.StockRecord, error) {
	if qty <= 0 {
		s.metrics.RecordStockOperation(string(op), metrics.ResultRejected)
		return domain.StockRecord{}, domain.ErrQuantityInvalid
	}

	var saved domain.StockRecord
	err := retry.Do(ctx, s.policy, s.logger.WithFields(log.Fields{"op": op, "product_id": productID}),
		func(int, error) { s.metrics.RecordStockRetry(string(op)) },
		func(ctx context.Context) error {
			current, err := s.repo.Get(ctx, productID)
			if err != nil {
				return err
			}
			next, err := current.Apply(op, qty)
			if err != nil {
				return err
			}
			saved, err = s.repo.Update(ctx, next)
			return err
		})

	s.metrics.RecordStockOperation(string(op), metrics.ResultOf(err, domain.IsBusinessError, isConflict))
	if err != nil {
		return domain.StockRecord{}, fmt.Errorf("%s %s: %w", op, productID, err)
	}

	s.invalidate(ctx, productID)
	s.logger.WithFields(log.Fields{
		"op":         op,
		"product_id": productID,
		"qty":        qty,
		"quantity":   saved.Quantity,
		"reserved":   saved.Reserved,
	}).Debug("stock updated")
	return saved, nil
}

// fillCache кладёт прочитанное значение в кеш. Если за время чтения прошла
// инвалидация, значение могло устареть: запись снимается повторно.
func (s *Service) fillCache(ctx context.Context, productID string, available int64, gen *atomic.Uint64, seen uint64) {
	if gen.Load() != seen {
		return
	}
	if err := s.cache.Set(ctx, productID, available); err != nil {
		s.logger.WithError(err).WithField("product_id", productID).Warn("availability cache write failed")
		return
	}
	if gen.Load() != seen {
		s.dropCached(ctx, productID)
	}
}

func (s *Service) generation(productID string) *atomic.Uint64 {
	if g, ok := s.generations.Load(productID); ok {
		return g.(*atomic.Uint64)
	}
	g, _ := s.generations.LoadOrStore(productID, new(atomic.Uint64))
	return g.(*atomic.Uint64)
}

// invalidate сдвигает поколение до удаления из кеша: заполнение,
// начатое раньше, увидит сдвиг и не оставит старое значение.
func (s *Service) invalidate(ctx context.Context, productID string) {
	if s.cache == nil {
		return
	}
	s.generation(productID).Add(1)
	s.dropCached(ctx, productID)
}

func (s *Service) dropCached(ctx context.Context, productID string) {
	if err := s.cache.Invalidate(ctx, productID); err != nil {
		s.logger.WithError(err).WithField("product_id", productID).Warn("availability cache invalidation failed")
	}
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrConcurrentUpdateConflict)
}
