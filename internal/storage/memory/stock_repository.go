package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// stockRepositoryInMemory хранит складские счётчики. Compare-and-set по версии
// выполняется внутри одной короткой критической секции.
type stockRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.StockRecord
}

// NewStockRepository возвращает in-memory реализацию StockRepository.
func NewStockRepository() domain.StockRepository {
	return &stockRepositoryInMemory{items: make(map[string]domain.StockRecord)}
}

func (r *stockRepositoryInMemory) Create(_ context.Context, rec domain.StockRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[rec.ProductID]; exists {
		return domain.ErrStockAlreadyExists
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	r.items[rec.ProductID] = rec
	return nil
}

func (r *stockRepositoryInMemory) Get(_ context.Context, productID string) (domain.StockRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.items[productID]
	if !ok {
		return domain.StockRecord{}, domain.ErrStockNotFound
	}
	return rec, nil
}

// Update сохраняет запись, если версия не изменилась с момента чтения.
func (r *stockRepositoryInMemory) Update(_ context.Context, rec domain.StockRecord) (domain.StockRecord, error) {
	if err := rec.Validate(); err != nil {
		return domain.StockRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[rec.ProductID]
	if !ok {
		return domain.StockRecord{}, domain.ErrStockNotFound
	}
	if current.Version != rec.Version {
		return domain.StockRecord{}, domain.ErrVersionConflict
	}

	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	r.items[rec.ProductID] = rec
	return rec, nil
}

func (r *stockRepositoryInMemory) ListLowStock(_ context.Context, threshold int64) ([]domain.StockRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.StockRecord, 0)
	for _, rec := range r.items {
		if rec.Available() < threshold {
			result = append(result, rec)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Available() != result[j].Available() {
			return result[i].Available() < result[j].Available()
		}
		return result[i].ProductID < result[j].ProductID
	})
	return result, nil
}

var _ domain.StockRepository = (*stockRepositoryInMemory)(nil)
