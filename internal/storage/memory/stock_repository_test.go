package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/memory"
)

func TestStockRepository_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStockRepository()

	require.NoError(t, repo.Create(ctx, domain.StockRecord{ProductID: "p-1", Quantity: 5}))
	require.ErrorIs(t, repo.Create(ctx, domain.StockRecord{ProductID: "p-1", Quantity: 1}), domain.ErrStockAlreadyExists)

	rec, err := repo.Get(ctx, "p-1")
	require.NoError(t, err)
	require.EqualValues(t, 5, rec.Available())

	next, err := rec.Apply(domain.StockOpReserve, 2)
	require.NoError(t, err)
	saved, err := repo.Update(ctx, next)
	require.NoError(t, err)
	require.EqualValues(t, 1, saved.Version)
	require.EqualValues(t, 2, saved.Reserved)

	// Запись с устаревшей версией отклоняется.
	_, err = repo.Update(ctx, next)
	require.True(t, errors.Is(err, domain.ErrVersionConflict), "got %v", err)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStockRepository_UpdateRejectsBrokenInvariant(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStockRepository()
	require.NoError(t, repo.Create(ctx, domain.StockRecord{ProductID: "p-1", Quantity: 1}))

	_, err := repo.Update(ctx, domain.StockRecord{ProductID: "p-1", Quantity: 1, Reserved: 2})
	require.ErrorIs(t, err, domain.ErrStockInvariant)
}

func TestStockRepository_ListLowStock(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStockRepository()
	require.NoError(t, repo.Create(ctx, domain.StockRecord{ProductID: "a", Quantity: 100}))
	require.NoError(t, repo.Create(ctx, domain.StockRecord{ProductID: "b", Quantity: 3}))
	require.NoError(t, repo.Create(ctx, domain.StockRecord{ProductID: "c", Quantity: 10, Reserved: 9}))

	low, err := repo.ListLowStock(ctx, 5)
	require.NoError(t, err)
	require.Len(t, low, 2)
	require.Equal(t, "c", low[0].ProductID)
	require.Equal(t, "b", low[1].ProductID)
}
