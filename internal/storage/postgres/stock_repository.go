package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

type stockRepository struct {
	db *sql.DB
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
// Update — условный UPDATE по версии, без блокировок строк между чтением и записью.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{db: store.DB()}
}

func (r *stockRepository) Create(ctx context.Context, rec domain.StockRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stock (product_id, quantity, reserved, version, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ProductID, rec.Quantity, rec.Reserved, rec.Version, rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrStockAlreadyExists
		}
		return fmt.Errorf("insert stock: %w", err)
	}
	return nil
}

func (r *stockRepository) Get(ctx context.Context, productID string) (domain.StockRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var rec domain.StockRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT product_id, quantity, reserved, version, updated_at
		FROM stock
		WHERE product_id = $1
	`, productID).Scan(&rec.ProductID, &rec.Quantity, &rec.Reserved, &rec.Version, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockRecord{}, domain.ErrStockNotFound
		}
		return domain.StockRecord{}, fmt.Errorf("select stock: %w", err)
	}
	return rec, nil
}

func (r *stockRepository) Update(ctx context.Context, rec domain.StockRecord) (domain.StockRecord, error) {
	if err := rec.Validate(); err != nil {
		return domain.StockRecord{}, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err := r.db.QueryRowContext(ctx, `
		UPDATE stock
		SET quantity = $1,
		    reserved = $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE product_id = $3
		  AND version = $4
		RETURNING version, updated_at
	`, rec.Quantity, rec.Reserved, rec.ProductID, rec.Version).Scan(&rec.Version, &rec.UpdatedAt)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, sql.ErrNoRows):
		if _, getErr := r.Get(ctx, rec.ProductID); getErr != nil {
			return domain.StockRecord{}, getErr
		}
		return domain.StockRecord{}, domain.ErrVersionConflict
	case isCheckViolation(err):
		return domain.StockRecord{}, fmt.Errorf("%w: %w", domain.ErrStockInvariant, err)
	default:
		return domain.StockRecord{}, fmt.Errorf("update stock: %w", err)
	}
}

func (r *stockRepository) ListLowStock(ctx context.Context, threshold int64) ([]domain.StockRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity, reserved, version, updated_at
		FROM stock
		WHERE quantity - reserved < $1
		ORDER BY quantity - reserved ASC, product_id ASC
	`, threshold)
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	result := make([]domain.StockRecord, 0)
	for rows.Next() {
		var rec domain.StockRecord
		if err := rows.Scan(&rec.ProductID, &rec.Quantity, &rec.Reserved, &rec.Version, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stock row: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock rows: %w", err)
	}
	return result, nil
}

var _ domain.StockRepository = (*stockRepository)(nil)
