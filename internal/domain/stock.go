package domain

import (
	"fmt"
	"time"
)

// StockRecord — складской счётчик товара: физический остаток и резерв.
type StockRecord struct {
	ProductID string
	Quantity  int64
	Reserved  int64
	Version   int64
	UpdatedAt time.Time
}

// StockOp задаёт названия операций склада для логов и метрик.
type StockOp string

const (
	StockOpReserve   StockOp = "reserve"
	StockOpConfirm   StockOp = "confirm"
	StockOpRelease   StockOp = "release"
	StockOpRestock   StockOp = "restock"
	StockOpUnconfirm StockOp = "unconfirm"
	StockOpUnrestock StockOp = "unrestock"
)

// Available — остаток, который ещё можно продать.
func (s StockRecord) Available() int64 {
	return s.Quantity - s.Reserved
}

// Validate проверяет инвариант 0 <= reserved <= quantity.
func (s StockRecord) Validate() error {
	if s.Reserved < 0 || s.Quantity < 0 || s.Reserved > s.Quantity {
		return fmt.Errorf("%w: product %s quantity=%d reserved=%d", ErrStockInvariant, s.ProductID, s.Quantity, s.Reserved)
	}
	return nil
}

// Apply возвращает копию записи после операции op на qty единиц.
// Исходная запись не меняется: результат пишется в хранилище через CAS по Version.
func (s StockRecord) Apply(op StockOp, qty int64) (StockRecord, error) {
	if qty <= 0 {
		return s, ErrQuantityInvalid
	}

	next := s
	switch op {
	case StockOpReserve:
		if s.Available() < qty {
			return s, &InsufficientStockError{ProductID: s.ProductID, Available: s.Available(), Requested: qty}
		}
		next.Reserved += qty
	case StockOpConfirm:
		if s.Reserved < qty {
			return s, fmt.Errorf("%w: product %s reserved=%d, confirm=%d", ErrReservationNotFound, s.ProductID, s.Reserved, qty)
		}
		next.Quantity -= qty
		next.Reserved -= qty
	case StockOpRelease:
		if s.Reserved < qty {
			return s, fmt.Errorf("%w: product %s reserved=%d, release=%d", ErrReservationNotFound, s.ProductID, s.Reserved, qty)
		}
		next.Reserved -= qty
	case StockOpRestock:
		next.Quantity += qty
	case StockOpUnconfirm:
		// Компенсация подтверждения: товар снова числится и снова зарезервирован.
		next.Quantity += qty
		next.Reserved += qty
	case StockOpUnrestock:
		// Компенсация возврата на склад: снимаем только свободный остаток.
		if s.Available() < qty {
			return s, &InsufficientStockError{ProductID: s.ProductID, Available: s.Available(), Requested: qty}
		}
		next.Quantity -= qty
	default:
		return s, fmt.Errorf("%w: unknown stock operation %q", ErrValidation, op)
	}

	if err := next.Validate(); err != nil {
		return s, err
	}
	return next, nil
}
