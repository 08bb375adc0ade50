package domain

import (
	"errors"
	"testing"
)

func TestStockRecordApply(t *testing.T) {
	base := StockRecord{ProductID: "p-1", Quantity: 5, Reserved: 2, Version: 3}

	tests := []struct {
		name         string
		op           StockOp
		qty          int64
		wantQuantity int64
		wantReserved int64
		wantErr      error
	}{
		{name: "reserve", op: StockOpReserve, qty: 3, wantQuantity: 5, wantReserved: 5},
		{name: "reserve too much", op: StockOpReserve, qty: 4, wantErr: ErrInsufficientStock},
		{name: "confirm", op: StockOpConfirm, qty: 2, wantQuantity: 3, wantReserved: 0},
		{name: "confirm over reserved", op: StockOpConfirm, qty: 3, wantErr: ErrReservationNotFound},
		{name: "release", op: StockOpRelease, qty: 1, wantQuantity: 5, wantReserved: 1},
		{name: "release over reserved", op: StockOpRelease, qty: 3, wantErr: ErrReservationNotFound},
		{name: "restock", op: StockOpRestock, qty: 10, wantQuantity: 15, wantReserved: 2},
		{name: "unconfirm", op: StockOpUnconfirm, qty: 2, wantQuantity: 7, wantReserved: 4},
		{name: "unrestock", op: StockOpUnrestock, qty: 3, wantQuantity: 2, wantReserved: 2},
		{name: "unrestock reserved units", op: StockOpUnrestock, qty: 4, wantErr: ErrInsufficientStock},
		{name: "zero qty", op: StockOpReserve, qty: 0, wantErr: ErrValidation},
		{name: "negative qty", op: StockOpRestock, qty: -1, wantErr: ErrValidation},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := base.Apply(tc.op, tc.qty)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if got != base {
					t.Fatalf("record must be unchanged on error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Quantity != tc.wantQuantity || got.Reserved != tc.wantReserved {
				t.Fatalf("unexpected record %+v", got)
			}
			if got.Version != base.Version {
				t.Fatal("Apply must not bump version, the repository does")
			}
		})
	}
}

func TestStockRecordConfirmThenRelease(t *testing.T) {
	rec := StockRecord{ProductID: "p-1", Quantity: 5}

	rec, err := rec.Apply(StockOpReserve, 2)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	rec, err = rec.Apply(StockOpConfirm, 2)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	after, err := rec.Apply(StockOpRelease, 2)
	if !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected release after confirm to fail, got %v", err)
	}
	if after.Reserved != 0 || after.Quantity != 3 {
		t.Fatalf("counters changed after rejected release: %+v", after)
	}
}
