package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

const orderColumns = `id, user_id, status, total, discount, final_total, coupon_code, shipping_address_id,
	payment_id, payment_method, refund_id, version, created_at, updated_at,
	paid_at, shipped_at, delivered_at, cancelled_at, refunded_at`

const (
	sqlOrderInsert = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`

	// Позиции вставляются одним запросом; position — порядковый номер с нуля.
	sqlOrderItemsInsert = `INSERT INTO order_items (order_id, position, product_id, quantity, unit_price, subtotal)
		SELECT $1, t.ord - 1, t.product_id, t.quantity, t.unit_price, t.subtotal
		FROM unnest($2::text[], $3::bigint[], $4::numeric[], $5::numeric[])
			WITH ORDINALITY AS t(product_id, quantity, unit_price, subtotal, ord)`

	sqlOrderByID = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	sqlOrdersByUser = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	sqlOrderItems = `SELECT order_id, product_id, quantity, unit_price, subtotal
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`

	// sqlOrderSave различает три исхода одним запросом:
	// нет строки (заказа нет), saved.version IS NULL (чужая версия) и успех.
	sqlOrderSave = `WITH existing AS (
			SELECT version FROM orders WHERE id = $14
		), saved AS (
			UPDATE orders
			SET status = $1, discount = $2, final_total = $3, coupon_code = $4,
			    payment_id = $5, payment_method = $6, refund_id = $7,
			    paid_at = $8, shipped_at = $9, delivered_at = $10, cancelled_at = $11, refunded_at = $12,
			    updated_at = $13, version = orders.version + 1
			WHERE id = $14 AND version = $15
			RETURNING version, updated_at
		)
		SELECT saved.version, saved.updated_at FROM existing LEFT JOIN saved ON true`
)

// OrderRepository хранит заказы в таблицах orders и order_items.
// Позиции пишутся вместе с заказом и дальше не меняются.
type OrderRepository struct {
	store *Store
	now   func() time.Time
}

func NewOrderRepository(store *Store) *OrderRepository {
	return &OrderRepository{store: store, now: time.Now}
}

func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	products := make([]string, len(order.Items))
	quantities := make([]int64, len(order.Items))
	prices := make([]string, len(order.Items))
	subtotals := make([]string, len(order.Items))
	for i, item := range order.Items {
		products[i] = item.ProductID
		quantities[i] = item.Quantity
		prices[i] = item.UnitPrice.String()
		subtotals[i] = item.Subtotal.String()
	}

	return r.store.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlOrderInsert,
			order.ID, order.UserID, string(order.Status), order.Total, order.Discount, order.FinalTotal,
			order.CouponCode, order.ShippingAddressID, order.PaymentID, order.PaymentMethod, order.RefundID,
			order.Version, order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
			nullTime(order.PaidAt), nullTime(order.ShippedAt), nullTime(order.DeliveredAt),
			nullTime(order.CancelledAt), nullTime(order.RefundedAt),
		)
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("order %s: %w", order.ID, domain.ErrVersionConflict)
		case err != nil:
			return fmt.Errorf("insert order %s: %w", order.ID, err)
		}

		if len(products) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, sqlOrderItemsInsert, order.ID, products, quantities, prices, subtotals); err != nil {
			return fmt.Errorf("insert items of order %s: %w", order.ID, err)
		}
		return nil
	})
}

func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.store.db.QueryRowContext(ctx, sqlOrderByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order %s: %w", id, err)
	}

	orders := []domain.Order{order}
	if err := r.attachItems(ctx, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

// ListByUser отдаёт заказы пользователя от новых к старым; limit <= 0 снимает ограничение.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	// NULL в LIMIT означает "без ограничения".
	var bound sql.NullInt64
	if limit > 0 {
		bound = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := r.store.db.QueryContext(ctx, sqlOrdersByUser, userID, bound)
	if err != nil {
		return nil, fmt.Errorf("list orders of %s: %w", userID, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders of %s: %w", userID, err)
	}
	if len(orders) == 0 {
		return []domain.Order{}, nil
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Save пишет изменяемые поля заказа при совпадении версии и возвращает заказ с новой версией.
func (r *OrderRepository) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		version   sql.NullInt64
		updatedAt sql.NullTime
	)
	err := r.store.db.QueryRowContext(ctx, sqlOrderSave,
		string(order.Status), order.Discount, order.FinalTotal, order.CouponCode,
		order.PaymentID, order.PaymentMethod, order.RefundID,
		nullTime(order.PaidAt), nullTime(order.ShippedAt), nullTime(order.DeliveredAt),
		nullTime(order.CancelledAt), nullTime(order.RefundedAt),
		r.now().UTC(), order.ID, order.Version,
	).Scan(&version, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Order{}, domain.ErrOrderNotFound
	case err != nil:
		return domain.Order{}, fmt.Errorf("save order %s: %w", order.ID, err)
	case !version.Valid:
		return domain.Order{}, fmt.Errorf("order %s at version %d: %w", order.ID, order.Version, domain.ErrVersionConflict)
	}

	order.Version = version.Int64
	order.UpdatedAt = updatedAt.Time.UTC()
	return order, nil
}

// attachItems дозагружает позиции для всех orders одним запросом.
func (r *OrderRepository) attachItems(ctx context.Context, orders []domain.Order) error {
	index := make(map[string]int, len(orders))
	ids := make([]string, len(orders))
	for i, o := range orders {
		index[o.ID] = i
		ids[i] = o.ID
	}

	rows, err := r.store.db.QueryContext(ctx, sqlOrderItems, ids)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			item    domain.OrderItem
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if i, ok := index[orderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o                                           domain.Order
		status                                      string
		paid, shipped, delivered, cancelled, refund sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.UserID, &status, &o.Total, &o.Discount, &o.FinalTotal,
		&o.CouponCode, &o.ShippingAddressID, &o.PaymentID, &o.PaymentMethod, &o.RefundID,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
		&paid, &shipped, &delivered, &cancelled, &refund,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Status = domain.OrderStatus(status)
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	o.PaidAt, o.ShippedAt, o.DeliveredAt = timePtr(paid), timePtr(shipped), timePtr(delivered)
	o.CancelledAt, o.RefundedAt = timePtr(cancelled), timePtr(refund)
	return o, nil
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
