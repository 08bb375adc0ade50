package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// Directory — справочник пользователей, адресов, корзин и каталог товаров в PostgreSQL.
type Directory struct {
	store *Store
	db    *sql.DB
}

// NewDirectory создаёт PostgreSQL-реализацию Directory и Catalog.
func NewDirectory(store *Store) *Directory {
	return &Directory{store: store, db: store.DB()}
}

func (d *Directory) GetUser(ctx context.Context, id string) (domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var u domain.User
	err := d.db.QueryRowContext(ctx, `SELECT id, email FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (d *Directory) GetAddress(ctx context.Context, id string) (domain.Address, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var a domain.Address
	err := d.db.QueryRowContext(ctx, `SELECT id, user_id, line FROM addresses WHERE id = $1`, id).Scan(&a.ID, &a.UserID, &a.Line)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Address{}, domain.ErrAddressNotFound
		}
		return domain.Address{}, fmt.Errorf("select address: %w", err)
	}
	return a, nil
}

func (d *Directory) GetCart(ctx context.Context, cartID string) (domain.Cart, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var cart domain.Cart
	err := d.db.QueryRowContext(ctx, `SELECT id, user_id FROM carts WHERE id = $1`, cartID).Scan(&cart.ID, &cart.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY position
	`, cart.ID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("select cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return domain.Cart{}, fmt.Errorf("scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, fmt.Errorf("iterate cart items: %w", err)
	}
	return cart, nil
}

func (d *Directory) ClearCart(ctx context.Context, cartID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		if _, err := d.GetCart(ctx, cartID); err != nil {
			return err
		}
	}
	return nil
}

// Products возвращает цены всех запрошенных товаров одним запросом.
func (d *Directory) Products(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `SELECT id, name, price FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	result := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	for _, id := range ids {
		if _, ok := result[id]; !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
		}
	}
	return result, nil
}

// PutUser создаёт или обновляет пользователя.
func (d *Directory) PutUser(ctx context.Context, u domain.User) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO users (id, email) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email
	`, u.ID, u.Email)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (d *Directory) PutAddress(ctx context.Context, a domain.Address) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO addresses (id, user_id, line) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, line = EXCLUDED.line
	`, a.ID, a.UserID, a.Line)
	if err != nil {
		return fmt.Errorf("upsert address: %w", err)
	}
	return nil
}

func (d *Directory) PutProduct(ctx context.Context, p domain.Product) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price
	`, p.ID, p.Name, p.Price)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// PutCart заменяет содержимое корзины пользователя.
func (d *Directory) PutCart(ctx context.Context, c domain.Cart) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return d.store.inTx(ctx, func(tx *sql.Tx) error {
		var cartID string
		err := tx.QueryRowContext(ctx, `
			INSERT INTO carts (id, user_id) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
			RETURNING id
		`, c.ID, c.UserID).Scan(&cartID)
		if err != nil {
			return fmt.Errorf("upsert cart: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
			return fmt.Errorf("reset cart items: %w", err)
		}
		for i, item := range c.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cart_items (cart_id, position, product_id, quantity)
				VALUES ($1, $2, $3, $4)
			`, cartID, i, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("insert cart item: %w", err)
			}
		}
		return nil
	})
}

var (
	_ domain.Directory = (*Directory)(nil)
	_ domain.Catalog   = (*Directory)(nil)
)
