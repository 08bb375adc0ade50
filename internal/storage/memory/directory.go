package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// Directory — in-memory справочник пользователей, адресов, корзин и каталог товаров.
type Directory struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	addresses map[string]domain.Address
	carts     map[string]domain.Cart
	products  map[string]domain.Product
}

// NewDirectory создаёт пустой справочник.
func NewDirectory() *Directory {
	return &Directory{
		users:     make(map[string]domain.User),
		addresses: make(map[string]domain.Address),
		carts:     make(map[string]domain.Cart),
		products:  make(map[string]domain.Product),
	}
}

// PutUser добавляет или заменяет пользователя.
func (d *Directory) PutUser(u domain.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// PutAddress добавляет или заменяет адрес.
func (d *Directory) PutAddress(a domain.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addresses[a.ID] = a
}

// PutCart заменяет корзину по её ID. У пользователя одна корзина:
// прежняя корзина того же пользователя удаляется.
func (d *Directory) PutCart(c domain.Cart) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, existing := range d.carts {
		if existing.UserID == c.UserID && id != c.ID {
			delete(d.carts, id)
		}
	}
	c.Items = append([]domain.CartItem(nil), c.Items...)
	d.carts[c.ID] = c
}

// PutProduct добавляет или заменяет товар каталога.
func (d *Directory) PutProduct(p domain.Product) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.products[p.ID] = p
}

func (d *Directory) GetUser(_ context.Context, id string) (domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (d *Directory) GetAddress(_ context.Context, id string) (domain.Address, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.addresses[id]
	if !ok {
		return domain.Address{}, domain.ErrAddressNotFound
	}
	return a, nil
}

func (d *Directory) GetCart(_ context.Context, cartID string) (domain.Cart, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.carts[cartID]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	c.Items = append([]domain.CartItem(nil), c.Items...)
	return c, nil
}

func (d *Directory) ClearCart(_ context.Context, cartID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.carts[cartID]
	if !ok {
		return domain.ErrCartNotFound
	}
	c.Items = nil
	d.carts[cartID] = c
	return nil
}

// Products возвращает все запрошенные товары; ErrProductNotFound, если хотя бы одного нет.
func (d *Directory) Products(_ context.Context, ids []string) (map[string]domain.Product, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		p, ok := d.products[id]
		if !ok {
			return nil, domain.ErrProductNotFound
		}
		result[id] = p
	}
	return result, nil
}

var (
	_ domain.Directory = (*Directory)(nil)
	_ domain.Catalog   = (*Directory)(nil)
)
