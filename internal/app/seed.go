package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/service/coupon"
	"github.com/vladislavdragonenkov/shopcore/internal/service/inventory"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/memory"
)

// seeder наполняет справочник пользователями, адресами, товарами и корзинами.
type seeder interface {
	PutUser(ctx context.Context, u domain.User) error
	PutAddress(ctx context.Context, a domain.Address) error
	PutProduct(ctx context.Context, p domain.Product) error
	PutCart(ctx context.Context, c domain.Cart) error
}

// memoryDirectory приводит in-memory справочник к интерфейсу seeder.
type memoryDirectory struct {
	*memory.Directory
}

func (d memoryDirectory) PutUser(_ context.Context, u domain.User) error {
	d.Directory.PutUser(u)
	return nil
}

func (d memoryDirectory) PutAddress(_ context.Context, a domain.Address) error {
	d.Directory.PutAddress(a)
	return nil
}

func (d memoryDirectory) PutProduct(_ context.Context, p domain.Product) error {
	d.Directory.PutProduct(p)
	return nil
}

func (d memoryDirectory) PutCart(_ context.Context, c domain.Cart) error {
	d.Directory.PutCart(c)
	return nil
}

type demoProduct struct {
	product domain.Product
	stock   int64
}

var demoProducts = []demoProduct{
	{product: domain.Product{ID: "prod-laptop", Name: "Laptop", Price: decimal.RequireFromString("999.99")}, stock: 10},
	{product: domain.Product{ID: "prod-mouse", Name: "Wireless Mouse", Price: decimal.RequireFromString("29.99")}, stock: 100},
	{product: domain.Product{ID: "prod-keyboard", Name: "Mechanical Keyboard", Price: decimal.RequireFromString("50.00")}, stock: 5},
	{product: domain.Product{ID: "prod-monitor", Name: "27\" Monitor", Price: decimal.RequireFromString("299.00")}, stock: 3},
}

// seedDemo заводит демо-магазин: двух покупателей с корзинами, товары с
// остатками и купоны SAVE10 и WELCOME5. Повторный запуск на той же базе безопасен.
func seedDemo(ctx context.Context, dir seeder, inv *inventory.Service, coupons *coupon.Ledger, logger *log.Entry) error {
	users := []struct {
		user    domain.User
		address domain.Address
		cart    domain.Cart
	}{
		{
			user:    domain.User{ID: "user-1", Email: "alice@example.com"},
			address: domain.Address{ID: "addr-1", UserID: "user-1", Line: "1 Main St"},
			cart: domain.Cart{ID: "cart-1", UserID: "user-1", Items: []domain.CartItem{
				{ProductID: "prod-keyboard", Quantity: 2},
			}},
		},
		{
			user:    domain.User{ID: "user-2", Email: "bob@example.com"},
			address: domain.Address{ID: "addr-2", UserID: "user-2", Line: "2 Side St"},
			cart: domain.Cart{ID: "cart-2", UserID: "user-2", Items: []domain.CartItem{
				{ProductID: "prod-laptop", Quantity: 1},
				{ProductID: "prod-mouse", Quantity: 2},
			}},
		},
	}

	for _, p := range demoProducts {
		if err := dir.PutProduct(ctx, p.product); err != nil {
			return fmt.Errorf("seed product %s: %w", p.product.ID, err)
		}
		if _, err := inv.Provision(ctx, p.product.ID, p.stock); err != nil && !errors.Is(err, domain.ErrStockAlreadyExists) {
			return fmt.Errorf("seed stock %s: %w", p.product.ID, err)
		}
	}

	for _, u := range users {
		if err := dir.PutUser(ctx, u.user); err != nil {
			return fmt.Errorf("seed user %s: %w", u.user.ID, err)
		}
		if err := dir.PutAddress(ctx, u.address); err != nil {
			return fmt.Errorf("seed address %s: %w", u.address.ID, err)
		}
		if err := dir.PutCart(ctx, u.cart); err != nil {
			return fmt.Errorf("seed cart %s: %w", u.cart.ID, err)
		}
	}

	maxUses := int64(100)
	demoCoupons := []domain.Coupon{
		{Code: "SAVE10", DiscountValue: decimal.NewFromInt(10), IsPercentage: true, MaxUses: &maxUses},
		{Code: "WELCOME5", DiscountValue: decimal.NewFromInt(5)},
	}
	for _, c := range demoCoupons {
		if _, err := coupons.Create(ctx, c); err != nil && !errors.Is(err, domain.ErrCouponAlreadyExists) {
			return fmt.Errorf("seed coupon %s: %w", c.Code, err)
		}
	}

	logger.WithFields(log.Fields{
		"products": len(demoProducts),
		"users":    len(users),
		"coupons":  len(demoCoupons),
	}).Info("demo data seeded")
	return nil
}
