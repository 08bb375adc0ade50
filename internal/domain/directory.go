package domain

import "github.com/shopspring/decimal"

// User — покупатель. Ядру нужен только факт существования.
type User struct {
	ID    string
	Email string
}

// Address — адрес доставки, принадлежит пользователю.
type Address struct {
	ID     string
	UserID string
	Line   string
}

// CartItem — строка корзины.
type CartItem struct {
	ProductID string
	Quantity  int64
}

// Cart — корзина пользователя.
type Cart struct {
	ID     string
	UserID string
	Items  []CartItem
}

// Product — товар каталога с текущей ценой.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
}
