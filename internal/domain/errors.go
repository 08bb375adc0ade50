package domain

import (
	"errors"
	"fmt"
)

// Базовые классы ошибок. Конкретные ошибки ниже оборачивают их, поэтому
// вызывающий код может проверять как errors.Is(err, ErrNotFound), так и
// errors.Is(err, ErrOrderNotFound).
var (
	// ErrNotFound — сущность отсутствует (заказ, товар, купон, склад).
	ErrNotFound = errors.New("not found")
	// ErrValidation — некорректный входной запрос.
	ErrValidation = errors.New("validation error")
	// ErrInsufficientStock — на складе недостаточно доступного остатка.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCouponExpired — срок действия купона истёк.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponExhausted — лимит использований купона исчерпан.
	ErrCouponExhausted = errors.New("coupon exhausted")
	// ErrInvalidStateTransition — переход недопустим из текущего статуса заказа.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrConcurrentUpdateConflict — исчерпаны попытки optimistic retry; запрос можно повторить.
	ErrConcurrentUpdateConflict = errors.New("concurrent update conflict")
	// ErrPaymentGateway — платёжный шлюз не ответил или отклонил запрос.
	ErrPaymentGateway = errors.New("payment gateway error")
	// ErrReservationNotFound — резерв меньше подтверждаемого/снимаемого количества.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrAccessDenied — заказ или корзина принадлежат другому пользователю.
	ErrAccessDenied = errors.New("access denied")
	// ErrVersionConflict — версия записи изменилась между чтением и записью (CAS).
	ErrVersionConflict = errors.New("version conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

var (
	ErrOrderNotFound   = fmt.Errorf("order %w", ErrNotFound)
	ErrStockNotFound   = fmt.Errorf("inventory %w", ErrNotFound)
	ErrCouponNotFound  = fmt.Errorf("coupon %w", ErrNotFound)
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)
	ErrAddressNotFound = fmt.Errorf("shipping address %w", ErrNotFound)
	ErrCartNotFound    = fmt.Errorf("cart %w", ErrNotFound)
)

var (
	ErrCartEmpty           = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrCartRequired        = fmt.Errorf("%w: cart_id is required", ErrValidation)
	ErrQuantityInvalid     = fmt.Errorf("%w: quantity must be greater than zero", ErrValidation)
	ErrUserRequired        = fmt.Errorf("%w: user_id is required", ErrValidation)
	ErrProductRequired     = fmt.Errorf("%w: product_id is required", ErrValidation)
	ErrCouponCodeRequired  = fmt.Errorf("%w: coupon code is required", ErrValidation)
	ErrDiscountInvalid     = fmt.Errorf("%w: discount value must be non-negative", ErrValidation)
	ErrAddressNotOwned     = fmt.Errorf("%w: shipping address belongs to another user", ErrValidation)
	ErrPriceInvalid        = fmt.Errorf("%w: unit price must be non-negative", ErrValidation)
	ErrTotalMismatch       = fmt.Errorf("%w: order total does not match line items", ErrValidation)
	ErrFinalTotalMismatch  = fmt.Errorf("%w: final total must equal total minus discount", ErrValidation)
	ErrStockInvariant      = fmt.Errorf("%w: reserved must stay within [0, quantity]", ErrValidation)
	ErrStockAlreadyExists  = fmt.Errorf("%w: inventory already provisioned", ErrValidation)
	ErrCouponAlreadyExists = fmt.Errorf("%w: coupon code already exists", ErrValidation)
)

// InsufficientStockError уточняет ErrInsufficientStock доступным и запрошенным количеством.
type InsufficientStockError struct {
	ProductID string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

// Is позволяет сравнивать через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// TransitionError описывает отклонённый переход статуса заказа.
type TransitionError struct {
	OrderID string
	Event   OrderEvent
	Current OrderStatus
	Target  OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for order %s: cannot %s from %s to %s", e.OrderID, e.Event, e.Current, e.Target)
}

// Is позволяет сравнивать через errors.Is(err, ErrInvalidStateTransition).
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsBusinessError сообщает, что ошибка — бизнес-правило и не должна повторяться внутри сервиса.
func IsBusinessError(err error) bool {
	switch {
	case errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrCouponExpired),
		errors.Is(err, ErrCouponExhausted),
		errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrReservationNotFound),
		errors.Is(err, ErrAccessDenied):
		return true
	default:
		return false
	}
}

// IsIdempotencyConflict сообщает, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
