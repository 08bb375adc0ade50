package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, товары зарезервированы, оплаты ещё нет.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaymentProcessing — идёт обращение к платёжному шлюзу.
	OrderStatusPaymentProcessing OrderStatus = "PAYMENT_PROCESSING"
	// OrderStatusPaid — оплата прошла, резерв списан со склада.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusProcessing — заказ собирается на складе.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered — заказ получен покупателем.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRefunded — деньги возвращены.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCancelled, OrderStatusRefunded, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

// Valid проверяет, что статус известен.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaymentProcessing, OrderStatusPaid, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// OrderEvent — событие, которое двигает заказ по статусам.
type OrderEvent string

const (
	OrderEventCreate  OrderEvent = "create"
	OrderEventPay     OrderEvent = "pay"
	OrderEventCancel  OrderEvent = "cancel"
	OrderEventRefund  OrderEvent = "refund"
	OrderEventShip    OrderEvent = "ship"
	OrderEventDeliver OrderEvent = "deliver"
)

// transitions — таблица допустимых переходов: событие -> статус-источник -> целевой статус.
var transitions = map[OrderEvent]map[OrderStatus]OrderStatus{
	OrderEventPay: {
		OrderStatusPending: OrderStatusPaid,
	},
	OrderEventCancel: {
		OrderStatusPending: OrderStatusCancelled,
		OrderStatusPaid:    OrderStatusCancelled,
	},
	OrderEventRefund: {
		OrderStatusPaid:    OrderStatusRefunded,
		OrderStatusShipped: OrderStatusRefunded,
	},
	OrderEventShip: {
		OrderStatusPaid:       OrderStatusShipped,
		OrderStatusProcessing: OrderStatusShipped,
	},
	OrderEventDeliver: {
		OrderStatusShipped: OrderStatusDelivered,
	},
}

// targetFor возвращает целевой статус события без учёта источника (для текста ошибки).
func targetFor(event OrderEvent) OrderStatus {
	switch event {
	case OrderEventCreate:
		return OrderStatusPending
	case OrderEventPay:
		return OrderStatusPaid
	case OrderEventCancel:
		return OrderStatusCancelled
	case OrderEventRefund:
		return OrderStatusRefunded
	case OrderEventShip:
		return OrderStatusShipped
	case OrderEventDeliver:
		return OrderStatusDelivered
	default:
		return ""
	}
}

// NextStatus возвращает статус после события или *TransitionError.
func NextStatus(orderID string, current OrderStatus, event OrderEvent) (OrderStatus, error) {
	if to, ok := transitions[event][current]; ok {
		return to, nil
	}
	return "", &TransitionError{OrderID: orderID, Event: event, Current: current, Target: targetFor(event)}
}

// OrderItem — позиция заказа. После создания заказа не меняется.
type OrderItem struct {
	ProductID string
	Quantity  int64
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID                string
	UserID            string
	Items             []OrderItem
	Total             decimal.Decimal
	Discount          decimal.Decimal
	FinalTotal        decimal.Decimal
	CouponCode        string
	Status            OrderStatus
	ShippingAddressID string
	PaymentID         string
	PaymentMethod     string
	RefundID          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PaidAt            *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
	RefundedAt        *time.Time
	Version           int64
}

// NewOrderItem считает subtotal позиции.
func NewOrderItem(productID string, qty int64, unitPrice decimal.Decimal) OrderItem {
	price := RoundMoney(unitPrice)
	return OrderItem{
		ProductID: productID,
		Quantity:  qty,
		UnitPrice: price,
		Subtotal:  Subtotal(price, qty),
	}
}

// ApplyPricing заполняет Total, Discount и FinalTotal по позициям и купону.
func (o *Order) ApplyPricing(coupon *Coupon) {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal)
	}
	o.Total = RoundMoney(total)
	o.Discount = decimal.Zero
	o.CouponCode = ""
	if coupon != nil {
		o.Discount = ComputeDiscount(o.Total, *coupon)
		o.CouponCode = coupon.Code
	}
	o.FinalTotal = RoundMoney(o.Total.Sub(o.Discount))
}

// ValidateInvariants проверяет инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrCartEmpty)
	}
	if !o.Status.Valid() {
		errs = append(errs, errors.New("unknown order status "+string(o.Status)))
	}
	if o.Discount.IsNegative() {
		errs = append(errs, ErrDiscountInvalid)
	}

	calc := decimal.Zero
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrQuantityInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrPriceInvalid)
		}
		if !item.Subtotal.Equal(Subtotal(item.UnitPrice, item.Quantity)) {
			errs = append(errs, ErrTotalMismatch)
		}
		calc = calc.Add(item.Subtotal)
	}
	if !calc.Equal(o.Total) {
		errs = append(errs, ErrTotalMismatch)
	}
	if !o.FinalTotal.Equal(o.Total.Sub(o.Discount)) {
		errs = append(errs, ErrFinalTotalMismatch)
	}

	return errs
}

// OwnedBy проверяет владельца заказа.
func (o Order) OwnedBy(userID string) bool {
	return o.UserID == userID
}
