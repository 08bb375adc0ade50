package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

var allStatuses = []domain.OrderStatus{
	domain.OrderStatusPending, domain.OrderStatusPaymentProcessing, domain.OrderStatusPaid,
	domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered,
	domain.OrderStatusCancelled, domain.OrderStatusRefunded,
}

var allEvents = []domain.OrderEvent{
	domain.OrderEventPay, domain.OrderEventCancel, domain.OrderEventRefund,
	domain.OrderEventShip, domain.OrderEventDeliver,
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// keyboardOrder — две клавиатуры по 50.00, без купона.
func keyboardOrder() domain.Order {
	o := domain.Order{
		ID:                "order-1",
		UserID:            "user-1",
		ShippingAddressID: "addr-1",
		Status:            domain.OrderStatusPending,
		Items:             []domain.OrderItem{domain.NewOrderItem("prod-keyboard", 2, money("50"))},
	}
	o.ApplyPricing(nil)
	return o
}

func TestApplyPricing(t *testing.T) {
	tests := []struct {
		name     string
		coupon   *domain.Coupon
		discount string
		final    string
	}{
		{name: "no coupon", discount: "0", final: "100.00"},
		{name: "percent", coupon: &domain.Coupon{Code: "SAVE10", DiscountValue: money("10"), IsPercentage: true}, discount: "10.00", final: "90.00"},
		{name: "fixed", coupon: &domain.Coupon{Code: "MINUS5", DiscountValue: money("5")}, discount: "5.00", final: "95.00"},
		{name: "fixed above total", coupon: &domain.Coupon{Code: "HUGE", DiscountValue: money("250")}, discount: "100.00", final: "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := keyboardOrder()
			o.ApplyPricing(tc.coupon)

			assert.True(t, o.Total.Equal(money("100")), "total %s", o.Total)
			assert.True(t, o.Discount.Equal(money(tc.discount)), "discount %s", o.Discount)
			assert.True(t, o.FinalTotal.Equal(money(tc.final)), "final %s", o.FinalTotal)
			if tc.coupon != nil {
				assert.Equal(t, tc.coupon.Code, o.CouponCode)
			}
			assert.Empty(t, o.ValidateInvariants())
		})
	}
}

func TestNewOrderItemSubCentPrice(t *testing.T) {
	item := domain.NewOrderItem("prod-sticker", 3, money("0.005"))

	assert.True(t, item.UnitPrice.Equal(money("0.01")), "unit price %s", item.UnitPrice)
	assert.True(t, item.Subtotal.Equal(money("0.03")), "subtotal %s", item.Subtotal)

	o := domain.Order{ID: "order-2", UserID: "user-1", Status: domain.OrderStatusPending, Items: []domain.OrderItem{item}}
	o.ApplyPricing(nil)
	assert.Empty(t, o.ValidateInvariants())
}

func TestApplyPricingClearsPreviousCoupon(t *testing.T) {
	o := keyboardOrder()
	o.ApplyPricing(&domain.Coupon{Code: "SAVE10", DiscountValue: money("10"), IsPercentage: true})
	o.ApplyPricing(nil)

	assert.Empty(t, o.CouponCode)
	assert.True(t, o.Discount.IsZero())
}

func TestValidateInvariantsReportsEachBreak(t *testing.T) {
	tests := map[string]struct {
		breakIt func(o *domain.Order)
		want    error
	}{
		"missing user":     {func(o *domain.Order) { o.UserID = "" }, domain.ErrUserRequired},
		"empty items":      {func(o *domain.Order) { o.Items = nil }, domain.ErrCartEmpty},
		"zero quantity":    {func(o *domain.Order) { o.Items[0].Quantity = 0 }, domain.ErrQuantityInvalid},
		"negative price":   {func(o *domain.Order) { o.Items[0].UnitPrice = money("-1") }, domain.ErrPriceInvalid},
		"stale subtotal":   {func(o *domain.Order) { o.Items[0].Subtotal = money("1") }, domain.ErrTotalMismatch},
		"total drift":      {func(o *domain.Order) { o.Total = money("999") }, domain.ErrTotalMismatch},
		"final drift":      {func(o *domain.Order) { o.FinalTotal = money("1") }, domain.ErrFinalTotalMismatch},
		"negative discount": {func(o *domain.Order) {
			o.Discount = money("-1")
			o.FinalTotal = o.Total.Sub(o.Discount)
		}, domain.ErrDiscountInvalid},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			o := keyboardOrder()
			o.Items = append([]domain.OrderItem(nil), o.Items...)
			tc.breakIt(&o)

			assert.Contains(t, o.ValidateInvariants(), tc.want)
		})
	}

	t.Run("unknown status", func(t *testing.T) {
		o := keyboardOrder()
		o.Status = "LOST"
		errs := o.ValidateInvariants()
		require.Len(t, errs, 1)
		assert.ErrorContains(t, errs[0], "LOST")
	})
}

func TestNextStatusTable(t *testing.T) {
	allowed := map[domain.OrderEvent]map[domain.OrderStatus]domain.OrderStatus{
		domain.OrderEventPay:     {domain.OrderStatusPending: domain.OrderStatusPaid},
		domain.OrderEventCancel:  {domain.OrderStatusPending: domain.OrderStatusCancelled, domain.OrderStatusPaid: domain.OrderStatusCancelled},
		domain.OrderEventRefund:  {domain.OrderStatusPaid: domain.OrderStatusRefunded, domain.OrderStatusShipped: domain.OrderStatusRefunded},
		domain.OrderEventShip:    {domain.OrderStatusPaid: domain.OrderStatusShipped, domain.OrderStatusProcessing: domain.OrderStatusShipped},
		domain.OrderEventDeliver: {domain.OrderStatusShipped: domain.OrderStatusDelivered},
	}

	for _, event := range allEvents {
		for _, from := range allStatuses {
			got, err := domain.NextStatus("order-1", from, event)
			want, ok := allowed[event][from]
			if ok {
				assert.NoError(t, err, "%s on %s", event, from)
				assert.Equal(t, want, got, "%s on %s", event, from)
				continue
			}

			var te *domain.TransitionError
			if assert.ErrorAs(t, err, &te, "%s on %s", event, from) {
				assert.Equal(t, from, te.Current)
				assert.Equal(t, event, te.Event)
				assert.NotEmpty(t, te.Target)
			}
			assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, from := range allStatuses {
		if !from.Terminal() {
			continue
		}
		for _, event := range allEvents {
			_, err := domain.NextStatus("order-1", from, event)
			assert.Error(t, err, "%s must not leave terminal %s", event, from)
		}
	}
	assert.False(t, domain.OrderStatusPending.Terminal())
	assert.False(t, domain.OrderStatusPaid.Terminal())
	assert.True(t, domain.OrderStatusRefunded.Terminal())
}

func TestOwnedBy(t *testing.T) {
	o := keyboardOrder()
	assert.True(t, o.OwnedBy("user-1"))
	assert.False(t, o.OwnedBy("user-2"))
}
