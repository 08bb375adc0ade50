package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

type createOrderRequest struct {
	UserID            string `json:"userId"`
	CartID            string `json:"cartId"`
	ShippingAddressID string `json:"shippingAddressId"`
	CouponCode        string `json:"couponCode,omitempty"`
}

type orderItemResponse struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Subtotal  string `json:"subtotal"`
}

// orderResponse отдаёт деньги строками с двумя знаками после запятой.
type orderResponse struct {
	ID                string              `json:"id"`
	UserID            string              `json:"userId"`
	Status            domain.OrderStatus  `json:"status"`
	Items             []orderItemResponse `json:"items"`
	Total             string              `json:"total"`
	Discount          string              `json:"discount"`
	FinalTotal        string              `json:"finalTotal"`
	CouponCode        string              `json:"couponCode,omitempty"`
	ShippingAddressID string              `json:"shippingAddressId"`
	PaymentID         string              `json:"paymentId,omitempty"`
	PaymentMethod     string              `json:"paymentMethod,omitempty"`
	RefundID          string              `json:"refundId,omitempty"`
	Version           int64               `json:"version"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
	PaidAt            *time.Time          `json:"paidAt,omitempty"`
	ShippedAt         *time.Time          `json:"shippedAt,omitempty"`
	DeliveredAt       *time.Time          `json:"deliveredAt,omitempty"`
	CancelledAt       *time.Time          `json:"cancelledAt,omitempty"`
	RefundedAt        *time.Time          `json:"refundedAt,omitempty"`
}

type stockResponse struct {
	ProductID string    `json:"productId"`
	Quantity  int64     `json:"quantity"`
	Reserved  int64     `json:"reserved"`
	Available int64     `json:"available"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type availableResponse struct {
	ProductID string `json:"productId"`
	Available int64  `json:"available"`
}

type timelineEventResponse struct {
	Seq      int64              `json:"seq"`
	Type     string             `json:"type"`
	Status   domain.OrderStatus `json:"status,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	Occurred time.Time          `json:"occurred"`
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
			Subtotal:  it.Subtotal.StringFixed(2),
		})
	}
	return orderResponse{
		ID:                o.ID,
		UserID:            o.UserID,
		Status:            o.Status,
		Items:             items,
		Total:             o.Total.StringFixed(2),
		Discount:          o.Discount.StringFixed(2),
		FinalTotal:        o.FinalTotal.StringFixed(2),
		CouponCode:        o.CouponCode,
		ShippingAddressID: o.ShippingAddressID,
		PaymentID:         o.PaymentID,
		PaymentMethod:     o.PaymentMethod,
		RefundID:          o.RefundID,
		Version:           o.Version,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
		PaidAt:            o.PaidAt,
		ShippedAt:         o.ShippedAt,
		DeliveredAt:       o.DeliveredAt,
		CancelledAt:       o.CancelledAt,
		RefundedAt:        o.RefundedAt,
	}
}

func toOrderList(orders []domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}

func toStockResponse(rec domain.StockRecord) stockResponse {
	return stockResponse{
		ProductID: rec.ProductID,
		Quantity:  rec.Quantity,
		Reserved:  rec.Reserved,
		Available: rec.Available(),
		Version:   rec.Version,
		UpdatedAt: rec.UpdatedAt,
	}
}

func toTimeline(events []domain.TimelineEvent) []timelineEventResponse {
	out := make([]timelineEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, timelineEventResponse{Seq: e.Seq, Type: e.Type, Status: e.Status, Reason: e.Reason, Occurred: e.Occurred})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
