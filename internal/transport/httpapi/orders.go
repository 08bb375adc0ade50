package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/service/order"
)

const (
	maxBodyBytes        = 1 << 20
	defaultCancelReason = "cancelled by customer"
	defaultRefundReason = "refund requested"
	idempotencyHeader   = "Idempotency-Key"
	replayedHeader      = "Idempotent-Replayed"
)

func (a *api) createOrder(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: read body: %v", domain.ErrValidation, err))
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrValidation))
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		a.writeError(w, r, domain.ErrUserRequired)
		return
	}
	if strings.TrimSpace(req.CartID) == "" {
		a.writeError(w, r, domain.ErrCartRequired)
		return
	}
	if strings.TrimSpace(req.ShippingAddressID) == "" {
		a.writeError(w, r, fmt.Errorf("%w: shippingAddressId is required", domain.ErrValidation))
		return
	}

	handle := func() (int, any, error) {
		created, err := a.orders.Create(r.Context(), order.CreateRequest{
			UserID:            req.UserID,
			CartID:            req.CartID,
			ShippingAddressID: req.ShippingAddressID,
			CouponCode:        req.CouponCode,
		})
		if err != nil {
			status, body := errorBody(err)
			if status >= http.StatusInternalServerError {
				a.logger.WithError(err).WithField("user_id", req.UserID).Error("checkout failed")
			}
			return status, body, err
		}
		return http.StatusCreated, toOrderResponse(created), nil
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" || a.idempotency == nil {
		status, body, _ := handle()
		writeJSON(w, status, body)
		return
	}
	a.serveIdempotent(w, r, key, raw, handle)
}

func (a *api) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.orders.Get(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("userId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (a *api) listUserOrders(w http.ResponseWriter, r *http.Request) {
	limit := order.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			a.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", domain.ErrValidation))
			return
		}
		limit = v
	}

	orders, err := a.orders.ListByUser(r.Context(), chi.URLParam(r, "userId"), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

func (a *api) orderTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := a.orders.Timeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimeline(events))
}

func (a *api) payOrder(w http.ResponseWriter, r *http.Request) {
	method := strings.TrimSpace(r.URL.Query().Get("paymentMethod"))
	if method == "" {
		a.writeError(w, r, fmt.Errorf("%w: paymentMethod is required", domain.ErrValidation))
		return
	}
	a.transition(w, r, func(id string) (domain.Order, error) {
		return a.orders.Pay(r.Context(), id, method)
	})
}

func (a *api) cancelOrder(w http.ResponseWriter, r *http.Request) {
	reason := queryOr(r, "reason", defaultCancelReason)
	a.transition(w, r, func(id string) (domain.Order, error) {
		return a.orders.Cancel(r.Context(), id, reason)
	})
}

func (a *api) refundOrder(w http.ResponseWriter, r *http.Request) {
	reason := queryOr(r, "reason", defaultRefundReason)
	a.transition(w, r, func(id string) (domain.Order, error) {
		return a.orders.Refund(r.Context(), id, reason)
	})
}

func (a *api) shipOrder(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, func(id string) (domain.Order, error) {
		return a.orders.Ship(r.Context(), id)
	})
}

func (a *api) deliverOrder(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, func(id string) (domain.Order, error) {
		return a.orders.Deliver(r.Context(), id)
	})
}

func (a *api) transition(w http.ResponseWriter, r *http.Request, fn func(id string) (domain.Order, error)) {
	o, err := fn(chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func queryOr(r *http.Request, name, fallback string) string {
	if v := strings.TrimSpace(r.URL.Query().Get(name)); v != "" {
		return v
	}
	return fallback
}
