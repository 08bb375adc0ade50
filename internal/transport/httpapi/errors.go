package httpapi

import (
	"context"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/service/retry"
)

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// classify сопоставляет доменную ошибку HTTP-статусу и машинному коду.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden, "access_denied"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusConflict, "invalid_state_transition"
	case errors.Is(err, domain.ErrConcurrentUpdateConflict):
		return http.StatusConflict, "concurrent_update_conflict"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, domain.ErrReservationNotFound):
		return http.StatusConflict, "reservation_not_found"
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return http.StatusConflict, "request_in_progress"
	case errors.Is(err, domain.ErrCouponExpired):
		return http.StatusUnprocessableEntity, "coupon_expired"
	case errors.Is(err, domain.ErrCouponExhausted):
		return http.StatusUnprocessableEntity, "coupon_exhausted"
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity, "idempotency_key_reused"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, retry.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "payment_unavailable"
	case errors.Is(err, domain.ErrPaymentGateway):
		return http.StatusBadGateway, "payment_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func errorBody(err error) (int, errorResponse) {
	status, code := classify(err)
	body := errorResponse{Error: code, Message: err.Error()}
	if status == http.StatusInternalServerError {
		body.Message = "internal server error"
	}

	var terr *domain.TransitionError
	if errors.As(err, &terr) {
		body.Details = map[string]string{
			"currentStatus": string(terr.Current),
			"event":         string(terr.Event),
			"targetStatus":  string(terr.Target),
		}
	}
	var serr *domain.InsufficientStockError
	if errors.As(err, &serr) {
		body.Details = map[string]string{
			"productId": serr.ProductID,
			"available": itoa(serr.Available),
			"requested": itoa(serr.Requested),
		}
	}
	return status, body
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorBody(err)
	entry := a.logger.WithError(err).WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	writeJSON(w, status, body)
}
