package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

func (a *api) getStock(w http.ResponseWriter, r *http.Request) {
	rec, err := a.inventory.GetStock(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockResponse(rec))
}

func (a *api) getAvailable(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	available, err := a.inventory.GetAvailable(r.Context(), productID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availableResponse{ProductID: productID, Available: available})
}

func (a *api) reserve(w http.ResponseWriter, r *http.Request) {
	qty, err := parseInt(r, "quantity")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.inventory.Reserve(r.Context(), chi.URLParam(r, "productId"), qty); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) restock(w http.ResponseWriter, r *http.Request) {
	qty, err := parseInt(r, "quantity")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rec, err := a.inventory.Restock(r.Context(), chi.URLParam(r, "productId"), qty)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockResponse(rec))
}

func (a *api) lowStock(w http.ResponseWriter, r *http.Request) {
	threshold := defaultLowStock
	if r.URL.Query().Get("threshold") != "" {
		v, err := parseInt(r, "threshold")
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		threshold = v
	}

	records, err := a.inventory.ListLowStock(r.Context(), threshold)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]stockResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toStockResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func parseInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", domain.ErrValidation, name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrValidation, name)
	}
	return v, nil
}
