package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// serveIdempotent выполняет handle один раз на ключ. Повтор с тем же телом
// получает сохранённый ответ, с другим телом — 422, пока первый запрос
// ещё обрабатывается — 409. Сохраняются только успех и бизнес-отказ;
// после конфликта версий, сбоя шлюза или таймаута ключ освобождается.
func (a *api) serveIdempotent(w http.ResponseWriter, r *http.Request, key string, body []byte, handle func() (int, any, error)) {
	hash := requestHash(r.Method, r.URL.Path, body)
	ttlAt := a.now().UTC().Add(a.ttl)

	existing, err := a.idempotency.CreateProcessing(r.Context(), key, hash, ttlAt)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if !existing.Replayable() {
			a.writeError(w, r, err)
			return
		}
		w.Header().Set(replayedHeader, "true")
		writeRawJSON(w, existing.HTTPStatus, existing.ResponseBody)
		return
	default:
		a.writeError(w, r, err)
		return
	}

	// Ключ фиксируется даже при отменённом запросе клиента.
	ctx := context.WithoutCancel(r.Context())
	status, payload, outcome := handle()
	encoded, err := json.Marshal(payload)
	if err != nil {
		a.release(ctx, key)
		a.writeError(w, r, err)
		return
	}
	encoded = append(encoded, '\n')

	switch {
	case outcome == nil:
		err = a.idempotency.MarkDone(ctx, key, encoded, status)
	case domain.IsBusinessError(outcome):
		err = a.idempotency.MarkFailed(ctx, key, encoded, status)
	default:
		a.release(ctx, key)
	}
	if err != nil {
		a.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}

	writeRawJSON(w, status, encoded)
}

func (a *api) release(ctx context.Context, key string) {
	if err := a.idempotency.Release(ctx, key); err != nil {
		a.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key")
	}
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
