package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultIdempotencyTTL — срок жизни ключа checkout, если вызывающий его не задал.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus — стадия обработки checkout-запроса с Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

// Valid проверяет, что статус известен.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Final сообщает, что ответ по ключу зафиксирован и его можно отдавать повторно.
func (s IdempotencyStatus) Final() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

var (
	ErrIdempotencyKeyRequired         = fmt.Errorf("%w: idempotency key is required", ErrValidation)
	ErrIdempotencyRequestHashRequired = fmt.Errorf("%w: idempotency request hash is required", ErrValidation)
	ErrIdempotencyStatusInvalid       = fmt.Errorf("%w: idempotency status must be done or failed", ErrValidation)
	ErrIdempotencyKeyNotFound         = fmt.Errorf("idempotency key %w", ErrNotFound)
	// ErrIdempotencyKeyAlreadyExists — запрос с этим ключом уже принят.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// IdempotencyRecord — сохранённый результат checkout по ключу Idempotency-Key.
// RequestHash защищает ключ от повторного использования с другим заказом.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewIdempotencyRecord занимает ключ в статусе processing. Нулевой ttlAt
// заменяется на now + DefaultIdempotencyTTL.
func NewIdempotencyRecord(key, requestHash string, ttlAt, now time.Time) (IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return IdempotencyRecord{}, ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}
	now = now.UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(DefaultIdempotencyTTL)
	}
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Expired сообщает, что ключ можно занять заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// Replayable сообщает, что сохранённый ответ можно вернуть клиенту вместо повторного checkout.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status.Final() && r.HTTPStatus > 0 && len(r.ResponseBody) > 0
}

// Conflict объясняет, почему ключ нельзя занять запросом с хэшем requestHash.
func (r IdempotencyRecord) Conflict(requestHash string) error {
	if r.RequestHash != strings.TrimSpace(requestHash) {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}

// Finish фиксирует ответ. Тело копируется, запись-источник не меняется.
func (r IdempotencyRecord) Finish(status IdempotencyStatus, body []byte, httpStatus int, now time.Time) (IdempotencyRecord, error) {
	if !status.Final() {
		return r, ErrIdempotencyStatusInvalid
	}
	r.Status = status
	r.ResponseBody = append([]byte(nil), body...)
	r.HTTPStatus = httpStatus
	r.UpdatedAt = now.UTC()
	return r, nil
}
