package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

const (
	// Живой ключ upsert не трогает: RETURNING тогда пуст, и вызывающий читает держателя.
	sqlIdemClaim = `
		INSERT INTO idempotency_keys AS k
			(key, request_hash, status, ttl_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE SET
			request_hash  = EXCLUDED.request_hash,
			status        = EXCLUDED.status,
			response_body = NULL,
			http_status   = NULL,
			ttl_at        = EXCLUDED.ttl_at,
			created_at    = EXCLUDED.created_at,
			updated_at    = EXCLUDED.updated_at
		WHERE k.ttl_at <= EXCLUDED.created_at
		RETURNING k.key`

	sqlIdemSelect = `
		SELECT key, request_hash, status, response_body, http_status, ttl_at, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1`

	sqlIdemFinish = `
		UPDATE idempotency_keys
		SET status = $2, response_body = $3, http_status = $4, updated_at = $5
		WHERE key = $1`

	sqlIdemRelease = `DELETE FROM idempotency_keys WHERE key = $1 AND status = 'processing'`

	sqlIdemPurgeAll = `DELETE FROM idempotency_keys WHERE ttl_at <= $1`

	// Лимитированная чистка идёт от самых старых ключей, как и in-memory вариант.
	sqlIdemPurgeBatch = `
		WITH victims AS (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
		)
		DELETE FROM idempotency_keys k USING victims v
		WHERE k.key = v.key`
)

// IdempotencyRepository — таблица idempotency_keys.
type IdempotencyRepository struct {
	store *Store
	now   func() time.Time
}

func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{store: store, now: time.Now}
}

// CreateProcessing занимает свободный или просроченный ключ. Если ключ жив,
// возвращается его держатель и ошибка из IdempotencyRecord.Conflict.
func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	claim, err := domain.NewIdempotencyRecord(key, requestHash, ttlAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	qctx, cancel := withTimeout(ctx)
	var claimed string
	err = r.store.DB().QueryRowContext(qctx, sqlIdemClaim,
		claim.Key, claim.RequestHash, string(claim.Status), claim.TTLAt, claim.CreatedAt,
	).Scan(&claimed)
	cancel()

	switch {
	case err == nil:
		return claim, nil
	case !errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key %s: %w", claim.Key, err)
	}

	holder, err := r.Get(ctx, claim.Key)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("read idempotency key holder: %w", err)
	}
	return holder, holder.Conflict(claim.RequestHash)
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rec, err := scanIdempotency(r.store.DB().QueryRowContext(ctx, sqlIdemSelect, key))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("read idempotency key %s: %w", key, err)
	}
	return rec, nil
}

func scanIdempotency(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		rec    domain.IdempotencyRecord
		status string
		code   sql.NullInt32
	)
	if err := row.Scan(&rec.Key, &rec.RequestHash, &status, &rec.ResponseBody, &code, &rec.TTLAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	rec.Status = domain.IdempotencyStatus(status)
	if !rec.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("unknown idempotency status %q", status)
	}
	rec.HTTPStatus = int(code.Int32)
	return rec, nil
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (r *IdempotencyRepository) finish(ctx context.Context, key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	if key = strings.TrimSpace(key); key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if !status.Final() {
		return domain.ErrIdempotencyStatusInvalid
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.store.DB().ExecContext(ctx, sqlIdemFinish, key, string(status), body, httpStatus, r.now().UTC())
	if err != nil {
		return fmt.Errorf("finish idempotency key %s as %s: %w", key, status, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("finish idempotency key %s: %w", key, err)
	} else if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	if key = strings.TrimSpace(key); key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.store.DB().ExecContext(ctx, sqlIdemRelease, key)
	if err != nil {
		return fmt.Errorf("release idempotency key %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("release idempotency key %s: %w", key, err)
	} else if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

// DeleteExpired удаляет ключи с ttl_at <= before; limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now().UTC()
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query, args := sqlIdemPurgeAll, []any{before}
	if limit > 0 {
		query, args = sqlIdemPurgeBatch, []any{before, limit}
	}
	res, err := r.store.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge expired idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired idempotency keys: %w", err)
	}
	return int(n), nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
