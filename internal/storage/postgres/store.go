// Package postgres хранит склад, заказы, купоны, outbox, таймлайн и
// idempotency-ключи в PostgreSQL через database/sql и драйвер pgx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
)

// Таймауты на установку соединения и на один запрос репозитория.
const (
	dialTimeout  = 5 * time.Second
	queryTimeout = 5 * time.Second
)

// Коды SQLSTATE, которые репозитории переводят в доменные ошибки.
const (
	sqlstateUniqueViolation = "23505"
	sqlstateCheckViolation  = "23514"
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

type storeOptions struct {
	appName     string
	maxConns    int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

// Option настраивает пул Store.
type Option func(*storeOptions)

// WithApplicationName задаёт application_name, видимый в pg_stat_activity.
func WithApplicationName(name string) Option {
	return func(o *storeOptions) { o.appName = name }
}

// WithMaxConns ограничивает пул; idle-соединений держится столько же.
func WithMaxConns(n int) Option {
	return func(o *storeOptions) {
		if n > 0 {
			o.maxConns = n
		}
	}
}

// Store — пул соединений к базе shop-service.
type Store struct {
	db *sql.DB
}

// Open разбирает DSN, открывает пул и ждёт ответа базы не дольше dialTimeout.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	o := storeOptions{
		appName:     "shopcore",
		maxConns:    25,
		maxLifetime: 30 * time.Minute,
		maxIdleTime: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}

	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, set := connCfg.RuntimeParams["application_name"]; !set {
		connCfg.RuntimeParams["application_name"] = o.appName
	}

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(o.maxConns)
	db.SetMaxIdleConns(o.maxConns)
	db.SetConnMaxLifetime(o.maxLifetime)
	db.SetConnMaxIdleTime(o.maxIdleTime)

	s := &Store{db: db}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("reach postgres %s:%d: %w", connCfg.Host, connCfg.Port, err)
	}
	return s, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется health-проверкой /readyz.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}

// inTx выполняет fn в транзакции. Ошибка fn или паника откатывают её.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func sqlstate(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool { return sqlstate(err) == sqlstateUniqueViolation }

func isCheckViolation(err error) bool { return sqlstate(err) == sqlstateCheckViolation }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
