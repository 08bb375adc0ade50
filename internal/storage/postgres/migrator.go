package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	migrationsDir = "sql/migrations"
	// Ключ pg_advisory_lock, общий для всех экземпляров shop-service и cmd/migrate.
	migrationLockKey = int64(0x5E0C0DE)
	schemaLockWait   = 5 * time.Second

	sqlSchemaTable = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    BIGINT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	sqlSchemaApplied = `SELECT version FROM schema_migrations ORDER BY version`
	sqlSchemaRecord  = `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`
	sqlSchemaForget  = `DELETE FROM schema_migrations WHERE version = $1`
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

// 0003_outbox.up.sql -> версия 3, имя outbox, направление up.
var migrationName = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)

// Migration — версия схемы со скриптами наката и отката.
type Migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m Migration) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrationStatus — версия схемы, число применённых и ожидающие миграции.
type MigrationStatus struct {
	Version int64
	Applied int
	Pending []Migration
}

// Migrations возвращает встроенные миграции по возрастанию версии.
func Migrations() ([]Migration, error) {
	return loadMigrations(migrationsFS)
}

// migrationStep — одна миграция в одном направлении.
type migrationStep struct {
	Migration
	up bool
}

func (s migrationStep) script() string {
	if s.up {
		return s.UpSQL
	}
	return s.DownSQL
}

func (s migrationStep) direction() string {
	if s.up {
		return "up"
	}
	return "down"
}

// planUp выбирает до steps неприменённых миграций по возрастанию; steps <= 0 — все.
func planUp(all []Migration, applied []int64, steps int) []migrationStep {
	var plan []migrationStep
	for _, m := range all {
		if steps > 0 && len(plan) == steps {
			break
		}
		if !slices.Contains(applied, m.Version) {
			plan = append(plan, migrationStep{Migration: m, up: true})
		}
	}
	return plan
}

// planDown откатывает steps последних применённых версий; steps <= 0 — одну.
// Применённая версия без скрипта в бинаре делает откат невозможным.
func planDown(all []Migration, applied []int64, steps int) ([]migrationStep, error) {
	steps = max(steps, 1)
	latest := slices.Clone(applied)
	slices.SortFunc(latest, func(a, b int64) int { return cmp.Compare(b, a) })

	var plan []migrationStep
	for _, v := range latest[:min(steps, len(latest))] {
		i := slices.IndexFunc(all, func(m Migration) bool { return m.Version == v })
		if i < 0 {
			return nil, fmt.Errorf("applied migration %d is unknown to this build", v)
		}
		plan = append(plan, migrationStep{Migration: all[i]})
	}
	return plan, nil
}

func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, func(all []Migration, applied []int64) ([]migrationStep, error) {
		return planUp(all, applied, steps), nil
	})
}

func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return s.migrate(ctx, func(all []Migration, applied []int64) ([]migrationStep, error) {
		return planDown(all, applied, steps)
	})
}

// migrate строит план под advisory-блокировкой и выполняет его по шагу в транзакции.
func (s *Store) migrate(ctx context.Context, plan func(all []Migration, applied []int64) ([]migrationStep, error)) error {
	return s.withSchema(ctx, true, func(conn *sql.Conn, all []Migration, applied []int64) error {
		steps, err := plan(all, applied)
		if err != nil {
			return err
		}
		for _, step := range steps {
			if err := applyStep(ctx, conn, step); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Status(ctx context.Context) (MigrationStatus, error) {
	var status MigrationStatus
	err := s.withSchema(ctx, false, func(_ *sql.Conn, all []Migration, applied []int64) error {
		status.Applied = len(applied)
		if len(applied) > 0 {
			status.Version = slices.Max(applied)
		}
		for _, step := range planUp(all, applied, 0) {
			status.Pending = append(status.Pending, step.Migration)
		}
		return nil
	})
	return status, err
}

// withSchema выделяет соединение, создаёт schema_migrations и читает применённые
// версии. С exclusive держит блокировку миграций, пока работает fn.
func (s *Store) withSchema(ctx context.Context, exclusive bool, fn func(conn *sql.Conn, all []Migration, applied []int64) error) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	all, err := Migrations()
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire schema connection: %w", err)
	}
	defer conn.Close()

	if exclusive {
		waitCtx, cancel := context.WithTimeout(ctx, schemaLockWait)
		_, err := conn.ExecContext(waitCtx, `SELECT pg_advisory_lock($1)`, migrationLockKey)
		cancel()
		if err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		defer func() {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
		}()
	}

	if _, err := conn.ExecContext(ctx, sqlSchemaTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}
	return fn(conn, all, applied)
}

func applyStep(ctx context.Context, conn *sql.Conn, step migrationStep) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %s %s: begin: %w", step, step.direction(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, step.script()); err != nil {
		return fmt.Errorf("migration %s %s: %w", step, step.direction(), err)
	}
	if step.up {
		_, err = tx.ExecContext(ctx, sqlSchemaRecord, step.Version, step.Name)
	} else {
		_, err = tx.ExecContext(ctx, sqlSchemaForget, step.Version)
	}
	if err != nil {
		return fmt.Errorf("migration %s %s: bookkeeping: %w", step, step.direction(), err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("migration %s %s: commit: %w", step, step.direction(), err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) ([]int64, error) {
	rows, err := conn.QueryContext(ctx, sqlSchemaApplied)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("read schema_migrations: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// loadMigrations собирает пары up/down из каталога sql/migrations.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", migrationsDir, err)
	}

	var set []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file := entry.Name()
		parts := migrationName.FindStringSubmatch(file)
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name %q", file)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %s: version: %w", file, err)
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, file))
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", file, err)
		}
		script := strings.TrimSpace(string(raw))
		if script == "" {
			return nil, fmt.Errorf("migration %s is empty", file)
		}

		i := slices.IndexFunc(set, func(m Migration) bool { return m.Version == version })
		if i < 0 {
			set = append(set, Migration{Version: version, Name: parts[2]})
			i = len(set) - 1
		}
		m := &set[i]
		if m.Name != parts[2] {
			return nil, fmt.Errorf("migration %d: name mismatch %q vs %q", version, m.Name, parts[2])
		}
		slot := &m.UpSQL
		if parts[3] == "down" {
			slot = &m.DownSQL
		}
		if *slot != "" {
			return nil, fmt.Errorf("migration %d: duplicate %s script", version, parts[3])
		}
		*slot = script
	}

	if len(set) == 0 {
		return nil, errors.New("no migrations found")
	}
	for _, m := range set {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s needs both up and down scripts", m)
		}
	}
	slices.SortFunc(set, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return set, nil
}
