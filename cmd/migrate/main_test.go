package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcore/internal/storage/postgres"
)

type recordingSchema struct {
	calls  []string
	steps  int
	err    error
	status postgres.MigrationStatus
}

func (s *recordingSchema) MigrateUp(_ context.Context, steps int) error {
	s.calls, s.steps = append(s.calls, "up"), steps
	return s.err
}

func (s *recordingSchema) MigrateDown(_ context.Context, steps int) error {
	s.calls, s.steps = append(s.calls, "down"), steps
	return s.err
}

func (s *recordingSchema) Status(context.Context) (postgres.MigrationStatus, error) {
	s.calls = append(s.calls, "status")
	return s.status, nil
}

func noEnv(string) string { return "" }

func TestParseArgs(t *testing.T) {
	inv, err := parseArgs([]string{"-dsn= postgres://x ", "-steps=2", "UP"}, noEnv)
	require.NoError(t, err)
	assert.Equal(t, invocation{cmd: cmdUp, dsn: "postgres://x", steps: 2, timeout: 30 * time.Second}, inv)

	inv, err = parseArgs([]string{"down"}, func(key string) string {
		if key == envPostgresDSN {
			return "postgres://env"
		}
		return ""
	})
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", inv.dsn)
	assert.Equal(t, 1, inv.steps, "down rolls back one migration by default")
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{args: nil, want: "exactly one command"},
		{args: []string{"up", "down"}, want: "exactly one command"},
		{args: []string{"sideways"}, want: "unknown command"},
		{args: []string{"-steps=-1", "up"}, want: "must not be negative"},
		{args: []string{"-timeout=0s", "status"}, want: "timeout must be positive"},
		{args: []string{"status"}, want: "DSN is required"},
		{args: []string{"-bogus", "up"}, want: "flag provided but not defined"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			_, err := parseArgs(tc.args, noEnv)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestExecute(t *testing.T) {
	status := postgres.MigrationStatus{
		Version: 2,
		Applied: 2,
		Pending: []postgres.Migration{{Version: 3, Name: "coupons"}},
	}

	db := &recordingSchema{status: status}
	var out bytes.Buffer
	require.NoError(t, execute(context.Background(), db, invocation{cmd: cmdDown, steps: 1}, &out))
	assert.Equal(t, []string{"down", "status"}, db.calls)
	assert.Equal(t, 1, db.steps)
	assert.Contains(t, out.String(), "schema version  2")
	assert.Contains(t, out.String(), "0003_coupons")

	db = &recordingSchema{}
	require.NoError(t, execute(context.Background(), db, invocation{cmd: cmdStatus}, &bytes.Buffer{}))
	assert.Equal(t, []string{"status"}, db.calls)
}

func TestExecuteStopsOnFailure(t *testing.T) {
	db := &recordingSchema{err: errors.New("lock timeout")}

	err := execute(context.Background(), db, invocation{cmd: cmdUp}, &bytes.Buffer{})
	require.ErrorContains(t, err, "up: lock timeout")
	assert.Equal(t, []string{"up"}, db.calls, "status is not printed after a failed migration")
}

func TestExecuteAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("SHOP_POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("SHOP_POSTGRES_TEST_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	var out bytes.Buffer
	for _, cmd := range []command{cmdUp, cmdDown, cmdUp, cmdStatus} {
		out.Reset()
		steps := 0
		if cmd == cmdDown {
			steps = 1
		}
		require.NoError(t, execute(ctx, store, invocation{cmd: cmd, steps: steps}, &out), cmd)
	}
	assert.Contains(t, out.String(), "pending         0")
}
