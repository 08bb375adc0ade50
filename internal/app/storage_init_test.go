package app

import (
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRuntimeDependenciesMemory(t *testing.T) {
	t.Parallel()
	logger := log.WithField("test", "storage")

	for _, driver := range []string{"", " Memory ", StorageDriverMemory} {
		rt, err := initRuntimeDependencies(context.Background(), Config{StorageDriver: driver}, logger)
		require.NoError(t, err, driver)

		assert.NotNil(t, rt.stockRepo)
		assert.NotNil(t, rt.couponRepo)
		assert.NotNil(t, rt.repo)
		assert.NotNil(t, rt.directory)
		assert.NotNil(t, rt.outboxRepo)
		assert.NotNil(t, rt.timelineRepo)
		assert.NotNil(t, rt.idempotencyRepo)
		assert.Nil(t, rt.storageChecker, "nothing to ping in memory")
		rt.close(logger)
	}
}

func TestInitRuntimeDependenciesErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cfg  Config
		want string
	}{
		{cfg: Config{StorageDriver: "sqlite"}, want: `unsupported storage driver "sqlite"`},
		{cfg: Config{StorageDriver: StorageDriverPostgres, PostgresDSN: "  "}, want: "storage postgres: SHOP_POSTGRES_DSN is required"},
	}
	for _, tc := range tests {
		_, err := initRuntimeDependencies(context.Background(), tc.cfg, log.WithField("test", "storage"))
		require.EqualError(t, err, tc.want)
	}
}

func TestRuntimeDependenciesClose(t *testing.T) {
	var nilDeps *runtimeDependencies
	assert.NotPanics(t, func() { nilDeps.close(log.WithField("test", "storage")) })

	closed := 0
	rt := &runtimeDependencies{closeFn: func() error {
		closed++
		return errors.New("already closed")
	}}
	rt.close(log.WithField("test", "storage"))
	assert.Equal(t, 1, closed)
}
