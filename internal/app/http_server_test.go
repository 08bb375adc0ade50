package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/shopcore/internal/health"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err, url)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestOpsRouter(t *testing.T) {
	health := healthcheck.NewHandler("test")
	health.RegisterChecker("storage", healthcheck.NewPingChecker("postgres", func(context.Context) error { return nil }))
	srv := httptest.NewServer(opsRouter(health))
	defer srv.Close()

	code, body := get(t, srv.URL+"/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get(t, srv.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body)

	code, body = get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	var snap healthcheck.Snapshot
	require.NoError(t, json.Unmarshal([]byte(body), &snap))
	assert.Equal(t, healthcheck.StatusHealthy, snap.Status)
	assert.Equal(t, "test", snap.Version)

	code, body = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "go_goroutines")

	resp, err := http.Post(srv.URL+"/livez", "text/plain", strings.NewReader(""))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestOpsRouterNotReady(t *testing.T) {
	health := healthcheck.NewHandler("test")
	health.RegisterChecker("storage", healthcheck.NewPingChecker("postgres", func(context.Context) error {
		return errors.New("connection refused")
	}))
	health.RegisterChecker("cache", healthcheck.NewOptionalChecker("redis", func(context.Context) error {
		return errors.New("i/o timeout")
	}))
	srv := httptest.NewServer(opsRouter(health))
	defer srv.Close()

	code, body := get(t, srv.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not ready: postgres", body)

	code, _ = get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = get(t, srv.URL+"/livez")
	assert.Equal(t, http.StatusOK, code, "liveness ignores dependencies")
}

func TestStartMetricsServerStopsWithContext(t *testing.T) {
	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())

	startMetricsServer(ctx, addr, log.WithField("test", "ops"), healthcheck.NewHandler("test"))
	require.Eventually(t, func() bool { return dialable(addr) }, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool { return !dialable(addr) }, 2*time.Second, 20*time.Millisecond)
}

func TestStartMetricsServerBusyPort(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// bind падает в фоне и только логируется.
	srv := startMetricsServer(ctx, busy.Addr().String(), log.WithField("test", "ops"), healthcheck.NewHandler("test"))
	assert.NotNil(t, srv)
}

func TestShutdownHTTP(t *testing.T) {
	assert.NotPanics(t, func() { shutdownHTTP(nil, log.WithField("test", "ops")) })

	addr := freeAddr(t)
	srv := &http.Server{Addr: addr, Handler: http.HandlerFunc(healthcheck.LivenessHandler), ReadHeaderTimeout: time.Second}
	go func() { _ = srv.ListenAndServe() }()
	require.Eventually(t, func() bool { return dialable(addr) }, 2*time.Second, 20*time.Millisecond)

	shutdownHTTP(srv, log.WithField("test", "ops"))
	assert.False(t, dialable(addr))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func dialable(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
