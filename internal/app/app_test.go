package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"calsync/internal/common/cache"
	"calsync/internal/common/ratelimit"
	"calsync/internal/config"
	"calsync/internal/locks"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Load()
	cfg.DatabaseType = "memory"
	cfg.CacheBackend = "local"
	cfg.EncryptionKey = ""
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNew_Local(t *testing.T) {
	app, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)

	assert.Nil(t, app.Redis)
	assert.IsType(t, &cache.LocalCache{}, app.Cache)
	assert.IsType(t, &ratelimit.LocalLimiter{}, app.Limiter)
	assert.IsType(t, &locks.Local{}, app.Locks)
	assert.Equal(t, []string{"discovery-cache-sweep", "health-checks"}, app.Scheduler.Jobs())

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, app.Shutdown(context.Background()))
}

func TestNew_HealthChecksDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.HealthChecksEnabled = false

	app, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)
	assert.Equal(t, []string{"discovery-cache-sweep"}, app.Scheduler.Jobs())
}

func TestNew_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.CacheBackend = "redis"
	cfg.RedisAddress = mr.Addr()
	cfg.ValidationProbeRate = 1

	app, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)

	require.NotNil(t, app.Redis)
	assert.IsType(t, &cache.RedisCache{}, app.Cache)
	assert.IsType(t, &ratelimit.DistributedLimiter{}, app.Limiter)
	assert.IsType(t, &locks.Redsync{}, app.Locks)

	ctx := context.Background()
	require.NoError(t, app.Cache.Set(ctx, "discovery:x", []byte("[]"), 0))
	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "calsync:"))

	allowed, err := app.Limiter.Allow(ctx, "radicale:dav.example.com")
	require.NoError(t, err)
	assert.True(t, allowed)
	allowed, err = app.Limiter.Allow(ctx, "radicale:dav.example.com")
	require.NoError(t, err)
	assert.False(t, allowed, "second probe in the window exceeds the budget")
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheBackend = "redis"
	cfg.RedisAddress = "127.0.0.1:1"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_UnknownDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabaseType = "oracle"

	_, err := New(cfg)
	assert.Error(t, err)
}
