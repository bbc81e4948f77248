package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	counts map[string]int
	err    error
}

func (f *fakeRedis) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	count := f.counts[key]
	f.counts[key] = count + 1
	return count < limit, count, nil
}

func TestLocalLimiter_KeysAreIndependent(t *testing.T) {
	limiter, err := NewLocalLimiter(Config{MaxRequests: 2, Window: time.Minute, Enabled: true})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "radicale:cal.example.com")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, _ := limiter.Allow(ctx, "radicale:cal.example.com")
	assert.False(t, ok)

	ok, _ = limiter.Allow(ctx, "nextcloud:cloud.example.com")
	assert.True(t, ok)
	assert.Equal(t, 2, limiter.ActiveKeys())
}

func TestLocalLimiter_Cleanup(t *testing.T) {
	limiter, err := NewLocalLimiter(Config{MaxRequests: 1, Enabled: true, CleanupPeriod: time.Millisecond})
	require.NoError(t, err)

	_, _ = limiter.Allow(context.Background(), "a")
	time.Sleep(5 * time.Millisecond)
	_, _ = limiter.Allow(context.Background(), "b")

	assert.Equal(t, 1, limiter.ActiveKeys())
}

func TestDistributedLimiter(t *testing.T) {
	redis := &fakeRedis{counts: map[string]int{}}
	limiter, err := NewDistributedLimiter(Config{MaxRequests: 1, Enabled: true, Type: BackendRedis}, redis)
	require.NoError(t, err)

	ok, err := limiter.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = limiter.Allow(context.Background(), "k")
	assert.False(t, ok)
	assert.Equal(t, 2, redis.counts["calsync:ratelimit:k"])

	redis.err = errors.New("redis down")
	_, err = limiter.Allow(context.Background(), "k")
	assert.Error(t, err)

	_, err = NewDistributedLimiter(Config{MaxRequests: 1, Enabled: true, Type: BackendRedis}, nil)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	l, err := New(Config{Enabled: false}, nil)
	require.NoError(t, err)
	assert.IsType(t, Unlimited{}, l)

	l, err = New(Config{MaxRequests: 6, Enabled: true}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalLimiter{}, l)

	_, err = New(Config{MaxRequests: 0, Enabled: true}, nil)
	assert.Error(t, err)

	_, err = New(Config{MaxRequests: 1, Enabled: true, Type: "memcached"}, nil)
	assert.Error(t, err)
}
