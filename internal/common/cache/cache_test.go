package cache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client, "test:"), mr
}

func exerciseCache(t *testing.T, c Cache) {
	ctx := context.Background()

	_, found, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "discovery:caldav:alice@a.example", []byte(`{"a":1}`), time.Minute))
	require.NoError(t, c.Set(ctx, "discovery:google:bob@b.example", []byte(`{"b":2}`), time.Minute))
	require.NoError(t, c.Set(ctx, "other:key", []byte("x"), time.Minute))

	val, found, err := c.Get(ctx, "discovery:caldav:alice@a.example")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"a":1}`, string(val))

	keys, err := c.Keys(ctx, "discovery:")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"discovery:caldav:alice@a.example", "discovery:google:bob@b.example"}, keys)

	require.NoError(t, c.Delete(ctx, "discovery:caldav:alice@a.example"))
	_, found, _ = c.Get(ctx, "discovery:caldav:alice@a.example")
	assert.False(t, found)

	require.NoError(t, c.Clear(ctx))
	keys, err = c.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLocalCache(t *testing.T) {
	exerciseCache(t, NewLocalCache(time.Minute, time.Minute))
}

func TestLocalCache_CopiesValue(t *testing.T) {
	c := NewLocalCache(time.Minute, time.Minute)
	buf := []byte("abc")
	require.NoError(t, c.Set(context.Background(), "k", buf, time.Minute))
	buf[0] = 'z'

	val, _, _ := c.Get(context.Background(), "k")
	assert.Equal(t, "abc", string(val))
}

func TestRedisCache(t *testing.T) {
	c, _ := newRedisCache(t)
	exerciseCache(t, c)
}

func TestRedisCache_TTL(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNew(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, &LocalCache{}, c)

	_, err = New(Config{Type: TypeRedis})
	assert.Error(t, err)

	_, err = New(Config{Type: "memcached"})
	assert.Error(t, err)
}
