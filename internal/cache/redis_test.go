package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "gw:"), mr
}

func TestRedisStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_HSetWithExpireAndTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	require.NoError(t, s.HSetWithExpire(ctx, "h", map[string]string{"a": "1", "b": "2"}, time.Minute))

	got, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)

	ttl := mr.TTL("gw:h")
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisStore_ListPushTrimExpire(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	for _, v := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.ListPushTrimExpire(ctx, "l", v, 3, time.Minute))
	}

	got, err := s.ListRange(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d", "c"}, got)
}

func TestRedisStore_Ping(t *testing.T) {
	s, mr := newTestRedisStore(t)
	assert.NoError(t, s.Ping(context.Background()))

	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}

func TestShared_Redis(t *testing.T) {
	s, _ := newTestRedisStore(t)
	assert.True(t, Shared(s))
}
