package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok, err := s.Get(ctx, "missing")
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

func TestMemoryStore_ExpiresValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_HashOps(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.HSetWithExpire(ctx, "h", map[string]string{"a": "1"}, time.Minute))
	require.NoError(t, s.HSetWithExpire(ctx, "h", map[string]string{"b": "2"}, time.Minute))

	got, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)

	empty, err := s.HGetAll(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore_ListOps(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.ListPushTrimExpire(ctx, "l", string(rune('a'+i)), 3, time.Minute))
	}

	got, err := s.ListRange(ctx, "l")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"e", "d", "c"}, got)
}

func TestMemoryStore_Ping(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, s.Ping(context.Background()))
}

func TestShared(t *testing.T) {
	assert.False(t, Shared(NewMemoryStore()))
}
