package anomaly

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilgate/gateway/internal/cache"
	"github.com/veilgate/gateway/internal/config"
)

func newStore(t *testing.T) cache.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.NewRedisStore(client, "gw:")
}

func TestCheck_BelowThreshold_Passes(t *testing.T) {
	store := newStore(t)
	c := New(store, config.AnomalyConfig{ErrorThreshold: 10, PathEnumerationThreshold: 20})

	err := c.Check(context.Background(), "client-1", "req-1")
	assert.Nil(t, err)
}

func TestCheck_PathVelocityExceeded(t *testing.T) {
	store := newStore(t)
	c := New(store, config.AnomalyConfig{ErrorThreshold: 10, PathEnumerationThreshold: 2})

	for i := 0; i < 3; i++ {
		c.Record(context.Background(), "client-1", false)
	}

	err := c.Check(context.Background(), "client-1", "req-1")
	require.NotNil(t, err)
	assert.Equal(t, 429, err.Code)
}

func TestCheck_ErrorThresholdExceeded(t *testing.T) {
	store := newStore(t)
	c := New(store, config.AnomalyConfig{ErrorThreshold: 1, PathEnumerationThreshold: 100})

	c.Record(context.Background(), "client-1", true)
	c.Record(context.Background(), "client-1", true)

	err := c.Check(context.Background(), "client-1", "req-1")
	require.NotNil(t, err)
	assert.Equal(t, 429, err.Code)
}

func TestCheck_PathVelocityBoundary(t *testing.T) {
	store := newStore(t)
	c := New(store, config.AnomalyConfig{ErrorThreshold: 100, PathEnumerationThreshold: 20})

	// 20 prior requests recorded: the window now holds exactly the
	// threshold's worth of history, so the 21st request (this Check)
	// must be the one that gets blocked, matching spec scenario 5.
	for i := 0; i < 19; i++ {
		err := c.Check(context.Background(), "client-1", "req")
		require.Nil(t, err)
		c.Record(context.Background(), "client-1", false)
	}
	// 19 recorded so far; one more check+record reaches 20 recorded.
	err := c.Check(context.Background(), "client-1", "req-20")
	require.Nil(t, err)
	c.Record(context.Background(), "client-1", false)

	err = c.Check(context.Background(), "client-1", "req-21")
	require.NotNil(t, err, "the 21st request must be blocked once 20 prior requests are on record")
	assert.Equal(t, 429, err.Code)
}

func TestCheck_DefaultsApplied(t *testing.T) {
	store := newStore(t)
	c := New(store, config.AnomalyConfig{})
	assert.Equal(t, config.DefaultErrorThreshold, c.errorThreshold)
	assert.Equal(t, config.DefaultPathEnumerationThreshold, c.pathThreshold)
}

func TestCheck_EmptyClientID_Passes(t *testing.T) {
	store := newStore(t)
	c := New(store, config.AnomalyConfig{})
	err := c.Check(context.Background(), "", "req-1")
	assert.Nil(t, err)
}
