package cartographer

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilgate/gateway/internal/config"
)

const testSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "t", "version": "1"},
  "paths": {
    "/users/{id}": {
      "get": {"responses": {"200": {"description": "ok"}}}
    }
  }
}`

func newTestCartographer(t *testing.T, policy config.ShadowAPIPolicy) *Cartographer {
	t.Helper()
	c := New(policy, nil, http.DefaultClient)
	require.NoError(t, c.ReplaceKnown(context.Background(), []byte(testSpec)))
	return c
}

func TestCheck_KnownDoesNotShadow(t *testing.T) {
	c := newTestCartographer(t, config.ShadowPolicyLog)

	err := c.Check("GET", "/users/{id}", "acme", "10.0.0.1", "req-1")
	assert.Nil(t, err)

	_, isShadow := c.shadow.Load(endpointKey("GET", "/users/{id}"))
	assert.False(t, isShadow)
}

func TestCheck_UnknownInsertsShadow_LogPolicy(t *testing.T) {
	c := newTestCartographer(t, config.ShadowPolicyLog)

	err := c.Check("POST", "/unknown", "acme", "10.0.0.1", "req-1")
	assert.Nil(t, err)

	_, isShadow := c.shadow.Load(endpointKey("POST", "/unknown"))
	assert.True(t, isShadow)

	// second call does not error either, and does not duplicate.
	err = c.Check("POST", "/unknown", "acme", "10.0.0.1", "req-2")
	assert.Nil(t, err)
}

func TestCheck_UnknownBlocksWithBlockPolicy(t *testing.T) {
	c := newTestCartographer(t, config.ShadowPolicyBlock)

	err := c.Check("POST", "/unknown", "acme", "10.0.0.1", "req-1")
	require.NotNil(t, err)
	assert.Equal(t, http.StatusNotImplemented, err.Code)

	// subsequent calls to the same shadow endpoint are already in SHADOW, so
	// Check returns nil for them even under block policy; only the first
	// discovery is refused.
}

func TestReplaceKnown_ClearsShadow(t *testing.T) {
	c := newTestCartographer(t, config.ShadowPolicyLog)
	c.Check("POST", "/unknown", "acme", "10.0.0.1", "req-1")

	require.NoError(t, c.ReplaceKnown(context.Background(), []byte(testSpec)))

	_, isShadow := c.shadow.Load(endpointKey("POST", "/unknown"))
	assert.False(t, isShadow)
	assert.Equal(t, 1, c.KnownCount())
}

func TestReplaceKnown_InvalidDoc(t *testing.T) {
	c := New(config.ShadowPolicyLog, nil, http.DefaultClient)
	err := c.ReplaceKnown(context.Background(), []byte("not json or yaml: [["))
	assert.Error(t, err)
}

func TestReplaceKnown_MissingPaths(t *testing.T) {
	c := New(config.ShadowPolicyLog, nil, http.DefaultClient)
	err := c.ReplaceKnown(context.Background(), []byte(`{"openapi":"3.0.0","info":{"title":"t","version":"1"}}`))
	assert.Error(t, err)
}
