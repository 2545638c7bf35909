package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilgate/gateway/internal/cartographer"
	"github.com/veilgate/gateway/internal/config"
	"github.com/veilgate/gateway/internal/reqctx"
)

const validSpec = `
openapi: 3.0.0
info:
  title: test
  version: "1"
paths:
  /widgets:
    get:
      responses:
        '200':
          description: ok
`

func withRole(req *http.Request, role string) *http.Request {
	ctx, state := reqctx.New(req.Context())
	state.Client = &config.ApiClient{ClientID: "admin1", Role: role}
	return req.WithContext(ctx)
}

func TestServeHTTP_NonAdminForbidden(t *testing.T) {
	cg := cartographer.New(config.ShadowPolicyLog, nil, nil)
	h := New(cg, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/spec", strings.NewReader(validSpec))
	req = withRole(req, "mobile_app")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, cg.KnownCount())
}

func TestServeHTTP_ValidSpecReplacesKnown(t *testing.T) {
	cg := cartographer.New(config.ShadowPolicyLog, nil, nil)
	h := New(cg, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/spec", strings.NewReader(validSpec))
	req = withRole(req, "admin")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, cg.KnownCount())
	assert.Contains(t, rec.Body.String(), `"known_endpoints":1`)
}

func TestServeHTTP_MalformedSpecIsBadRequest(t *testing.T) {
	cg := cartographer.New(config.ShadowPolicyLog, nil, nil)
	h := New(cg, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/spec", strings.NewReader("not an openapi doc {{{"))
	req = withRole(req, "admin")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTP_EmptyBodyIsBadRequest(t *testing.T) {
	cg := cartographer.New(config.ShadowPolicyLog, nil, nil)
	h := New(cg, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/spec", strings.NewReader(""))
	req = withRole(req, "admin")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
