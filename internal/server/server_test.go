package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilgate/gateway/internal/cache"
	"github.com/veilgate/gateway/internal/config"
)

func testSettings(upstreamURL string) *config.Settings {
	return &config.Settings{
		JWTSecretKey: "test-secret",
		APIClients: []config.ApiClient{
			{ClientID: "c1", APIKey: "key1", Role: "mobile_app"},
		},
		Policy: config.Policy{
			Cartographer: config.CartographerConfig{OnShadowAPIDiscovered: config.ShadowPolicyLog},
			Proxy:        config.ProxyConfig{UpstreamURL: upstreamURL},
			Auth:         config.AuthConfig{TokenTTLMinutes: 30},
			Anomaly: config.AnomalyConfig{
				ErrorThreshold:           config.DefaultErrorThreshold,
				PathEnumerationThreshold: config.DefaultPathEnumerationThreshold,
			},
			Aggregations: []config.Aggregation{
				{
					PublicPath:   "/bff/home",
					RequiredRole: config.MobileGuestRole,
					Queries: []config.Query{
						{Name: "ping", HTTPMethod: http.MethodGet, BackendURL: upstreamURL + "/ping"},
					},
				},
			},
		},
	}
}

func TestNew_BuildsHandlerWithoutError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	s, err := New(testSettings(upstream.URL), cache.NewMemoryStore(), nil)
	require.NoError(t, err)
	require.NotNil(t, s.Handler())
}

func TestServeHTTP_AggregationRouteFansOutToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pong":true}`))
	}))
	defer upstream.Close()

	s, err := New(testSettings(upstream.URL), cache.NewMemoryStore(), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/bff/home", nil)
	req.Header.Set("x-api-key", "key1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ping"`)
}

func TestServeHTTP_UndocumentedPathIsLoggedNotBlocked(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("upstream-ok"))
	}))
	defer upstream.Close()

	settings := testSettings(upstream.URL)
	s, err := New(settings, cache.NewMemoryStore(), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/widgets/123", nil)
	req.Header.Set("x-api-key", "key1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "upstream-ok", rec.Body.String())
}

func TestServeHTTP_HealthReportsCacheReachability(t *testing.T) {
	s, err := New(testSettings(""), cache.NewMemoryStore(), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}

func TestServeHTTP_MetricsExposesInspectorCounters(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	s, err := New(testSettings(upstream.URL), cache.NewMemoryStore(), nil)
	require.NoError(t, err)

	pipelineReq := httptest.NewRequest(http.MethodGet, "/some/path", nil)
	pipelineReq.Header.Set("x-api-key", "key1")
	s.Handler().ServeHTTP(httptest.NewRecorder(), pipelineReq)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "veilgate_inspector_outcomes_total")
}

func TestServeHTTP_AdminSpecRequiresAdminRole(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	s, err := New(testSettings(upstream.URL), cache.NewMemoryStore(), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/spec", nil)
	req.Header.Set("x-api-key", "key1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
