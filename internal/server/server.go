// Package server wires every inspector, the proxy, the aggregation
// endpoints, and the admin/auth/health surfaces into one http.Handler,
// assembled in the fixed order the inspection pipeline requires.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/veilgate/gateway/internal/admin"
	"github.com/veilgate/gateway/internal/aggregate"
	"github.com/veilgate/gateway/internal/audit"
	"github.com/veilgate/gateway/internal/cache"
	"github.com/veilgate/gateway/internal/cartographer"
	"github.com/veilgate/gateway/internal/config"
	"github.com/veilgate/gateway/internal/errors"
	"github.com/veilgate/gateway/internal/health"
	"github.com/veilgate/gateway/internal/identity"
	"github.com/veilgate/gateway/internal/inspect/anomaly"
	"github.com/veilgate/gateway/internal/inspect/authz"
	"github.com/veilgate/gateway/internal/inspect/payload"
	"github.com/veilgate/gateway/internal/inspect/profiler"
	"github.com/veilgate/gateway/internal/inspect/threatintel"
	"github.com/veilgate/gateway/internal/metrics"
	"github.com/veilgate/gateway/internal/middleware"
	"github.com/veilgate/gateway/internal/proxy"
	"github.com/veilgate/gateway/internal/redact"
	"github.com/veilgate/gateway/internal/reqctx"
)

// Server owns every component of the request pipeline and exposes the
// single http.Handler the listener serves.
type Server struct {
	cartographer *cartographer.Cartographer
	identity     *identity.Resolver
	payload      *payload.Inspector
	threatIntel  *threatintel.Checker
	profiler     *profiler.Profiler
	authz        *authz.Enforcer
	anomaly      *anomaly.Counters
	proxy        *proxy.Proxy
	purifier     *redact.Purifier
	admin        *admin.Handler
	health       *health.Checker
	store        cache.Store
	auditor      *audit.Logger
	metrics      *metrics.Collector

	watcher *cartographer.Watcher
	router  *httprouter.Router
}

// New builds every component from a loaded Settings and wires them into
// one router. Registering the aggregation hosts with the health checker
// starts a check loop for each of them; the cartographer's boot load and
// optional file watch are left to Bootstrap.
func New(settings *config.Settings, store cache.Store, auditor *audit.Logger) (*Server, error) {
	collector := metrics.NewCollector()
	instrumentedStore := collector.InstrumentStore("shared", store)

	cg := cartographer.New(settings.Policy.Cartographer.OnShadowAPIDiscovered, auditor, nil)

	payloadInsp, err := payload.New(settings.Policy.InspectionRules, settings.Policy.Schemas, auditor)
	if err != nil {
		return nil, err
	}

	purifier := redact.New(settings.Policy.PiiPolicies, redact.NewPatternRecognizer(), auditor)
	proxyLeg, err := proxy.New(settings.Policy.Proxy, purifier)
	if err != nil {
		return nil, err
	}

	checker := health.NewChecker(health.DefaultConfig)
	for _, host := range aggregationBackendHosts(settings.Policy.Aggregations) {
		checker.AddBackend(health.Backend{
			URL:        host,
			HealthPath: "/",
			// Reachability, not correctness: any response at all (even a
			// 404 from a backend with no root route) means the host is
			// up. Only a connection failure or a 5xx counts as down.
			ExpectedStatus: []health.StatusRange{{Lo: 100, Hi: 499}},
		})
	}

	s := &Server{
		cartographer: cg,
		identity:     identity.NewResolver(settings),
		payload:      payloadInsp,
		threatIntel:  threatintel.New(settings.Policy.ThreatIntel, auditor),
		profiler:     profiler.New(instrumentedStore, settings.Policy.Profiler, auditor),
		authz:        authz.New(settings.Policy.AuthPolicies),
		anomaly:      anomaly.New(instrumentedStore, settings.Policy.Anomaly),
		proxy:        proxyLeg,
		purifier:     purifier,
		admin:        admin.New(cg, auditor),
		health:       checker,
		store:        instrumentedStore,
		auditor:      auditor,
		metrics:      collector,
	}

	s.router = s.buildRouter(settings)
	return s, nil
}

// Bootstrap loads the cartographer's initial KNOWN set, starts the
// upstream health checker, and, if a local OpenAPI file is configured,
// starts watching it for changes.
func (s *Server) Bootstrap(ctx context.Context, cg config.CartographerConfig) error {
	s.health.Start()

	switch {
	case cg.OpenAPIFile != "":
		if err := s.cartographer.LoadFromFile(ctx, cg.OpenAPIFile); err != nil {
			return err
		}
		w, err := cartographer.NewWatcher(cg.OpenAPIFile, s.cartographer)
		if err != nil {
			return err
		}
		w.Start(ctx)
		s.watcher = w
	case cg.OpenAPIURL != "":
		if err := s.cartographer.LoadFromURL(ctx, cg.OpenAPIURL); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops the background health checker. The OpenAPI file watcher
// stops when the context passed to Bootstrap is cancelled.
func (s *Server) Shutdown() {
	s.health.Stop()
}

// Handler returns the assembled http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(settings *config.Settings) *httprouter.Router {
	r := httprouter.New()

	chain := middleware.NewChain(middleware.RequestID(), middleware.Recovery())

	r.Handler(http.MethodPost, "/auth/login",
		chain.Append(s.authenticate).ThenFunc(identity.LoginHandler(s.identity, http.DefaultClient, settings.Policy.Auth.LoginBackendURL).ServeHTTP))
	r.Handler(http.MethodPost, "/auth/refresh",
		chain.Append(s.authenticate).ThenFunc(identity.RefreshHandler(s.identity).ServeHTTP))
	r.Handler(http.MethodPost, "/admin/spec",
		chain.Append(s.authenticate).ThenFunc(s.admin.ServeHTTP))
	r.Handler(http.MethodGet, "/health", chain.ThenFunc(s.serveHealth))
	r.Handler(http.MethodGet, "/metrics", chain.Then(s.metrics.Handler()))

	for _, def := range settings.Policy.Aggregations {
		ep := aggregate.New(def, s.store)
		ep.OnBackendError = s.metrics.RecordAggregationError
		wrapped := chain.Append(s.authenticate).ThenFunc(func(w http.ResponseWriter, req *http.Request) {
			params := httprouter.ParamsFromContext(req.Context())
			pathParams := make(map[string]string, len(params))
			for _, p := range params {
				pathParams[p.Key] = p.Value
			}
			ep.ServeHTTP(w, req, pathParams)
		})
		r.Handler(http.MethodGet, def.PublicPath, wrapped)
		r.Handler(http.MethodPost, def.PublicPath, wrapped)
	}

	r.NotFound = chain.Append(s.authenticate).ThenFunc(s.servePipeline)
	return r
}

// aggregationBackendHosts returns the distinct scheme://host origins
// referenced by any aggregation query's backend_url, matching the
// original health check's union of urlparse(query.backend_url).netloc
// across every configured aggregation.
func aggregationBackendHosts(aggregations []config.Aggregation) []string {
	seen := map[string]bool{}
	var hosts []string
	for _, agg := range aggregations {
		for _, q := range agg.Queries {
			u, err := url.Parse(q.BackendURL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				continue
			}
			origin := u.Scheme + "://" + u.Host
			if seen[origin] {
				continue
			}
			seen[origin] = true
			hosts = append(hosts, origin)
		}
	}
	return hosts
}

// authenticate resolves the calling ApiClient and the caller's JWT claims
// and stores both on the request's reqctx.State before continuing.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		state := reqctx.From(req)

		client, gwErr := s.identity.ResolveClient(req, state.PeerAddr)
		if gwErr != nil {
			gwErr.WithRequestID(state.RequestID).WriteJSON(w)
			return
		}
		state.Client = client

		claims, gwErr := s.identity.ResolveUser(req)
		if gwErr != nil {
			gwErr.WithRequestID(state.RequestID).WriteJSON(w)
			return
		}
		state.Claims = claims

		next.ServeHTTP(w, req)
	})
}

// servePipeline runs every request-scoped inspector, in the fixed order
// the gateway's threat model requires, before handing the request to the
// catch-all reverse proxy leg.
func (s *Server) servePipeline(w http.ResponseWriter, req *http.Request) {
	state := reqctx.From(req)
	ctx := req.Context()
	clientID := state.ClientID()

	fail := func(inspector string, gwErr *errors.GatewayError) {
		s.metrics.RecordInspector(inspector, true)
		gwErr.WithRequestID(state.RequestID).WriteJSON(w)
		s.anomaly.Record(ctx, clientID, true)
	}

	if gwErr := s.cartographer.Check(req.Method, req.URL.Path, clientID, state.PeerAddr, state.RequestID); gwErr != nil {
		fail("cartographer", gwErr)
		return
	}
	s.metrics.RecordInspector("cartographer", false)

	rawBody, err := io.ReadAll(req.Body)
	if err != nil {
		fail("payload", errors.ErrBadRequest.WithDetails("could not read request body"))
		return
	}
	req.Body = io.NopCloser(bytes.NewReader(rawBody))

	if gwErr := s.payload.Inspect(req, rawBody, state.RequestID); gwErr != nil {
		fail("payload", gwErr)
		return
	}
	s.metrics.RecordInspector("payload", false)

	if gwErr := s.threatIntel.Check(ctx, state.PeerAddr, state.RequestID); gwErr != nil {
		fail("threat_intel", gwErr)
		return
	}
	s.metrics.RecordInspector("threat_intel", false)

	if gwErr := s.profiler.Check(ctx, req, clientID, state.PeerAddr, state.RequestID); gwErr != nil {
		fail("profiler", gwErr)
		return
	}
	s.metrics.RecordInspector("profiler", false)

	if gwErr := s.authz.Check(req, state.Role(), state.Claims, state.RequestID); gwErr != nil {
		fail("authz", gwErr)
		return
	}
	s.metrics.RecordInspector("authz", false)

	if gwErr := s.anomaly.Check(ctx, clientID, state.RequestID); gwErr != nil {
		s.metrics.RecordInspector("anomaly", true)
		gwErr.WithRequestID(state.RequestID).WriteJSON(w)
		return
	}
	s.metrics.RecordInspector("anomaly", false)

	req.Body = io.NopCloser(bytes.NewReader(rawBody))
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.proxy.ServeHTTP(rec, req)
	s.anomaly.Record(ctx, clientID, rec.status >= http.StatusBadRequest)
}

func (s *Server) serveHealth(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	healthy := true
	cacheErr := ""
	if err := s.store.Ping(ctx); err != nil {
		healthy = false
		cacheErr = err.Error()
	}

	backends := s.health.GetAllStatus()
	for _, r := range backends {
		if r.Status != health.StatusHealthy {
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	body := map[string]interface{}{
		"status":   map[bool]string{true: "healthy", false: "unhealthy"}[healthy],
		"backends": backends,
	}
	if cacheErr != "" {
		body["cache_error"] = cacheErr
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusRecorder captures the status code the proxy leg wrote so the
// anomaly counters can classify the request's outcome after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
