// Package metrics exposes the gateway's Prometheus counters: per-inspector
// allow/block outcomes, shadow-API discoveries, aggregation backend
// errors, and shared-cache hit/miss rates.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veilgate/gateway/internal/cache"
)

// Collector owns every gateway-specific Prometheus collector and the
// registry they're bound to.
type Collector struct {
	registry *prometheus.Registry

	inspectorOutcomes   *prometheus.CounterVec
	shadowAPIDiscovered prometheus.Counter
	aggregationErrors   *prometheus.CounterVec
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
}

// NewCollector builds a Collector registered against a fresh registry, plus
// the Go/process collectors Prometheus users expect on every /metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		inspectorOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veilgate",
			Name:      "inspector_outcomes_total",
			Help:      "Requests evaluated by each inspector, by outcome (allowed/blocked).",
		}, []string{"inspector", "outcome"}),
		shadowAPIDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "veilgate",
			Name:      "shadow_api_discovered_total",
			Help:      "Undocumented endpoints observed by the cartographer.",
		}),
		aggregationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veilgate",
			Name:      "aggregation_backend_errors_total",
			Help:      "Backend call failures within a BFF aggregation, by query name.",
		}, []string{"query"}),
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veilgate",
			Name:      "cache_hits_total",
			Help:      "Shared cache reads that found a value.",
		}, []string{"store"}),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veilgate",
			Name:      "cache_misses_total",
			Help:      "Shared cache reads that found nothing.",
		}, []string{"store"}),
	}

	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return c
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordInspector records whether an inspector allowed or blocked a request.
func (c *Collector) RecordInspector(inspector string, blocked bool) {
	outcome := "allowed"
	if blocked {
		outcome = "blocked"
	}
	c.inspectorOutcomes.WithLabelValues(inspector, outcome).Inc()
}

// RecordShadowAPI increments the shadow-API discovery counter. No
// component of the gateway calls it, so the counter stays at zero;
// shadow discoveries are reported through the audit log.
func (c *Collector) RecordShadowAPI() {
	c.shadowAPIDiscovered.Inc()
}

// RecordAggregationError increments the per-query backend error counter.
func (c *Collector) RecordAggregationError(query string) {
	c.aggregationErrors.WithLabelValues(query).Inc()
}

// InstrumentStore wraps store so every Get is counted as a cache hit or
// miss under label name. Set/Delete/Ping pass through unmodified.
func (c *Collector) InstrumentStore(name string, store cache.Store) cache.Store {
	return &instrumentedStore{name: name, store: store, c: c}
}

type instrumentedStore struct {
	name  string
	store cache.Store
	c     *Collector
}

func (s *instrumentedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := s.store.Get(ctx, key)
	if err == nil {
		if ok {
			s.c.cacheHits.WithLabelValues(s.name).Inc()
		} else {
			s.c.cacheMisses.WithLabelValues(s.name).Inc()
		}
	}
	return v, ok, err
}

func (s *instrumentedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.store.Set(ctx, key, value, ttl)
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *instrumentedStore) HSetWithExpire(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	return s.store.HSetWithExpire(ctx, key, fields, ttl)
}

func (s *instrumentedStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.store.HGetAll(ctx, key)
}

func (s *instrumentedStore) ListPushTrimExpire(ctx context.Context, key, value string, maxLen int, ttl time.Duration) error {
	return s.store.ListPushTrimExpire(ctx, key, value, maxLen, ttl)
}

func (s *instrumentedStore) ListRange(ctx context.Context, key string) ([]string, error) {
	return s.store.ListRange(ctx, key)
}

// Unwrap returns the underlying store, so cache.Shared can see through
// this decorator to the real backend.
func (s *instrumentedStore) Unwrap() cache.Store {
	return s.store
}
