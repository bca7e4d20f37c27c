// Package metrics provides Prometheus instrumentation for the comboz server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only comboz metrics appear on the /metrics endpoint.
package metrics

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Metrics holds all Prometheus collectors used by the comboz server.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	GRPCRequestsTotal      *prometheus.CounterVec
	GRPCRequestDuration    *prometheus.HistogramVec
	RecommendationsTotal   *prometheus.CounterVec
	StalePackagesTotal     prometheus.Counter
	RuleCacheSize          prometheus.Gauge
	RuleCacheLoadsTotal    prometheus.Counter
	RuleCacheInvalidations prometheus.Counter
	AuthFailuresTotal      prometheus.Counter
}

// New creates and registers all comboz metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comboz_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "comboz_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comboz_grpc_requests_total",
			Help: "Total number of gRPC requests.",
		}, []string{"method", "status"}),

		GRPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "comboz_grpc_request_duration_seconds",
			Help:    "gRPC request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),

		RecommendationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comboz_recommendations_total",
			Help: "Total number of recommendation resolutions by outcome.",
		}, []string{"outcome"}),

		StalePackagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comboz_stale_packages_total",
			Help: "Matched rules skipped because their package was missing or inactive.",
		}),

		RuleCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "comboz_rule_cache_size",
			Help: "Number of active rules in the in-memory cache.",
		}),

		RuleCacheLoadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comboz_rule_cache_loads_total",
			Help: "Total number of full rule cache reloads from the database.",
		}),

		RuleCacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comboz_rule_cache_invalidations_total",
			Help: "Total number of NOTIFY-triggered rule cache invalidations.",
		}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comboz_auth_failures_total",
			Help: "Total number of failed authentication attempts.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.RecommendationsTotal,
		m.StalePackagesTotal,
		m.RuleCacheSize,
		m.RuleCacheLoadsTotal,
		m.RuleCacheInvalidations,
		m.AuthFailuresTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one completed HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, route, status string, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(elapsed.Seconds())
}

// UnaryServerInterceptor returns a gRPC unary interceptor that records
// request count and latency for each method.
func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		method := path.Base(info.FullMethod)
		st, _ := status.FromError(err)
		code := st.Code().String()
		m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
		m.GRPCRequestDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// RecordRecommendation increments the recommendation counter for outcome.
func (m *Metrics) RecordRecommendation(outcome string) {
	m.RecommendationsTotal.WithLabelValues(outcome).Inc()
}

// IncStalePackages increments the stale package counter.
func (m *Metrics) IncStalePackages() {
	m.StalePackagesTotal.Inc()
}

// SetRuleCacheSize updates the rule cache size gauge.
func (m *Metrics) SetRuleCacheSize(size float64) {
	m.RuleCacheSize.Set(size)
}

// IncRuleCacheLoads increments the cache load counter.
func (m *Metrics) IncRuleCacheLoads() {
	m.RuleCacheLoadsTotal.Inc()
}

// IncRuleCacheInvalidations increments the cache invalidation counter.
func (m *Metrics) IncRuleCacheInvalidations() {
	m.RuleCacheInvalidations.Inc()
}

// IncAuthFailures increments the auth failure counter.
func (m *Metrics) IncAuthFailures() {
	m.AuthFailuresTotal.Inc()
}
