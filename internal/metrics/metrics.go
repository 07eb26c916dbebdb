// Package metrics registers the Prometheus collectors exposed at
// `GET /metrics` (spec §6): HTTP request counters/histograms plus a
// handful of domain counters for the router and query executor.
//
// Grounded on CrlsMrls-dummybox/metrics/metrics.go's
// registry-construction and HTTP middleware shape, trimmed of its
// `GetMetricsInfo` JSON-introspection helper (spec §6 only names a
// plain Prometheus `/metrics` endpoint, not a summarized status
// endpoint) and extended with the domain counters this service needs
// that dummybox has no analogue for.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector this service registers.
type Registry struct {
	reg *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	routerDecisionsTotal   *prometheus.CounterVec
	executorQueriesTotal   *prometheus.CounterVec
	executorQueryDuration  *prometheus.HistogramVec
	breakerOpenTotal       *prometheus.CounterVec
}

var (
	initOnce sync.Once
	instance *Registry
)

// Init constructs and registers the collector set exactly once per
// process, mirroring dummybox's sync.Once-guarded package-level setup.
func Init() *Registry {
	initOnce.Do(func() {
		reg := prometheus.NewRegistry()

		r := &Registry{
			reg: reg,
			httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nalyze_http_requests_total",
				Help: "Total HTTP requests by method, path, and status.",
			}, []string{"method", "path", "status"}),
			httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "nalyze_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			}, []string{"method", "path"}),
			routerDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nalyze_router_decisions_total",
				Help: "Chat routing decisions by matched analysis type and routing decision.",
			}, []string{"analysis_type", "decision"}),
			executorQueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nalyze_executor_queries_total",
				Help: "Executed queries by outcome.",
			}, []string{"outcome"}),
			executorQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "nalyze_executor_query_duration_seconds",
				Help:    "Query execution duration in seconds.",
				Buckets: prometheus.DefBuckets,
			}, []string{"analysis_type"}),
			breakerOpenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nalyze_breaker_open_total",
				Help: "Circuit breaker trips by dataset.",
			}, []string{"dataset_id"}),
		}

		reg.MustRegister(
			r.httpRequestsTotal,
			r.httpRequestDuration,
			r.routerDecisionsTotal,
			r.executorQueriesTotal,
			r.executorQueryDuration,
			r.breakerOpenTotal,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		instance = r
	})
	return instance
}

// Handler serves the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request count and duration for every request.
func (r *Registry) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		lw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, req)

		duration := time.Since(start).Seconds()
		path := req.URL.Path
		r.httpRequestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(lw.status)).Inc()
		r.httpRequestDuration.WithLabelValues(req.Method, path).Observe(duration)
	})
}

// RecordRoutingDecision tallies one chat routing outcome: the matched
// analysis type and the routing decision ("deterministic",
// "ai_intent_extraction", "direct_query").
func (r *Registry) RecordRoutingDecision(analysisType, decision string) {
	r.routerDecisionsTotal.WithLabelValues(analysisType, decision).Inc()
}

// RecordQuery tallies one C2 execution outcome and its duration.
func (r *Registry) RecordQuery(analysisType, outcome string, duration time.Duration) {
	r.executorQueriesTotal.WithLabelValues(outcome).Inc()
	r.executorQueryDuration.WithLabelValues(analysisType).Observe(duration.Seconds())
}

// RecordBreakerOpen tallies one circuit breaker trip for a dataset.
func (r *Registry) RecordBreakerOpen(datasetID string) {
	r.breakerOpenTotal.WithLabelValues(datasetID).Inc()
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
