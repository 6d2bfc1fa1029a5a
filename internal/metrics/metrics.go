// Package metrics exposes the Prometheus metrics for the controller and
// worker binaries: session/pool state, output pump backpressure, bridge
// correlation health, and interceptor budget overruns. All gauges/counters
// are process-global (promauto registers against the default registry),
// matching how the rest of this module's dependency stack expects a single
// /metrics endpoint per process.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts HTTP requests served by cmd/siesd (/healthz, /metrics).
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sies_requests_total",
			Help: "Total number of HTTP requests served by the controller daemon",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency for the controller daemon's HTTP surface.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sies_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SessionsByState tracks how many sessions are in each lifecycle state (spec §3.2).
	SessionsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sies_sessions_by_state",
			Help: "Number of sessions currently in each lifecycle state",
		},
		[]string{"state"},
	)

	// SessionDuration tracks how long sessions remain alive before termination.
	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sies_session_duration_seconds",
			Help:    "Session lifetime in seconds, from Ready to Terminated",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"reason"},
	)

	// ExecutionsTotal counts terminal execution outcomes (spec §8.1 invariant 3).
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sies_executions_total",
			Help: "Total number of executions that reached a terminal message",
		},
		[]string{"outcome"}, // result | error_kind
	)

	// PumpQueueDepth tracks the current occupancy of an executor's output pump.
	PumpQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sies_pump_queue_depth",
			Help: "Current number of items queued in the active output pump",
		},
	)

	// PumpDroppedTotal counts output chunks dropped under drop_new/drop_oldest backpressure.
	PumpDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sies_pump_dropped_total",
			Help: "Total output chunks dropped due to backpressure",
		},
		[]string{"mode"},
	)

	// BridgePendingHighwater is the high-water mark of the bridge's pending promise map (spec §4.8).
	BridgePendingHighwater = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sies_bridge_pending_highwater",
			Help: "High-water mark of the promise bridge's pending map size",
		},
	)

	// BridgeTimeoutsTotal counts promises rejected by deadline expiry.
	BridgeTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sies_bridge_timeouts_total",
			Help: "Total promises rejected due to deadline expiry",
		},
		[]string{"kind"},
	)

	// BridgeLateResponsesTotal counts responses that arrived after their promise was already resolved/timed out.
	BridgeLateResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sies_bridge_late_responses_total",
			Help: "Total responses dropped because their promise had already settled",
		},
		[]string{"kind"},
	)

	// InterceptorOverrunsTotal counts session interceptor calls that exceeded their soft budget (spec §6.2 interceptor_budget_ms).
	InterceptorOverrunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sies_interceptor_overruns_total",
			Help: "Total interceptor invocations that exceeded the configured soft budget",
		},
		[]string{"interceptor"},
	)

	// PoolSessionsByBucket tracks pool membership (idle/in_use/all) per spec §4.9 invariants.
	PoolSessionsByBucket = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sies_pool_sessions",
			Help: "Number of sessions in each pool bucket",
		},
		[]string{"bucket"}, // idle | in_use | all
	)

	// PoolCreateFailuresTotal counts every session-creation failure the pool observes (not reset on success).
	PoolCreateFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sies_pool_create_failures_total",
			Help: "Total session creation failures observed by the pool",
		},
	)

	// PoolCircuitOpen reports whether the pool's circuit breaker is currently open (1) or closed (0).
	PoolCircuitOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sies_pool_circuit_open",
			Help: "1 if the pool's creation circuit breaker is open (cooling down), else 0",
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture the status code written.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher so streaming handlers behind this middleware still flush incrementally.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request count and latency for the controller daemon's HTTP surface.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath collapses the daemon's tiny HTTP surface to avoid high-cardinality labels.
func normalizePath(path string) string {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return path
	default:
		return "other"
	}
}

// Handler returns the Prometheus metrics HTTP handler for cmd/siesd's /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetSessionState updates the session-state gauge vector, moving a session's
// weight from one state bucket to another in a single call.
func SetSessionState(from, to string, delta float64) {
	if from != "" {
		SessionsByState.WithLabelValues(from).Sub(delta)
	}
	if to != "" {
		SessionsByState.WithLabelValues(to).Add(delta)
	}
}

// RecordSessionEnd records the terminal duration of a session.
func RecordSessionEnd(reason string, durationSeconds float64) {
	SessionDuration.WithLabelValues(reason).Observe(durationSeconds)
}

// RecordExecutionOutcome records a terminal execution message.
func RecordExecutionOutcome(outcome string) {
	ExecutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordPumpDrop records a single dropped output chunk under the given backpressure mode.
func RecordPumpDrop(mode string) {
	PumpDroppedTotal.WithLabelValues(mode).Inc()
}

// RecordBridgeTimeout records a promise timeout of the given kind (execute | input).
func RecordBridgeTimeout(kind string) {
	BridgeTimeoutsTotal.WithLabelValues(kind).Inc()
}

// RecordBridgeLateResponse records a response that arrived after its promise had already settled.
func RecordBridgeLateResponse(kind string) {
	BridgeLateResponsesTotal.WithLabelValues(kind).Inc()
}

// RecordInterceptorOverrun records an interceptor call that exceeded its soft time budget.
func RecordInterceptorOverrun(name string) {
	InterceptorOverrunsTotal.WithLabelValues(name).Inc()
}

// SetPoolBuckets updates the pool's idle/in_use/all gauges in one call.
func SetPoolBuckets(idle, inUse, all int) {
	PoolSessionsByBucket.WithLabelValues("idle").Set(float64(idle))
	PoolSessionsByBucket.WithLabelValues("in_use").Set(float64(inUse))
	PoolSessionsByBucket.WithLabelValues("all").Set(float64(all))
}
