// Package metrics exposes the Prometheus collectors for the world runtime,
// grounded on the teacher's internal/app/metrics: a private registry, an
// HTTP instrumentation wrapper, and a handful of named collectors specific
// to this domain instead of the teacher's function/automation counters.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the application-specific Prometheus collectors.
var Registry = prometheus.NewRegistry()

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mash",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mash",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mash",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"method", "path"})

	// TickDuration observes wall-clock time spent inside one tick's
	// critical section (all six phases of §4.E).
	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mash",
		Subsystem: "tick",
		Name:      "duration_seconds",
		Help:      "Duration of a single tick's phased execution.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	// TickNumber mirrors world_state.tick_number as a gauge for scraping.
	TickNumber = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mash",
		Subsystem: "tick",
		Name:      "number",
		Help:      "Current tick number.",
	})

	// QueueDepth is the number of due action-queue entries drained by the
	// most recent tick's phase 4.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mash",
		Subsystem: "tick",
		Name:      "queue_depth",
		Help:      "Action-queue entries drained in the most recent tick.",
	})

	// WaiterFanout is the number of /wait long-pollers released by the
	// most recent tick's phase 6.
	WaiterFanout = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mash",
		Subsystem: "tick",
		Name:      "waiters_released",
		Help:      "Long-poll waiters released by the most recent tick.",
	})

	// APSpent counts the action points debited for queued verbs, by verb,
	// as the tick drains them; instant verbs are not counted.
	APSpent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mash",
		Subsystem: "ap",
		Name:      "spent_total",
		Help:      "Action points debited, by verb.",
	}, []string{"verb"})

	// InteractionBudgetHits counts DSL fire() calls that ran into the
	// per-instance per-tick interaction cap (§4.C).
	InteractionBudgetHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mash",
		Subsystem: "dsl",
		Name:      "interaction_budget_exhausted_total",
		Help:      "fire() invocations that found the per-tick interaction budget already spent.",
	}, []string{"verb"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		TickDuration,
		TickNumber,
		QueueDepth,
		WaiterFanout,
		APSpent,
		InteractionBudgetHits,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with HTTP request metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses /action/<verb> into a single label so per-verb
// cardinality doesn't leak into the method/path histogram; the per-verb
// breakdown lives in APSpent instead.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 && parts[0] == "action" {
		return "/action/:verb"
	}
	return "/" + parts[0]
}
