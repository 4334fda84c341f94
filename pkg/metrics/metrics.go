// Package metrics exposes Prometheus collectors for the HTTP pipeline, the
// event bus, and migration application, grounded on the teacher's own
// Registry/InstrumentHandler/Handler pattern in this same package, trimmed
// to this runtime's concerns (no function/automation/oracle/rpc domain
// metrics - those belonged to the teacher's own services, which this spec
// does not carry forward).
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

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "apprt",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apprt",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apprt",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	busDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apprt",
			Subsystem: "eventbus",
			Name:      "deliveries_total",
			Help:      "Total event bus listener deliveries grouped by event name and outcome.",
		},
		[]string{"event", "result"},
	)

	busDeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apprt",
			Subsystem: "eventbus",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of event bus listener deliveries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"event"},
	)

	migrationsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apprt",
			Subsystem: "schema",
			Name:      "migrations_applied_total",
			Help:      "Total migrations applied per namespace, grouped by outcome.",
		},
		[]string{"namespace", "result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		busDeliveries,
		busDeliveryDuration,
		migrationsApplied,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with in-flight gauge, request counter, and
// duration histogram collection, skipping /metrics itself to avoid
// recursive self-measurement.
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

// RecordBusDelivery records the outcome and duration of one event bus
// listener delivery.
func RecordBusDelivery(event string, err error, duration time.Duration) {
	if event == "" {
		event = "unknown"
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	busDeliveries.WithLabelValues(event, result).Inc()
	busDeliveryDuration.WithLabelValues(event).Observe(duration.Seconds())
}

// RecordMigrationApplied records a migration application outcome for a
// namespace (e.g. on first-contact Pool.Acquire).
func RecordMigrationApplied(namespace string, err error) {
	if namespace == "" {
		namespace = "unknown"
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	migrationsApplied.WithLabelValues(namespace, result).Inc()
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

// canonicalPath collapses path segments that look like generated ids
// (all digits, or any segment of 20 or more characters, which covers
// 30-character Id-57 ids) down to ":id",
// keeping the cardinality of the path label bounded regardless of how many
// distinct records are requested.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if looksLikeID(p) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func looksLikeID(segment string) bool {
	if segment == "" {
		return false
	}
	allDigits := true
	for _, r := range segment {
		if r < '0' || r > '9' {
			allDigits = false
			break
		}
	}
	if allDigits {
		return true
	}
	return len(segment) >= 20
}
