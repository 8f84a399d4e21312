// Package metrics exposes the Prometheus collectors for the oracle.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "twap_oracle",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "twap_oracle",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "twap_oracle",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	oracleUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "twap_oracle",
			Subsystem: "oracle",
			Name:      "updates_total",
			Help:      "Total number of observation update attempts.",
		},
		[]string{"result"},
	)

	oracleUpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "twap_oracle",
			Subsystem: "oracle",
			Name:      "update_duration_seconds",
			Help:      "Duration of observation updates.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	oracleConsults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "twap_oracle",
			Subsystem: "oracle",
			Name:      "consults_total",
			Help:      "Total number of TWAP consults.",
		},
		[]string{"result"},
	)

	trackedFeeds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "twap_oracle",
			Subsystem: "oracle",
			Name:      "tracked_feeds",
			Help:      "Number of feeds with initialized observation buffers.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		oracleUpdates,
		oracleUpdateDuration,
		oracleConsults,
		trackedFeeds,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
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

// RecordUpdate records an observation update attempt. Results are "written",
// "skipped" (fresh slot) or "failed".
func RecordUpdate(result string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	oracleUpdates.WithLabelValues(result).Inc()
	oracleUpdateDuration.Observe(duration.Seconds())
}

// RecordConsult records a TWAP consult outcome: "ok", "stale" or "failed".
func RecordConsult(result string) {
	oracleConsults.WithLabelValues(result).Inc()
}

// SetTrackedFeeds records the number of initialized feed buffers.
func SetTrackedFeeds(n int) {
	trackedFeeds.Set(float64(n))
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

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "pairs" {
		return "/" + strings.Join(parts, "/")
	}
	if len(parts) == 1 {
		return "/pairs"
	}
	if len(parts) == 2 {
		return "/pairs/:pair"
	}
	return "/pairs/:pair/" + parts[2]
}
