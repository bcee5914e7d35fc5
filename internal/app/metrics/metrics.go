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
			Namespace: "stream_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stream_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stream_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	transfersInitiated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stream_layer",
			Subsystem: "transfers",
			Name:      "initiated_total",
			Help:      "Total number of external transfers initiated.",
		},
		[]string{"kind"},
	)

	transfersSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stream_layer",
			Subsystem: "transfers",
			Name:      "settled_total",
			Help:      "Total number of external transfers settled.",
		},
		[]string{"kind", "outcome"},
	)

	settlementLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stream_layer",
			Subsystem: "transfers",
			Name:      "settlement_duration_seconds",
			Help:      "Time between transfer initiation and settlement.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4m
		},
		[]string{"kind"},
	)

	lockedStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stream_layer",
			Subsystem: "streams",
			Name:      "locked",
			Help:      "Streams currently locked by a pending transfer.",
		},
	)

	streamsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stream_layer",
			Subsystem: "streams",
			Name:      "created_total",
			Help:      "Total number of streams created.",
		},
	)

	feeBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stream_layer",
			Subsystem: "fees",
			Name:      "accumulated",
			Help:      "Accumulated platform fees per asset.",
		},
		[]string{"asset"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		transfersInitiated,
		transfersSettled,
		settlementLatency,
		lockedStreams,
		streamsCreated,
		feeBalance,
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

// RecordTransferInitiated counts an external transfer submission.
func RecordTransferInitiated(kind string) {
	transfersInitiated.WithLabelValues(kind).Inc()
	lockedStreams.Inc()
}

// RecordTransferSettled counts a settlement verdict and its latency.
func RecordTransferSettled(kind string, success bool, pending time.Duration) {
	outcome := "failed"
	if success {
		outcome = "completed"
	}
	transfersSettled.WithLabelValues(kind, outcome).Inc()
	if pending > 0 {
		settlementLatency.WithLabelValues(kind).Observe(pending.Seconds())
	}
	lockedStreams.Dec()
}

// RecordStreamCreated counts a successfully created stream.
func RecordStreamCreated() {
	streamsCreated.Inc()
}

// SetFeeBalance reports the accumulated fee balance for one asset.
func SetFeeBalance(asset string, amount int64) {
	feeBalance.WithLabelValues(asset).Set(float64(amount))
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
	if parts[0] != "streams" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/streams"
	}
	if len(parts) == 2 {
		return "/streams/:id"
	}
	return "/streams/:id/" + parts[2]
}
