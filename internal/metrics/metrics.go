// Package metrics holds the client's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "snapshare"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	backendInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight backend requests.",
		},
	)

	backendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Total number of backend requests by API and status.",
		},
		[]string{"api", "method", "status"},
	)

	backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Duration of backend requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"api", "method"},
	)

	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions by target state.",
		},
		[]string{"state"},
	)

	flowOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flows",
			Name:      "operations_total",
			Help:      "User operations by flow, operation and outcome.",
		},
		[]string{"flow", "operation", "outcome"},
	)

	uploadBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "upload_bytes",
			Help:      "Size of uploaded images.",
			Buckets:   prometheus.ExponentialBuckets(16<<10, 2, 10), // 16KiB to ~8MiB
		},
		[]string{"bucket"},
	)
)

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

func init() {
	Registry.MustRegister(
		backendInFlight,
		backendRequests,
		backendDuration,
		sessionTransitions,
		flowOutcomes,
		uploadBytes,
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentTransport wraps next with backend request metrics. A nil next
// uses http.DefaultTransport.
func InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &instrumentedTransport{next: next}
}

type instrumentedTransport struct {
	next http.RoundTripper
}

func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	api := apiName(req.URL.Path)
	method := strings.ToUpper(req.Method)

	backendInFlight.Inc()
	defer backendInFlight.Dec()

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	backendDuration.WithLabelValues(api, method).Observe(time.Since(start).Seconds())

	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	backendRequests.WithLabelValues(api, method, status).Inc()
	return resp, err
}

// RecordSessionTransition counts a move of the session machine into state.
func RecordSessionTransition(state string) {
	sessionTransitions.WithLabelValues(state).Inc()
}

// RecordOperation counts the outcome of a user operation.
func RecordOperation(flow, operation, outcome string) {
	flowOutcomes.WithLabelValues(flow, operation, outcome).Inc()
}

// RecordUpload observes the size of an uploaded image.
func RecordUpload(bucket string, size int) {
	uploadBytes.WithLabelValues(bucket).Observe(float64(size))
}

// apiName maps a Supabase path such as /rest/v1/posts to its API.
func apiName(path string) string {
	trimmed := strings.Trim(path, "/")
	first, _, _ := strings.Cut(trimmed, "/")
	switch first {
	case "rest", "auth", "storage":
		return first
	case "":
		return "/"
	default:
		return "other"
	}
}
