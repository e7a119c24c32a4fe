// Package metrics exposes Prometheus collectors for the clone worker.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Claim results recorded by ObserveClaim.
const (
	ClaimJob   = "job"
	ClaimEmpty = "empty"
	ClaimError = "error"
)

var (
	claimsTotal                *prometheus.CounterVec
	triggersTotal              prometheus.Counter
	reportsTotal               *prometheus.CounterVec
	connectionState            *prometheus.GaugeVec
	progressDroppedTotal       prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		claimsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gitworker_claims_total",
				Help: "Claim attempts against the coordinator, labeled by result.",
			},
			[]string{"result"},
		)

		triggersTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gitworker_triggers_total",
				Help: "Immediate-claim triggers received by the work queue.",
			},
		)

		reportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gitworker_reports_total",
				Help: "Outcome reports sent upstream, labeled by outcome and delivery result.",
			},
			[]string{"outcome", "result"},
		)

		connectionState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gitworker_connection_state",
				Help: "1 for the current lifecycle state of the coordinator connection, 0 otherwise.",
			},
			[]string{"state"},
		)

		progressDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gitworker_progress_events_dropped_total",
				Help: "Job lifecycle events dropped because the progress buffer was full.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveClaim increments the claim counter for the given result.
func ObserveClaim(result string) {
	Init()
	claimsTotal.WithLabelValues(result).Inc()
}

// ObserveTrigger counts one trigger request.
func ObserveTrigger() {
	Init()
	triggersTotal.Inc()
}

// ObserveReport counts an outcome report; delivered is false when the call failed.
func ObserveReport(outcome string, delivered bool) {
	Init()
	result := "ok"
	if !delivered {
		result = "error"
	}
	reportsTotal.WithLabelValues(outcome, result).Inc()
}

// SetConnectionState marks state as current and zeroes previous.
func SetConnectionState(previous, state string) {
	Init()
	if previous != "" {
		connectionState.WithLabelValues(previous).Set(0)
	}
	connectionState.WithLabelValues(state).Set(1)
}

// ObserveProgressDropped counts one dropped progress event.
func ObserveProgressDropped() {
	Init()
	progressDroppedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
