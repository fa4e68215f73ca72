// Package metrics exposes Prometheus collectors for completion calls, runs
// and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "initiator"

var (
	registry = prometheus.NewRegistry()

	completionCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "completion_calls_total",
		Help:      "Completion calls by operation, client kind and outcome.",
	}, []string{"operation", "client", "outcome"})

	completionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "completion_duration_seconds",
		Help:      "Latency of completion calls in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"operation", "client"})

	runTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Run status transitions.",
	}, []string{"status"})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"handler", "method"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		completionCalls, completionDuration, runTransitions, httpRequests, httpDuration,
	)
}

// Registry returns the registry backing Handler.
func Registry() *prometheus.Registry { return registry }

// ObserveCompletion records one completion call. Outcome is "succeeded" or the
// error code of the failure.
func ObserveCompletion(operation, client, outcome string, duration time.Duration) {
	completionCalls.WithLabelValues(operation, client, outcome).Inc()
	completionDuration.WithLabelValues(operation, client).Observe(duration.Seconds())
}

// IncRun counts a run entering the given status.
func IncRun(status string) { runTransitions.WithLabelValues(status).Inc() }
