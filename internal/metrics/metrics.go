package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Admission decisions: accepted, rejected, error.
	AdmissionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chat_relay",
			Subsystem: "dispatch",
			Name:      "admission_total",
			Help:      "Incoming messages by admission decision",
		},
		[]string{"decision"},
	)

	// Finished pipelines by outcome (ok or an error kind).
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chat_relay",
			Subsystem: "dispatch",
			Name:      "jobs_total",
			Help:      "Finished pipeline executions by outcome",
		},
		[]string{"outcome"},
	)

	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chat_relay",
			Subsystem: "dispatch",
			Name:      "in_flight",
			Help:      "Pipelines currently running",
		},
	)

	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chat_relay",
			Subsystem: "gateway",
			Name:      "completion_duration_seconds",
			Help:      "Completion call duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"outcome"},
	)

	NoticeSendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chat_relay",
			Subsystem: "relay",
			Name:      "send_failures_total",
			Help:      "Replies or notices that could not be delivered",
		},
	)

	DiagnosticsArchived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chat_relay",
			Subsystem: "worker",
			Name:      "diagnostics_total",
			Help:      "Diagnostic records consumed by the archiver",
		},
		[]string{"status"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
