package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/isdmx/coderun/sandbox"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderun_executions_total",
			Help: "Total number of code executions by outcome",
		},
		[]string{"language", "outcome"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderun_execution_duration_seconds",
			Help:    "Wall-clock time of an execution including workspace setup and cleanup",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"language"},
	)

	WorkspacesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderun_workspaces_active",
			Help: "Number of workspaces currently provisioned",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coderun_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

// Recorder feeds engine measurements into the package collectors.
type Recorder struct{}

// NewRecorder returns a sandbox.Recorder backed by the default registry.
func NewRecorder() sandbox.Recorder {
	return Recorder{}
}

func (Recorder) WorkspaceOpened() {
	WorkspacesActive.Inc()
}

func (Recorder) WorkspaceClosed() {
	WorkspacesActive.Dec()
}

func (Recorder) Observe(language string, outcome sandbox.Outcome, elapsed time.Duration) {
	ExecutionsTotal.WithLabelValues(language, string(outcome)).Inc()
	ExecutionDuration.WithLabelValues(language).Observe(elapsed.Seconds())
}
