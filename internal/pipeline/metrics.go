package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskd",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskd",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	phasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskd",
			Subsystem: "pipeline",
			Name:      "phases_total",
			Help:      "Total executed phases by name and status.",
		},
		[]string{"phase", "status"},
	)

	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskd",
			Subsystem: "pipeline",
			Name:      "steps_total",
			Help:      "Total executed plan steps by final status.",
		},
		[]string{"status"},
	)

	rejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskd",
			Subsystem: "pipeline",
			Name:      "rejected_total",
			Help:      "Run requests rejected before any phase ran.",
		},
		[]string{"reason"},
	)
)

// recordRun records a finished run.
func recordRun(outcome string, start time.Time) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// recordPhase records one phase outcome.
func recordPhase(phase, status string) {
	phasesTotal.WithLabelValues(phase, status).Inc()
}

// recordSteps records final step statuses after the execute phase.
func recordSteps(completed, failed, pending int) {
	stepsTotal.WithLabelValues("completed").Add(float64(completed))
	stepsTotal.WithLabelValues("failed").Add(float64(failed))
	stepsTotal.WithLabelValues("pending").Add(float64(pending))
}

// recordRejected records a run request stopped by a precondition.
func recordRejected(reason string) {
	rejectedTotal.WithLabelValues(reason).Inc()
}
