package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rollout"

var (
	stageAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_attempts_total",
		Help:      "Pipeline stage attempts by stage and outcome",
	}, []string{"stage", "outcome"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stage attempts",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"stage"})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_finished_total",
		Help:      "Pipeline runs that reached a terminal stage",
	}, []string{"stage"})

	rollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rollbacks_total",
		Help:      "Rollouts that failed their health check and rolled back",
	})
)

// ObserveStageAttempt records one stage attempt.
func ObserveStageAttempt(stage, outcome string, d time.Duration) {
	stageAttempts.WithLabelValues(stage, outcome).Inc()
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RunFinished records a run reaching a terminal stage.
func RunFinished(stage string) {
	runsFinished.WithLabelValues(stage).Inc()
}

// RollbackOccurred records a health-check-triggered rollback.
func RollbackOccurred() {
	rollbacks.Inc()
}
