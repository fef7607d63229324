package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scoreCalculations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "projectpulse_score_calculations_total",
		Help: "Number of contribution score rows computed and persisted.",
	})

	scoreCalculationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "projectpulse_score_calculation_seconds",
		Help:    "Duration of contribution score calculations.",
		Buckets: prometheus.DefBuckets,
	})

	pressureEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projectpulse_pressure_evaluations_total",
		Help: "Number of pressure evaluations by resulting status.",
	}, []string{"status"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "projectpulse_pressure_sweep_seconds",
		Help:    "Duration of full pressure update sweeps.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	notificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projectpulse_notifications_total",
		Help: "Overload notifications dispatched, by outcome.",
	}, []string{"outcome"})

	responseCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projectpulse_response_cache_lookups_total",
		Help: "Response cache lookups, by result (hit or miss).",
	}, []string{"result"})
)

// ObserveScoreCalculation records a finished score calculation covering n
// rows.
func ObserveScoreCalculation(n int, duration time.Duration) {
	scoreCalculations.Add(float64(n))
	scoreCalculationDuration.Observe(duration.Seconds())
}

// ObservePressureEvaluation records a pressure evaluation outcome.
func ObservePressureEvaluation(status string) {
	pressureEvaluations.WithLabelValues(status).Inc()
}

// ObserveSweep records a finished pressure sweep.
func ObserveSweep(duration time.Duration) {
	sweepDuration.Observe(duration.Seconds())
}

// ObserveNotification records a notification dispatch outcome ("sent" or
// "failed").
func ObserveNotification(outcome string) {
	notificationsDispatched.WithLabelValues(outcome).Inc()
}

// ObserveCacheLookup records a response cache lookup result ("hit" or
// "miss").
func ObserveCacheLookup(result string) {
	responseCacheLookups.WithLabelValues(result).Inc()
}
