package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics, labeled by decision window where it matters.
var (
	unitsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_units_processed_total",
			Help: "Forecast units (epoch, window) processed, by terminal status",
		},
		[]string{"window", "status"},
	)

	guardrailFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocation_guardrail_failures_total",
			Help: "Allocations rejected by guardrail validation",
		},
		[]string{"window"},
	)

	validationWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validation_warnings_total",
			Help: "Validator warnings emitted, by validation stage",
		},
		[]string{"stage"},
	)

	estimatesBySource = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_estimates_total",
			Help: "Proxy estimates produced, by fallback level",
		},
		[]string{"window", "kind", "source"},
	)

	unitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecast_unit_duration_seconds",
			Help:    "Wall time spent processing one forecast unit",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"window"},
	)
)

// UnitProcessed records one finished (epoch, window) unit.
func UnitProcessed(window, status string, elapsed time.Duration) {
	unitsProcessed.WithLabelValues(window, status).Inc()
	unitDuration.WithLabelValues(window).Observe(elapsed.Seconds())
}

// GuardrailFailure records an allocation rejected by guardrails.
func GuardrailFailure(window string) {
	guardrailFailures.WithLabelValues(window).Inc()
}

// ValidationWarnings records warnings emitted by one validation stage.
func ValidationWarnings(stage string, n int) {
	validationWarnings.WithLabelValues(stage).Add(float64(n))
}

// EstimateProduced records one proxy estimate by its fallback level.
func EstimateProduced(window, kind, source string) {
	estimatesBySource.WithLabelValues(window, kind, source).Inc()
}
