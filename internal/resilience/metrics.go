package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	// primaryFailures counts primary errors that switched a call to the fallback.
	primaryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kb_primary_failures_total",
			Help: "Primary store failures that triggered the fallback",
		},
		[]string{"operation"},
	)

	// fallbackCalls counts calls answered by the in-memory fallback.
	fallbackCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kb_fallback_calls_total",
			Help: "Calls served by the in-memory fallback",
		},
		[]string{"operation"},
	)

	// degradedGauge is 1 while the primary is considered unreachable.
	degradedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kb_degraded",
			Help: "Whether the knowledge store runs on the in-memory fallback",
		},
	)
)

func init() {
	prometheus.MustRegister(
		primaryFailures,
		fallbackCalls,
		degradedGauge,
	)
}
