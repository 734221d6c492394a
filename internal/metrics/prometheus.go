package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aifred",
		Name:      "turns_total",
		Help:      "Finished turns by route and outcome.",
	}, []string{"route", "outcome"})
	metricTurnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aifred",
		Name:      "turn_duration_seconds",
		Help:      "Wall time of a turn from submit to final answer or failure.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 70, 140},
	}, []string{"outcome"})
	metricProviderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aifred",
		Name:      "provider_attempts_total",
		Help:      "Chat attempts per transport and result kind.",
	}, []string{"route", "result"})
	metricToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aifred",
		Name:      "tool_calls_total",
		Help:      "Tool calls requested by the model, by tool and result.",
	}, []string{"tool", "result"})
	metricVerifyProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aifred",
		Name:      "verify_probes_total",
		Help:      "Canary probes sent while verifying models.",
	}, []string{"result"})
)

// RecordProviderAttempt counts one chat attempt. result is "ok" or an error
// kind.
func RecordProviderAttempt(route, result string) {
	metricProviderAttempts.WithLabelValues(route, result).Inc()
}

// RecordToolCall counts one tool call.
func RecordToolCall(tool, result string) {
	metricToolCalls.WithLabelValues(tool, result).Inc()
}

// RecordVerifyProbe counts one canary probe.
func RecordVerifyProbe(passed bool) {
	result := "failed"
	if passed {
		result = "passed"
	}
	metricVerifyProbes.WithLabelValues(result).Inc()
}

func observeTurn(t Turn) {
	route := t.Route
	if route == "" {
		route = "none"
	}
	metricTurns.WithLabelValues(route, string(t.Outcome)).Inc()
	metricTurnDuration.WithLabelValues(string(t.Outcome)).Observe(t.Duration.Seconds())
}
