// Package metrics instruments the condition engine for Prometheus,
// implementing engine.MetricsSink.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumenhome/condrules/pkg/engine"
)

// Sink is the Prometheus-backed engine.MetricsSink.
type Sink struct {
	transitions    *prometheus.CounterVec
	durationTimers prometheus.Gauge
	timeoutTimers  prometheus.Gauge
}

// NewSink registers condrules' metrics against reg (typically
// prometheus.NewRegistry(), never the global default registry, so that
// repeated engine construction in tests does not panic on duplicate
// registration).
func NewSink(reg prometheus.Registerer) *Sink {
	factory := promauto.With(reg)
	return &Sink{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "condrules",
			Subsystem: "engine",
			Name:      "condition_transitions_total",
			Help:      "Count of condition state transitions, labeled by the state transitioned into.",
		}, []string{"state"}),
		durationTimers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "condrules",
			Subsystem: "engine",
			Name:      "duration_timers_armed",
			Help:      "Number of currently armed duration timers.",
		}),
		timeoutTimers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "condrules",
			Subsystem: "engine",
			Name:      "timeout_timers_armed",
			Help:      "Number of currently armed timeout timers.",
		}),
	}
}

// ObserveTransition implements engine.MetricsSink.
func (s *Sink) ObserveTransition(to engine.ConditionState) {
	s.transitions.WithLabelValues(to.String()).Inc()
}

// SetTimerCounts implements engine.MetricsSink.
func (s *Sink) SetTimerCounts(durationTimers, timeoutTimers int) {
	s.durationTimers.Set(float64(durationTimers))
	s.timeoutTimers.Set(float64(timeoutTimers))
}

// Handler returns the HTTP handler serving reg's metrics in the
// Prometheus text exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
