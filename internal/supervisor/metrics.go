package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the service lifecycle.
type Metrics struct {
	transitions *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	state       prometheus.Gauge
	starts      prometheus.Counter
	startedAt   prometheus.Gauge
}

// NewMetrics registers the lifecycle collectors on reg. A nil registry
// uses the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tunneld",
				Subsystem: "service",
				Name:      "transitions_total",
				Help:      "Total number of lifecycle state transitions.",
			},
			[]string{"from", "to"},
		),
		alerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tunneld",
				Subsystem: "service",
				Name:      "alerts_total",
				Help:      "Total number of failed start alerts by kind.",
			},
			[]string{"kind"},
		),
		state: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tunneld",
				Subsystem: "service",
				Name:      "state",
				Help:      "Current lifecycle state (0=stopped 1=starting 2=started 3=stopping).",
			},
		),
		starts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tunneld",
				Subsystem: "service",
				Name:      "starts_total",
				Help:      "Total number of successful engine starts.",
			},
		),
		startedAt: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tunneld",
				Subsystem: "service",
				Name:      "started_at_seconds",
				Help:      "Unix time of the last successful start, 0 when stopped.",
			},
		),
	}
}

func (m *Metrics) observeTransition(from, to State) {
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
	m.state.Set(float64(to))
}

func (m *Metrics) observeAlert(kind AlertKind) {
	m.alerts.WithLabelValues(string(kind)).Inc()
}
