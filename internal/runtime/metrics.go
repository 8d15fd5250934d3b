package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports add-on lifecycle state to Prometheus.
type Metrics struct {
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

// NewMetrics creates the runtime collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "homehub",
			Name:      "addon_state",
			Help:      "Current lifecycle state of each add-on (1 for the active state).",
		}, []string{"addon", "state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homehub",
			Name:      "addon_transitions_total",
			Help:      "Lifecycle state transitions per add-on.",
		}, []string{"addon", "to"}),
	}
	if reg != nil {
		reg.MustRegister(m.state, m.transitions)
	}
	return m
}

func (m *Metrics) observe(name string, to State) {
	if m == nil {
		return
	}
	for _, s := range AllStates {
		v := 0.0
		if s == to {
			v = 1
		}
		m.state.WithLabelValues(name, s.String()).Set(v)
	}
	m.transitions.WithLabelValues(name, to.String()).Inc()
}
