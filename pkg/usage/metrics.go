package usage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts gate decisions.
type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics registers usage metrics with reg, or the default registerer
// when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billing",
				Subsystem: "usage",
				Name:      "decisions_total",
				Help:      "Total number of usage enforcement decisions",
			},
			[]string{"resource", "decision"},
		),
	}
}

// Decisions returns the decision counter.
func (m *Metrics) Decisions() *prometheus.CounterVec { return m.decisions }

func (m *Metrics) record(d Decision) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(d.Resource), string(d.Reason)).Inc()
}
