package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds billing service metrics.
type Metrics struct {
	webhooks *prometheus.CounterVec
	payments *prometheus.CounterVec
	refunds  *prometheus.CounterVec
}

// NewMetrics registers billing metrics with reg, or the default registerer
// when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "webhook_events_total",
			Help:      "Total number of provider webhook events by outcome",
		}, []string{"gateway", "type", "outcome"}),
		payments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "payments_total",
			Help:      "Total number of direct payment attempts by result",
		}, []string{"gateway", "result"}),
		refunds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "refunds_total",
			Help:      "Total number of refund attempts by result",
		}, []string{"gateway", "result"}),
	}
}

// Webhooks returns the webhook outcome counter.
func (m *Metrics) Webhooks() *prometheus.CounterVec { return m.webhooks }

// Payments returns the direct payment counter.
func (m *Metrics) Payments() *prometheus.CounterVec { return m.payments }

func (m *Metrics) webhook(gateway, typ string, outcome Outcome) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(gateway, typ, string(outcome)).Inc()
}

func (m *Metrics) payment(gateway, result string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(gateway, result).Inc()
}

func (m *Metrics) refund(gateway, result string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(gateway, result).Inc()
}
