package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// DecodePaddleEvent exposes the Paddle payload decoder to tests.
var DecodePaddleEvent = decodePaddleEvent

func signRawPayload(s *Simulation, payload []byte) (string, error) {
	return webhook.SignAt(s.cfg.WebhookSecret, payload, s.now())
}

// SignRaw signs an arbitrary payload with the simulation secret.
var SignRaw = signRawPayload

// Requests exposes the request counter to tests.
func (m *Metrics) Requests() *prometheus.CounterVec { return m.requests }
