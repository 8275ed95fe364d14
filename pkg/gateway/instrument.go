package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds gateway call metrics.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers gateway metrics with reg, or the default registerer
// when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "billing",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total number of payment gateway calls by result",
			},
			[]string{"gateway", "operation", "result"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "billing",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Duration of payment gateway calls in seconds",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"gateway", "operation"},
		),
	}
}

func (m *Metrics) observe(gateway, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(gateway, op, resultLabel(err)).Inc()
	m.duration.WithLabelValues(gateway, op).Observe(time.Since(start).Seconds())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrGatewayTimeout):
		return "timeout"
	default:
		if _, ok := AsDecline(err); ok {
			return "declined"
		}
		return "error"
	}
}

// Instrumented decorates a Gateway with a per-call timeout and metrics.
type Instrumented struct {
	Gateway
	timeout time.Duration
	metrics *Metrics
}

// Instrument wraps g. Outbound calls run under timeout when it is positive;
// an expired deadline is reported as ErrGatewayTimeout inside *Error.
func Instrument(g Gateway, timeout time.Duration, m *Metrics) *Instrumented {
	return &Instrumented{Gateway: g, timeout: timeout, metrics: m}
}

// Unwrap returns the decorated gateway.
func (i *Instrumented) Unwrap() Gateway { return i.Gateway }

// Simulated reports whether the decorated gateway is a simulation.
func (i *Instrumented) Simulated() bool { return isSimulated(i.Gateway) }

func (i *Instrumented) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if i.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, i.timeout)
}

func (i *Instrumented) timeoutErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Gateway: i.Name(), Op: op, Err: errors.Join(ErrGatewayTimeout, err)}
	}
	return err
}

func (i *Instrumented) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	const op = "create_checkout_session"
	start := time.Now()
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()
	sess, err := i.Gateway.CreateCheckoutSession(ctx, req)
	err = i.timeoutErr(ctx, op, err)
	i.metrics.observe(i.Name(), op, start, err)
	return sess, err
}

func (i *Instrumented) ProcessPayment(ctx context.Context, req ChargeRequest) (*Charge, error) {
	const op = "process_payment"
	start := time.Now()
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()
	charge, err := i.Gateway.ProcessPayment(ctx, req)
	err = i.timeoutErr(ctx, op, err)
	i.metrics.observe(i.Name(), op, start, err)
	return charge, err
}

func (i *Instrumented) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	const op = "parse_webhook"
	start := time.Now()
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()
	ev, err := i.Gateway.ParseWebhook(ctx, payload, signature)
	err = i.timeoutErr(ctx, op, err)
	i.metrics.observe(i.Name(), op, start, err)
	return ev, err
}

func (i *Instrumented) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	const op = "refund"
	start := time.Now()
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()
	r, err := i.Gateway.Refund(ctx, req)
	err = i.timeoutErr(ctx, op, err)
	i.metrics.observe(i.Name(), op, start, err)
	return r, err
}
