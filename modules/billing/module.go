package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/validator"
	billingsvc "github.com/dmitrymomot/billingkit/svc/billing"
)

// ErrUnauthenticated is returned by a UserResolver that finds no user.
var ErrUnauthenticated = errors.New("billing: user is not authenticated")

// DefaultUserHeader carries the caller's user id when no resolver is set.
const DefaultUserHeader = "X-User-ID"

// UserResolver extracts the authenticated user id from a request.
type UserResolver func(r *http.Request) (string, error)

// HeaderUserResolver reads the user id from a request header.
func HeaderUserResolver(header string) UserResolver {
	return func(r *http.Request) (string, error) {
		id := strings.TrimSpace(r.Header.Get(header))
		if id == "" {
			return "", ErrUnauthenticated
		}
		return id, nil
	}
}

// Module is the billing HTTP module.
type Module struct {
	svc        *billingsvc.Service
	users      UserResolver
	validate   *validator.Validator
	log        *slog.Logger
	maxBody    int64
	maxWebhook int64
}

// Option configures a Module.
type Option func(*Module)

// WithUserResolver sets how requests are mapped to users.
func WithUserResolver(r UserResolver) Option {
	return func(m *Module) {
		if r != nil {
			m.users = r
		}
	}
}

// WithLogger sets the module logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Module) {
		if l != nil {
			m.log = l
		}
	}
}

// WithBodyLimits caps JSON and webhook request bodies in bytes.
func WithBodyLimits(jsonBytes, webhookBytes int64) Option {
	return func(m *Module) {
		if jsonBytes > 0 {
			m.maxBody = jsonBytes
		}
		if webhookBytes > 0 {
			m.maxWebhook = webhookBytes
		}
	}
}

// New creates the billing HTTP module on top of svc.
func New(svc *billingsvc.Service, opts ...Option) *Module {
	if svc == nil {
		panic("billing module: service is required")
	}
	m := &Module{
		svc:        svc,
		users:      HeaderUserResolver(DefaultUserHeader),
		validate:   validator.New(),
		log:        logger.Nop(),
		maxBody:    64 << 10,
		maxWebhook: 1 << 20,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(logger.Component("billing_http"))
	return m
}

// Handle returns the module router.
//
//	r := chi.NewRouter()
//	r.Mount("/billing", billingmodule.New(svc).Handle())
func (m *Module) Handle() http.Handler {
	r := chi.NewRouter()

	r.Get("/plans", m.listPlans)
	r.Post("/webhooks/{gateway}", m.webhook)

	r.Group(func(r chi.Router) {
		r.Use(m.requireUser)

		r.Post("/checkout", m.checkout)
		r.Post("/refunds", m.refund)

		r.Get("/subscription", m.getSubscription)
		r.Get("/subscriptions", m.listSubscriptions)
		r.Post("/subscription/cancel", m.cancelSubscription)
		r.Post("/subscription/resume", m.resumeSubscription)

		r.Get("/usage", m.usageSummary)
		r.Get("/usage/{resource}", m.usageCheck)
	})

	// Without an authenticated caller only simulated payments may name their user.
	r.Post("/payments", m.payment)

	return r
}
