package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// SimulationName is the registry name of the simulation gateway.
const SimulationName = "test"

// SimulationSignatureHeader is the header carrying simulation webhook signatures.
const SimulationSignatureHeader = "X-Test-Signature"

// SimulationConfig configures the simulation gateway.
type SimulationConfig struct {
	WebhookSecret    string        `env:"TEST_GATEWAY_WEBHOOK_SECRET"`
	CheckoutURL      string        `env:"TEST_GATEWAY_CHECKOUT_URL" envDefault:"http://localhost:8080/billing/test/checkout"`
	WebhookTolerance time.Duration `env:"TEST_GATEWAY_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

// Test cards with fixed outcomes. Any other non-empty number succeeds.
const (
	CardSuccess           = "4242424242424242"
	CardDeclined          = "4000000000000002"
	CardExpired           = "4000000000000069"
	CardIncorrectCVC      = "4000000000000127"
	CardProcessingError   = "4000000000000119"
	CardInsufficientFunds = "4000000000009995"
)

var cardTable = map[string]*DeclineError{
	CardDeclined:          {Code: DeclineGeneric, Message: "Your card was declined."},
	CardExpired:           {Code: DeclineExpiredCard, Message: "Your card has expired."},
	CardIncorrectCVC:      {Code: DeclineIncorrectCVC, Message: "Your card's security code is incorrect."},
	CardProcessingError:   {Code: DeclineProcessingError, Message: "An error occurred while processing your card."},
	CardInsufficientFunds: {Code: DeclineInsufficientFunds, Message: "Your card has insufficient funds."},
}

// Simulation is a deterministic gateway for development and tests. It never
// moves money.
type Simulation struct {
	cfg SimulationConfig
	now func() time.Time
}

// SimulationOption configures a Simulation.
type SimulationOption func(*Simulation)

// WithSimulationClock overrides the clock used for expiry and signatures.
func WithSimulationClock(now func() time.Time) SimulationOption {
	return func(s *Simulation) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSimulation creates the simulation gateway.
func NewSimulation(cfg SimulationConfig, opts ...SimulationOption) *Simulation {
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = 5 * time.Minute
	}
	s := &Simulation{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulation) Name() string       { return SimulationName }
func (s *Simulation) IsConfigured() bool { return true }
func (s *Simulation) Simulated() bool    { return true }

// CreateCheckoutSession returns a fake hosted session.
func (s *Simulation) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := "test_cs_" + uuid.NewString()
	checkoutURL := s.cfg.CheckoutURL
	if u, err := url.Parse(checkoutURL); err == nil {
		q := u.Query()
		q.Set("session_id", id)
		q.Set("plan_id", req.Plan.ID)
		u.RawQuery = q.Encode()
		checkoutURL = u.String()
	}
	return &CheckoutSession{
		ID:        id,
		URL:       checkoutURL,
		Gateway:   SimulationName,
		ExpiresAt: s.now().Add(24 * time.Hour),
	}, nil
}

// ProcessPayment charges a test card. The outcome is fixed by the card table
// after expiry and CVC checks.
func (s *Simulation) ProcessPayment(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	number := NormalizeCardNumber(req.Card.Number)
	if number == "" || strings.Trim(number, "0123456789") != "" {
		return nil, fmt.Errorf("%w: card number must be digits", ErrInvalidRequest)
	}

	expMonth, expYear, err := parseExpiry(req.Card.Expiry)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	// Cards are valid through the last day of the expiry month.
	if !time.Date(expYear, time.Month(expMonth)+1, 1, 0, 0, 0, 0, time.UTC).After(now) {
		return nil, &DeclineError{Code: DeclineExpiredCard, Message: "Your card has expired."}
	}

	cvc := strings.TrimSpace(req.Card.CVC)
	if len(cvc) < 3 || len(cvc) > 4 || strings.Trim(cvc, "0123456789") != "" {
		return nil, &DeclineError{Code: DeclineIncorrectCVC, Message: "Your card's security code is incorrect."}
	}

	if d, ok := cardTable[number]; ok {
		return nil, &DeclineError{Code: d.Code, Message: d.Message}
	}

	return &Charge{
		TransactionID: "test_tx_" + uuid.NewString(),
		Amount:        req.Plan.Price,
		Gateway:       SimulationName,
	}, nil
}

// NormalizeCardNumber strips spaces and dashes.
func NormalizeCardNumber(n string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(n))
}

func parseExpiry(s string) (month, year int, err error) {
	m, y, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return 0, 0, fmt.Errorf("%w: card expiry must be MM/YY", ErrInvalidRequest)
	}
	month, err = strconv.Atoi(strings.TrimSpace(m))
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("%w: invalid expiry month", ErrInvalidRequest)
	}
	y = strings.TrimSpace(y)
	year, err = strconv.Atoi(y)
	if err != nil || (len(y) != 2 && len(y) != 4) {
		return 0, 0, fmt.Errorf("%w: invalid expiry year", ErrInvalidRequest)
	}
	if len(y) == 2 {
		year += 2000
	}
	return month, year, nil
}

// ParseWebhook verifies an HMAC-signed normalized event.
func (s *Simulation) ParseWebhook(_ context.Context, payload []byte, signature string) (*Event, error) {
	if s.cfg.WebhookSecret == "" {
		return nil, ErrWebhookSecretMissing
	}
	if err := webhook.VerifyAt(s.cfg.WebhookSecret, payload, signature, s.cfg.WebhookTolerance, s.now()); err != nil {
		if errors.Is(err, webhook.ErrInvalidPayload) {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: event id and type are required", ErrMalformedPayload)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now().UTC()
	}
	return &ev, nil
}

// SignEvent encodes ev and signs it the way ParseWebhook expects.
func (s *Simulation) SignEvent(ev Event) (payload []byte, signature string, err error) {
	if s.cfg.WebhookSecret == "" {
		return nil, "", ErrWebhookSecretMissing
	}
	payload, err = json.Marshal(ev)
	if err != nil {
		return nil, "", err
	}
	signature, err = webhook.SignAt(s.cfg.WebhookSecret, payload, s.now())
	if err != nil {
		return nil, "", err
	}
	return payload, signature, nil
}

// Refund returns a fake refund id for the requested amount.
func (s *Simulation) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	amount := req.FullAmount()
	if amount <= 0 || amount > req.Payment.Amount.Amount {
		return nil, fmt.Errorf("%w: refund amount out of range", ErrInvalidRequest)
	}
	return &Refund{
		ID:     "test_re_" + uuid.NewString(),
		Amount: subscription.Money{Amount: amount, Currency: req.Payment.Amount.Currency},
		Status: "succeeded",
	}, nil
}
