package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	stripeclient "github.com/stripe/stripe-go/v76/client"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// StripeName is the registry name of the Stripe gateway.
const StripeName = "stripe"

// StripeSignatureHeader is the header carrying Stripe webhook signatures.
const StripeSignatureHeader = "Stripe-Signature"

// StripeConfig holds configuration for the Stripe gateway.
type StripeConfig struct {
	SecretKey        string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET"`
	APIURL           string        `env:"STRIPE_API_URL"` // stripe-mock or a test server
	WebhookTolerance time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

// Stripe is a hosted-checkout gateway backed by Stripe Checkout.
type Stripe struct {
	cfg StripeConfig
	api *stripeclient.API
}

// StripeOption configures the Stripe gateway.
type StripeOption func(*stripe.BackendConfig)

// WithStripeHTTPClient sets the HTTP client used for API calls.
func WithStripeHTTPClient(c *http.Client) StripeOption {
	return func(bc *stripe.BackendConfig) {
		bc.HTTPClient = c
	}
}

// WithStripeRetries sets the SDK network retry count.
func WithStripeRetries(n int64) StripeOption {
	return func(bc *stripe.BackendConfig) {
		bc.MaxNetworkRetries = stripe.Int64(n)
	}
}

// NewStripe creates the Stripe gateway. The client never touches the SDK's
// global key.
func NewStripe(cfg StripeConfig, opts ...StripeOption) *Stripe {
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = stripewebhook.DefaultTolerance
	}
	bc := &stripe.BackendConfig{
		LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.APIURL != "" {
		bc.URL = stripe.String(cfg.APIURL)
	}
	for _, opt := range opts {
		opt(bc)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, bc)
	return &Stripe{
		cfg: cfg,
		api: stripeclient.New(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}),
	}
}

func (s *Stripe) Name() string       { return StripeName }
func (s *Stripe) IsConfigured() bool { return s.cfg.SecretKey != "" && s.cfg.WebhookSecret != "" }

// CreateCheckoutSession creates a Checkout Session in subscription mode for
// recurring plans and payment mode for lifetime plans. The user and plan are
// carried in metadata for the completion webhook.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if s.cfg.SecretKey == "" {
		return nil, ErrNotConfigured
	}

	meta := map[string]string{
		MetaUserID: req.UserID,
		MetaPlanID: req.Plan.ID,
	}
	trial := req.EffectiveTrialDays()
	if trial > 0 {
		meta[MetaTrialDays] = strconv.Itoa(trial)
	}

	params := &stripe.CheckoutSessionParams{
		ClientReferenceID: stripe.String(req.UserID),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{stripeLineItem(req.Plan)},
		Metadata:          meta,
	}
	params.Context = ctx
	if req.SuccessURL != "" {
		params.SuccessURL = stripe.String(req.SuccessURL)
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	if req.Recurring() {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: meta}
		if trial > 0 {
			params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(trial))
		}
	} else {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: meta}
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, wrap(StripeName, "create_checkout_session", err)
	}
	if sess.URL == "" {
		return nil, wrap(StripeName, "create_checkout_session", ErrNoCheckoutURL)
	}

	out := &CheckoutSession{ID: sess.ID, URL: sess.URL, Gateway: StripeName}
	if sess.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(sess.ExpiresAt, 0).UTC()
	}
	return out, nil
}

func stripeLineItem(p subscription.Plan) *stripe.CheckoutSessionLineItemParams {
	if id := p.PriceID(StripeName); id != "" {
		return &stripe.CheckoutSessionLineItemParams{Price: stripe.String(id), Quantity: stripe.Int64(1)}
	}
	data := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripe.String(strings.ToLower(p.Price.Currency)),
		UnitAmount: stripe.Int64(p.Price.Amount),
		ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(p.Name),
		},
	}
	if p.Description != "" {
		data.ProductData.Description = stripe.String(p.Description)
	}
	switch p.Period {
	case subscription.PeriodMonthly:
		data.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{Interval: stripe.String("month")}
	case subscription.PeriodYearly:
		data.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{Interval: stripe.String("year")}
	}
	return &stripe.CheckoutSessionLineItemParams{PriceData: data, Quantity: stripe.Int64(1)}
}

// ProcessPayment is not available; Stripe payments go through hosted checkout.
func (s *Stripe) ProcessPayment(context.Context, ChargeRequest) (*Charge, error) {
	return nil, ErrDirectPaymentUnsupported
}

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
// Subscription-mode checkouts carry no payment intent on the session; it is
// read from the session's first invoice so refunds and charge.refunded events
// can find the payment.
func (s *Stripe) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	if s.cfg.WebhookSecret == "" {
		return nil, ErrWebhookSecretMissing
	}

	evt, err := stripewebhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
		stripewebhook.ConstructEventOptions{
			Tolerance:                s.cfg.WebhookTolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		switch {
		case errors.Is(err, stripewebhook.ErrNotSigned),
			errors.Is(err, stripewebhook.ErrInvalidHeader),
			errors.Is(err, stripewebhook.ErrNoValidSignature),
			errors.Is(err, stripewebhook.ErrTooOld):
			return nil, errors.Join(ErrInvalidSignature, err)
		default:
			return nil, errors.Join(ErrMalformedPayload, err)
		}
	}
	if evt.Data == nil {
		return nil, fmt.Errorf("%w: event has no data", ErrMalformedPayload)
	}

	out := &Event{
		ID:           evt.ID,
		Type:         EventIgnored,
		ProviderType: string(evt.Type),
		OccurredAt:   time.Unix(evt.Created, 0).UTC(),
	}

	switch evt.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		decodeStripeSession(out, &sess)
		if out.Metadata[MetaPaymentIntent] == "" && sess.Invoice != nil && sess.Invoice.ID != "" {
			pi, err := s.invoicePaymentIntent(ctx, sess.Invoice)
			if err != nil {
				return nil, err
			}
			if pi != "" {
				out.TransactionID = pi
				out.Metadata[MetaPaymentIntent] = pi
			}
		}

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		out.Type = EventSubscriptionUpdated
		if evt.Type == "customer.subscription.deleted" {
			out.Type = EventSubscriptionDeleted
		}
		out.ExternalSubscriptionID = sub.ID
		out.ProviderStatus = NormalizeStatus(string(sub.Status))
		out.PeriodEnd = unixTime(sub.CurrentPeriodEnd)
		if out.ProviderStatus == subscription.ProviderCanceled {
			out.CanceledAt = unixTime(sub.CanceledAt)
		}
		if sub.Customer != nil {
			out.ExternalCustomerID = sub.Customer.ID
		}
		out.UserID = sub.Metadata[MetaUserID]
		out.PlanID = sub.Metadata[MetaPlanID]

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		out.Type = EventInvoicePaymentFailed
		if inv.Subscription != nil {
			out.ExternalSubscriptionID = inv.Subscription.ID
		}
		if inv.Customer != nil {
			out.ExternalCustomerID = inv.Customer.ID
		}
		if inv.PaymentIntent != nil {
			out.TransactionID = inv.PaymentIntent.ID
		}
		out.Amount = &subscription.Money{Amount: inv.AmountDue, Currency: strings.ToUpper(string(inv.Currency))}

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(evt.Data.Raw, &ch); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		out.Type = EventChargeRefunded
		out.TransactionID = ch.ID
		if ch.PaymentIntent != nil && ch.PaymentIntent.ID != "" {
			out.TransactionID = ch.PaymentIntent.ID
		}
		if ch.Refunds != nil && len(ch.Refunds.Data) > 0 {
			out.RefundID = ch.Refunds.Data[0].ID
		}
		out.Amount = &subscription.Money{Amount: ch.AmountRefunded, Currency: strings.ToUpper(string(ch.Currency))}
	}

	return out, nil
}

func decodeStripeSession(out *Event, sess *stripe.CheckoutSession) {
	out.Type = EventCheckoutCompleted
	out.SessionID = sess.ID
	out.UserID = sess.Metadata[MetaUserID]
	if out.UserID == "" {
		out.UserID = sess.ClientReferenceID
	}
	out.PlanID = sess.Metadata[MetaPlanID]
	out.TrialDays, _ = strconv.Atoi(sess.Metadata[MetaTrialDays])
	out.Metadata = map[string]string{MetaSessionID: sess.ID}

	out.TransactionID = sess.ID
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		out.TransactionID = sess.PaymentIntent.ID
		out.Metadata[MetaPaymentIntent] = sess.PaymentIntent.ID
	}
	if sess.Subscription != nil {
		out.ExternalSubscriptionID = sess.Subscription.ID
	}
	if sess.Invoice != nil && sess.Invoice.ID != "" {
		out.Metadata[MetaInvoiceID] = sess.Invoice.ID
	}
	if sess.Customer != nil {
		out.ExternalCustomerID = sess.Customer.ID
		out.Metadata[MetaCustomerID] = sess.Customer.ID
	}
	if sess.Currency != "" {
		out.Amount = &subscription.Money{Amount: sess.AmountTotal, Currency: strings.ToUpper(string(sess.Currency))}
	}
}

// Refund refunds the payment intent behind the payment.
func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if s.cfg.SecretKey == "" {
		return nil, ErrNotConfigured
	}

	params := &stripe.RefundParams{
		Reason: stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
		Metadata: map[string]string{
			MetaUserID:   req.Payment.UserID,
			"payment_id": req.Payment.ID,
		},
	}
	params.Context = ctx

	pi := req.Payment.Metadata[MetaPaymentIntent]
	if pi == "" && !strings.HasPrefix(req.Payment.TransactionID, "pi_") && !strings.HasPrefix(req.Payment.TransactionID, "ch_") {
		var err error
		if pi, err = s.paymentIntentFor(ctx, req.Payment); err != nil {
			return nil, err
		}
	}
	switch {
	case pi != "":
		params.PaymentIntent = stripe.String(pi)
	case strings.HasPrefix(req.Payment.TransactionID, "pi_"):
		params.PaymentIntent = stripe.String(req.Payment.TransactionID)
	case strings.HasPrefix(req.Payment.TransactionID, "ch_"):
		params.Charge = stripe.String(req.Payment.TransactionID)
	default:
		return nil, fmt.Errorf("%w: no payment intent for transaction %s", ErrRefundUnsupported, req.Payment.TransactionID)
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}

	r, err := s.api.Refunds.New(params)
	if err != nil {
		return nil, wrap(StripeName, "refund", err)
	}
	currency := strings.ToUpper(string(r.Currency))
	if currency == "" {
		currency = req.Payment.Amount.Currency
	}
	return &Refund{
		ID:     r.ID,
		Amount: subscription.Money{Amount: r.Amount, Currency: currency},
		Status: string(r.Status),
	}, nil
}

// invoicePaymentIntent returns the payment intent that paid inv. Invoices of
// free trials have none.
func (s *Stripe) invoicePaymentIntent(ctx context.Context, inv *stripe.Invoice) (string, error) {
	if inv.PaymentIntent != nil && inv.PaymentIntent.ID != "" {
		return inv.PaymentIntent.ID, nil
	}
	if s.cfg.SecretKey == "" {
		return "", nil
	}
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	full, err := s.api.Invoices.Get(inv.ID, params)
	if err != nil {
		return "", wrap(StripeName, "get_invoice", err)
	}
	if full.PaymentIntent == nil {
		return "", nil
	}
	return full.PaymentIntent.ID, nil
}

// paymentIntentFor resolves the payment intent of a payment recorded under a
// checkout session id.
func (s *Stripe) paymentIntentFor(ctx context.Context, p subscription.Payment) (string, error) {
	if inv := p.Metadata[MetaInvoiceID]; inv != "" {
		return s.invoicePaymentIntent(ctx, &stripe.Invoice{ID: inv})
	}
	sessID := p.Metadata[MetaSessionID]
	if sessID == "" && strings.HasPrefix(p.TransactionID, "cs_") {
		sessID = p.TransactionID
	}
	if sessID == "" {
		return "", nil
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("invoice.payment_intent")
	sess, err := s.api.CheckoutSessions.Get(sessID, params)
	if err != nil {
		return "", wrap(StripeName, "get_checkout_session", err)
	}
	switch {
	case sess.PaymentIntent != nil && sess.PaymentIntent.ID != "":
		return sess.PaymentIntent.ID, nil
	case sess.Invoice != nil && sess.Invoice.ID != "":
		return s.invoicePaymentIntent(ctx, sess.Invoice)
	}
	return "", nil
}
