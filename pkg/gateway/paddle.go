package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// PaddleName is the registry name of the Paddle gateway.
const PaddleName = "paddle"

// PaddleSignatureHeader is the header carrying Paddle webhook signatures.
const PaddleSignatureHeader = "Paddle-Signature"

// PaddleConfig holds configuration for the Paddle gateway.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// Paddle is a hosted-checkout gateway backed by Paddle Billing transactions.
// Plans must carry a Paddle price id; trials and the billing interval are
// configured on that price.
type Paddle struct {
	cfg      PaddleConfig
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddle creates the Paddle gateway. Without an API key the gateway is
// registered but reports itself unconfigured.
func NewPaddle(cfg PaddleConfig) (*Paddle, error) {
	p := &Paddle{cfg: cfg}
	if cfg.WebhookSecret != "" {
		p.verifier = paddle.NewWebhookVerifier(cfg.WebhookSecret)
	}
	if cfg.APIKey == "" {
		return p, nil
	}

	var err error
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		p.client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		p.client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}
	return p, nil
}

func (p *Paddle) Name() string       { return PaddleName }
func (p *Paddle) IsConfigured() bool { return p.client != nil && p.verifier != nil }

// CreateCheckoutSession creates a Paddle transaction and returns its hosted
// checkout URL. The transaction id doubles as the session id.
func (p *Paddle) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if p.client == nil {
		return nil, ErrNotConfigured
	}
	priceID := req.Plan.PriceID(PaddleName)
	if priceID == "" {
		return nil, fmt.Errorf("%w: plan %s", ErrPriceNotConfigured, req.Plan.ID)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})
	txReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			MetaUserID: req.UserID,
			MetaPlanID: req.Plan.ID,
		},
	}
	if req.Email != "" {
		txReq.CustomData["email"] = req.Email
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, wrap(PaddleName, "create_checkout_session", err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil || *tx.Checkout.URL == "" {
		return nil, wrap(PaddleName, "create_checkout_session", ErrNoCheckoutURL)
	}

	return &CheckoutSession{
		ID:      tx.ID,
		URL:     *tx.Checkout.URL,
		Gateway: PaddleName,
	}, nil
}

// ProcessPayment is not available; Paddle payments go through hosted checkout.
func (p *Paddle) ProcessPayment(context.Context, ChargeRequest) (*Charge, error) {
	return nil, ErrDirectPaymentUnsupported
}

// ParseWebhook verifies the Paddle-Signature header and normalizes the event.
func (p *Paddle) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	if p.verifier == nil {
		return nil, ErrWebhookSecretMissing
	}
	if signature == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrInvalidSignature, PaddleSignatureHeader)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/paddle", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set(PaddleSignatureHeader, signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}
	return decodePaddleEvent(payload)
}

type paddleEvent struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddleData struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	Action         string         `json:"action"`
	TransactionID  string         `json:"transaction_id"`
	SubscriptionID string         `json:"subscription_id"`
	CustomerID     string         `json:"customer_id"`
	CurrencyCode   string         `json:"currency_code"`
	CanceledAt     *time.Time     `json:"canceled_at"`
	CustomData     map[string]any `json:"custom_data"`
	BillingPeriod  *paddlePeriod  `json:"current_billing_period"`
	Details        *paddleDetails `json:"details"`
	Totals         *paddleTotals  `json:"totals"`
}

type paddlePeriod struct {
	EndsAt time.Time `json:"ends_at"`
}

type paddleDetails struct {
	Totals paddleTotals `json:"totals"`
}

type paddleTotals struct {
	Total        string `json:"total"`
	GrandTotal   string `json:"grand_total"`
	CurrencyCode string `json:"currency_code"`
}

func (d *paddleData) custom(key string) string {
	if v, ok := d.CustomData[key].(string); ok {
		return v
	}
	return ""
}

// paddleAmount converts a Paddle lowest-denomination amount string.
func paddleAmount(amount, currency string) *subscription.Money {
	if amount == "" || currency == "" {
		return nil
	}
	n, err := strconv.ParseInt(amount, 10, 64)
	if err != nil {
		return nil
	}
	m := subscription.NewMoney(n, currency)
	return &m
}

func decodePaddleEvent(payload []byte) (*Event, error) {
	var pe paddleEvent
	if err := json.Unmarshal(payload, &pe); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if pe.EventID == "" || pe.EventType == "" {
		return nil, fmt.Errorf("%w: event id and type are required", ErrMalformedPayload)
	}
	var d paddleData
	if len(pe.Data) > 0 {
		if err := json.Unmarshal(pe.Data, &d); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
	}

	out := &Event{
		ID:           pe.EventID,
		Type:         EventIgnored,
		ProviderType: pe.EventType,
		OccurredAt:   pe.OccurredAt.UTC(),
	}

	switch {
	case pe.EventType == "transaction.completed":
		out.Type = EventCheckoutCompleted
		out.TransactionID = d.ID
		out.SessionID = d.ID
		out.UserID = d.custom(MetaUserID)
		out.PlanID = d.custom(MetaPlanID)
		out.ExternalSubscriptionID = d.SubscriptionID
		out.ExternalCustomerID = d.CustomerID
		if d.Details != nil {
			out.Amount = paddleAmount(d.Details.Totals.GrandTotal, d.CurrencyCode)
		}
		out.Metadata = map[string]string{MetaSessionID: d.ID}
		if d.CustomerID != "" {
			out.Metadata[MetaCustomerID] = d.CustomerID
		}

	case pe.EventType == "transaction.payment_failed":
		out.Type = EventInvoicePaymentFailed
		out.TransactionID = d.ID
		out.ExternalSubscriptionID = d.SubscriptionID
		out.ExternalCustomerID = d.CustomerID

	case strings.HasPrefix(pe.EventType, "subscription.") && pe.EventType != "subscription.created":
		out.Type = EventSubscriptionUpdated
		out.ExternalSubscriptionID = d.ID
		out.ExternalCustomerID = d.CustomerID
		out.ProviderStatus = NormalizeStatus(d.Status)
		out.UserID = d.custom(MetaUserID)
		out.PlanID = d.custom(MetaPlanID)
		if d.BillingPeriod != nil && !d.BillingPeriod.EndsAt.IsZero() {
			end := d.BillingPeriod.EndsAt.UTC()
			out.PeriodEnd = &end
		}
		if d.CanceledAt != nil {
			at := d.CanceledAt.UTC()
			out.CanceledAt = &at
		}

	case strings.HasPrefix(pe.EventType, "adjustment.") && d.Action == "refund" && d.Status == "approved":
		out.Type = EventChargeRefunded
		out.TransactionID = d.TransactionID
		out.RefundID = d.ID
		if d.Totals != nil {
			out.Amount = paddleAmount(d.Totals.Total, d.Totals.CurrencyCode)
		}
	}

	return out, nil
}

// Refund creates a full refund adjustment for the transaction. Paddle
// partial refunds are item based and are not supported here.
func (p *Paddle) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if p.client == nil {
		return nil, ErrNotConfigured
	}
	if req.Amount != nil && *req.Amount != req.Payment.Amount.Amount {
		return nil, fmt.Errorf("%w: partial refunds", ErrRefundUnsupported)
	}
	reason := req.Reason
	if reason == "" {
		reason = "requested_by_customer"
	}

	adj, err := p.client.AdjustmentsClient.CreateAdjustment(ctx, &paddle.CreateAdjustmentRequest{
		Action:        paddle.AdjustmentActionRefund,
		TransactionID: req.Payment.TransactionID,
		Reason:        reason,
		Type:          paddle.PtrTo(paddle.AdjustmentTypeFull),
	})
	if err != nil {
		return nil, wrap(PaddleName, "refund", err)
	}
	return &Refund{
		ID:     adj.ID,
		Amount: req.Payment.Amount,
		Status: string(adj.Status),
	}, nil
}
