package billing

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/usage"
	billingsvc "github.com/dmitrymomot/billingkit/svc/billing"
)

// PlanResponse is a plan as listed to clients.
type PlanResponse struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Description    string              `json:"description,omitempty"`
	Price          subscription.Money  `json:"price"`
	PriceFormatted string              `json:"price_formatted"`
	Period         subscription.Period `json:"period"`
	Limits         map[string]int64    `json:"limits"`
	Features       []string            `json:"features,omitempty"`
	TrialDays      int                 `json:"trial_days,omitempty"`
}

func newPlanResponse(p subscription.Plan) PlanResponse {
	return PlanResponse{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		Price:          p.Price,
		PriceFormatted: p.Price.Format(language.English),
		Period:         p.Period,
		Limits:         p.Limits,
		Features:       p.Features,
		TrialDays:      p.TrialDays,
	}
}

func (m *Module) listPlans(w http.ResponseWriter, _ *http.Request) {
	plans := m.svc.Plans()
	out := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, newPlanResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": out})
}

// CheckoutRequest is the body of POST /checkout.
type CheckoutRequest struct {
	PlanID     string `json:"plan_id" validate:"required,slug"`
	Gateway    string `json:"gateway,omitempty" validate:"omitempty,gateway"`
	TrialDays  *int   `json:"trial_days,omitempty" validate:"omitempty,gte=0,max=365"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
	SuccessURL string `json:"success_url,omitempty" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url,omitempty" validate:"omitempty,url"`
}

func (m *Module) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := m.decode(w, r, &req); err != nil {
		m.writeError(w, r, err)
		return
	}
	res, err := m.svc.CreateCheckoutSession(r.Context(), billingsvc.CheckoutParams{
		UserID:     userFrom(r.Context()),
		PlanID:     req.PlanID,
		Gateway:    req.Gateway,
		TrialDays:  req.TrialDays,
		Email:      req.Email,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PaymentRequest is the body of POST /payments.
type PaymentRequest struct {
	PlanID     string `json:"plan_id" validate:"required,slug"`
	UserID     string `json:"user_id,omitempty" validate:"omitempty,max=128"`
	Gateway    string `json:"gateway,omitempty" validate:"omitempty,gateway"`
	SessionID  string `json:"session_id,omitempty" validate:"omitempty,max=255"`
	CardNumber string `json:"card_number" validate:"required,card_number"`
	CardExpiry string `json:"card_expiry" validate:"required,card_expiry"`
	CardCVC    string `json:"card_cvc" validate:"required,cvc"`
}

var cardDigits = strings.NewReplacer(" ", "", "-", "")

func (m *Module) payment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := m.decode(w, r, &req); err != nil {
		m.writeError(w, r, err)
		return
	}

	userID := req.UserID
	if caller, err := m.users(r); err == nil {
		if userID != "" && userID != caller {
			m.writeError(w, r, errUserMismatch)
			return
		}
		userID = caller
	} else if userID == "" || !m.simulated(req.Gateway) {
		m.writeError(w, r, ErrUnauthenticated)
		return
	}

	res, err := m.svc.ProcessPayment(r.Context(), billingsvc.PaymentParams{
		UserID:    userID,
		PlanID:    req.PlanID,
		Gateway:   req.Gateway,
		SessionID: req.SessionID,
		Card: gateway.Card{
			Number: cardDigits.Replace(req.CardNumber),
			Expiry: req.CardExpiry,
			CVC:    req.CardCVC,
		},
	})
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// simulated reports whether the named gateway is a simulation. Only those
// accept a user named in the body without an authenticated caller.
func (m *Module) simulated(name string) bool {
	g, err := m.svc.Gateways().Resolve(name)
	if err != nil {
		return false
	}
	sim, ok := g.(gateway.Simulator)
	return ok && sim.Simulated()
}

// RefundRequest is the body of POST /refunds. Amount is in minor units; a
// missing amount refunds the payment in full.
type RefundRequest struct {
	TransactionID string `json:"transaction_id" validate:"required,max=255"`
	Gateway       string `json:"gateway,omitempty" validate:"omitempty,gateway"`
	Amount        *int64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Reason        string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

func (m *Module) refund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := m.decode(w, r, &req); err != nil {
		m.writeError(w, r, err)
		return
	}
	res, err := m.svc.Refund(r.Context(), billingsvc.RefundParams{
		TransactionID: req.TransactionID,
		Gateway:       req.Gateway,
		UserID:        userFrom(r.Context()),
		Amount:        req.Amount,
		Reason:        req.Reason,
	})
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// WebhookResponse acknowledges a processed webhook.
type WebhookResponse struct {
	Received bool               `json:"received"`
	EventID  string             `json:"event_id"`
	Outcome  billingsvc.Outcome `json:"outcome"`
}

func (m *Module) webhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "gateway")
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, m.maxWebhook))
	if err != nil {
		m.writeError(w, r, errors.Join(gateway.ErrMalformedPayload, err))
		return
	}

	res, err := m.svc.HandleWebhook(r.Context(), name, payload, signatureFrom(r, name))
	switch {
	case errors.Is(err, gateway.ErrUnknownGateway):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), ErrorCode: "unknown_gateway"})
		return
	case err != nil:
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WebhookResponse{Received: true, EventID: res.EventID, Outcome: res.Outcome})
}

func signatureFrom(r *http.Request, name string) string {
	if h := gateway.SignatureHeader(name); h != "" {
		return r.Header.Get(h)
	}
	for _, h := range []string{gateway.StripeSignatureHeader, gateway.PaddleSignatureHeader, gateway.SimulationSignatureHeader} {
		if v := r.Header.Get(h); v != "" {
			return v
		}
	}
	return ""
}

// SubscriptionResponse describes the caller's current subscription.
type SubscriptionResponse struct {
	Active             bool                       `json:"active"`
	Subscription       *subscription.Subscription `json:"subscription,omitempty"`
	Plan               *PlanResponse              `json:"plan,omitempty"`
	TrialDaysRemaining int                        `json:"trial_days_remaining,omitempty"`
}

func (m *Module) getSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := m.svc.ActiveSubscription(r.Context(), userFrom(r.Context()))
	switch {
	case errors.Is(err, subscription.ErrNoActiveSubscription):
		writeJSON(w, http.StatusOK, SubscriptionResponse{})
		return
	case err != nil:
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m.subscriptionResponse(sub))
}

func (m *Module) subscriptionResponse(sub *subscription.Subscription) SubscriptionResponse {
	out := SubscriptionResponse{
		Active:             sub.IsLive(),
		Subscription:       sub,
		TrialDaysRemaining: sub.TrialDaysRemainingAt(time.Now()),
	}
	if plan, err := m.svc.Plan(sub.PlanID); err == nil {
		pr := newPlanResponse(plan)
		out.Plan = &pr
	}
	return out
}

func (m *Module) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := m.svc.Subscriptions(r.Context(), userFrom(r.Context()))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []subscription.Subscription{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (m *Module) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := m.svc.CancelSubscription(r.Context(), userFrom(r.Context()))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "subscription": sub})
}

func (m *Module) resumeSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := m.svc.ResumeSubscription(r.Context(), userFrom(r.Context()))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "subscription": sub})
}

func (m *Module) usageSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := m.svc.Usage(r.Context(), userFrom(r.Context()))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// UsageCheckResponse reports whether one more unit of a resource is allowed.
type UsageCheckResponse struct {
	usage.Decision
	Percentage float64 `json:"percentage"`
	UpgradeURL string  `json:"upgrade_url,omitempty"`
}

func (m *Module) usageCheck(w http.ResponseWriter, r *http.Request) {
	kind := usage.Resource(chi.URLParam(r, "resource"))
	d, err := m.svc.Gate().Check(r.Context(), userFrom(r.Context()), kind)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	out := UsageCheckResponse{Decision: d, Percentage: d.Percentage()}
	if !d.Allowed {
		out.UpgradeURL = m.svc.Gate().UpgradeURL()
	}
	writeJSON(w, http.StatusOK, out)
}
