package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/modules/billing"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/usage"
	billingsvc "github.com/dmitrymomot/billingkit/svc/billing"
)

type fixture struct {
	mod     *billing.Module
	handler http.Handler
	svc     *billingsvc.Service
	sim     *gateway.Simulation
	tracker *usage.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	catalog, err := subscription.NewCatalog(ctx, subscription.NewMemorySource(
		subscription.Plan{
			ID:     "free",
			Name:   "Free",
			Price:  subscription.NewMoney(0, "USD"),
			Period: subscription.PeriodMonthly,
			Limits: map[string]int64{"max_projects": 1},
			Public: true,
		},
		subscription.Plan{
			ID:        "pro",
			Name:      "Pro",
			Price:     subscription.NewMoney(1999, "USD"),
			Period:    subscription.PeriodMonthly,
			Limits:    map[string]int64{"max_projects": 2},
			TrialDays: 14,
			Public:    true,
		},
		subscription.Plan{
			ID:     "team",
			Name:   "Team",
			Price:  subscription.NewMoney(4999, "USD"),
			Period: subscription.PeriodMonthly,
			Limits: map[string]int64{"max_projects": 20},
		},
	))
	require.NoError(t, err)

	ledger := subscription.NewLedger(subscription.NewMemoryStore(), catalog)
	tracker := usage.NewTracker(usage.NewMemoryStore())
	gate := usage.NewGate(ledger, catalog, tracker, usage.WithUpgradeURL("/pricing"))

	sim := gateway.NewSimulation(gateway.SimulationConfig{
		WebhookSecret: "whsec_test",
		CheckoutURL:   "https://billing.test/checkout",
	})
	resolver := gateway.NewResolver(gateway.ResolverConfig{Default: "test", Fallback: "test", AllowSimulation: true}, sim)
	svc := billingsvc.NewService(billingsvc.Config{}, resolver, ledger, gate,
		billingsvc.WithDeduper(billingsvc.NewMemoryDeduper(0)))

	mod := billing.New(svc)
	return &fixture{mod: mod, handler: mod.Handle(), svc: svc, sim: sim, tracker: tracker}
}

func (f *fixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return serve(t, f.handler, method, path, userID, body)
}

func serve(t *testing.T, h http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(billing.DefaultUserHeader, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f *fixture) pay(t *testing.T, userID, planID string) map[string]any {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/payments", userID, map[string]any{
		"plan_id":     planID,
		"card_number": gateway.CardSuccess,
		"card_expiry": "12/40",
		"card_cvc":    "123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody(t, rec)
}

func TestListPlans(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/plans", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Plans []billing.PlanResponse `json:"plans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	ids := make([]string, 0, len(body.Plans))
	for _, p := range body.Plans {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"free", "pro"}, ids, "unlisted plans are hidden")
	assert.Contains(t, body.Plans[1].PriceFormatted, "19.99")
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, path := range []string{"/subscription", "/subscriptions", "/usage", "/usage/projects"} {
		rec := f.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := f.do(t, http.MethodPost, "/checkout", "", map[string]any{"plan_id": "pro"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPayment_ActivatesSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	paid := f.pay(t, "u1", "pro")
	assert.Equal(t, true, paid["success"])
	assert.NotEmpty(t, paid["transaction_id"])

	rec := f.do(t, http.MethodGet, "/subscription", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sub billing.SubscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.True(t, sub.Active)
	require.NotNil(t, sub.Subscription)
	assert.Equal(t, "pro", sub.Subscription.PlanID)
	assert.Equal(t, subscription.StatusActive, sub.Subscription.Status)
	require.NotNil(t, sub.Plan)
	assert.Equal(t, "Pro", sub.Plan.Name)
	assert.Zero(t, sub.TrialDaysRemaining, "direct payments have no trial")
}

func TestPayment_Declined(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/payments", "u1", map[string]any{
		"plan_id":     "pro",
		"card_number": "4000 0000 0000 0002",
		"card_expiry": "12/40",
		"card_cvc":    "123",
	})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, gateway.DeclineGeneric, body["error_code"])

	rec = f.do(t, http.MethodGet, "/subscription", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["active"])
}

func TestPayment_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/payments", "u1", map[string]any{
		"plan_id":     "pro",
		"card_number": "42",
		"card_expiry": "13/40",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	details, ok := decodeBody(t, rec)["details"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, details, "card_number")
	assert.Contains(t, details, "card_expiry")
	assert.Contains(t, details, "card_cvc")
}

func TestPayment_UserMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/payments", "u1", map[string]any{
		"plan_id":     "pro",
		"user_id":     "u2",
		"card_number": gateway.CardSuccess,
		"card_expiry": "12/40",
		"card_cvc":    "123",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPayment_BodyUserWithoutHeader(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/payments", "", map[string]any{
		"plan_id":     "pro",
		"user_id":     "u3",
		"card_number": gateway.CardSuccess,
		"card_expiry": "12/40",
		"card_cvc":    "123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sub, err := f.svc.ActiveSubscription(context.Background(), "u3")
	require.NoError(t, err)
	assert.Equal(t, "pro", sub.PlanID)
}

func TestPayment_BodyUserRequiresSimulation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	catalog, err := subscription.NewCatalog(ctx, subscription.NewMemorySource(subscription.Plan{
		ID:     "pro",
		Name:   "Pro",
		Price:  subscription.NewMoney(1999, "USD"),
		Period: subscription.PeriodMonthly,
		Public: true,
	}))
	require.NoError(t, err)
	ledger := subscription.NewLedger(subscription.NewMemoryStore(), catalog)
	gate := usage.NewGate(ledger, catalog, usage.NewTracker(usage.NewMemoryStore()))
	resolver := gateway.NewResolver(
		gateway.ResolverConfig{Default: "stripe", Fallback: "test", AllowSimulation: true},
		gateway.NewStripe(gateway.StripeConfig{SecretKey: "sk_test", WebhookSecret: "whsec_test"}),
		gateway.NewSimulation(gateway.SimulationConfig{}),
	)
	svc := billingsvc.NewService(billingsvc.Config{}, resolver, ledger, gate)
	h := billing.New(svc).Handle()

	body := func(gw string) map[string]any {
		return map[string]any{
			"plan_id":     "pro",
			"user_id":     "victim",
			"gateway":     gw,
			"card_number": gateway.CardSuccess,
			"card_expiry": "12/40",
			"card_cvc":    "123",
		}
	}

	for _, gw := range []string{"", "stripe", "paypal"} {
		rec := serve(t, h, http.MethodPost, "/payments", "", body(gw))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "gateway %q: %s", gw, rec.Body.String())
	}
	_, err = svc.ActiveSubscription(ctx, "victim")
	assert.ErrorIs(t, err, subscription.ErrNoActiveSubscription)

	rec := serve(t, h, http.MethodPost, "/payments", "", body("test"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCheckout(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/checkout", "u1", map[string]any{"plan_id": "pro"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "test", body["gateway"])
	assert.NotEmpty(t, body["session_id"])
	assert.Contains(t, body["checkout_url"], "https://billing.test/checkout")

	rec = f.do(t, http.MethodPost, "/checkout", "u1", map[string]any{"plan_id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/checkout", "u1", map[string]any{"plan_id": "free"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/checkout", "u1", map[string]any{"plan_id": "pro", "gateway": "paypal"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefund(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	paid := f.pay(t, "u1", "pro")
	txID := paid["transaction_id"]

	rec := f.do(t, http.MethodPost, "/refunds", "u2", map[string]any{"transaction_id": txID})
	assert.Equal(t, http.StatusNotFound, rec.Code, "other users cannot refund")

	rec = f.do(t, http.MethodPost, "/refunds", "u1", map[string]any{"transaction_id": txID, "amount": 5000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "refund_exceeds_payment", decodeBody(t, rec)["error_code"])

	rec = f.do(t, http.MethodPost, "/refunds", "u1", map[string]any{"transaction_id": txID, "amount": -1})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/refunds", "u1", map[string]any{"transaction_id": txID, "amount": 500})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["refund_id"])

	rec = f.do(t, http.MethodPost, "/refunds", "u1", map[string]any{"transaction_id": txID})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelAndResume(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/subscription/cancel", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.pay(t, "u1", "pro")

	rec = f.do(t, http.MethodPost, "/subscription/cancel", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sub := decodeBody(t, rec)["subscription"].(map[string]any)
	assert.Equal(t, string(subscription.StatusCanceled), sub["status"])

	rec = f.do(t, http.MethodPost, "/subscription/resume", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sub = decodeBody(t, rec)["subscription"].(map[string]any)
	assert.Equal(t, string(subscription.StatusActive), sub["status"])

	rec = f.do(t, http.MethodGet, "/subscriptions", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["subscriptions"], 1)
}

func TestUsageCheck(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/usage/projects", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, string(usage.ReasonNoActiveSubscription), body["reason"])
	assert.Equal(t, "/pricing", body["upgrade_url"])

	f.pay(t, "u1", "pro")
	_, err := f.tracker.Increment(context.Background(), "u1", usage.ResourceProjects, 1)
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/usage/projects", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, true, body["allowed"])
	assert.EqualValues(t, 1, body["current"])
	assert.EqualValues(t, 2, body["limit"])
	assert.EqualValues(t, 50, body["percentage"])

	rec = f.do(t, http.MethodGet, "/usage/widgets", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/usage", "u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	amount := subscription.NewMoney(1999, "USD")
	payload, sig, err := f.sim.SignEvent(gateway.Event{
		ID:            "evt_1",
		Type:          gateway.EventCheckoutCompleted,
		UserID:        "u1",
		PlanID:        "pro",
		TransactionID: "tx_1",
		Amount:        &amount,
	})
	require.NoError(t, err)

	post := func(name, signature string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/"+name, bytes.NewReader(body))
		req.Header.Set(gateway.SimulationSignatureHeader, signature)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := post("test", "t=1,v1=forged", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_signature", decodeBody(t, rec)["error_code"])

	rec = post("paypal", sig, payload)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = post("test", sig, payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ack billing.WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.True(t, ack.Received)
	assert.Equal(t, "evt_1", ack.EventID)
	assert.Equal(t, billingsvc.OutcomeApplied, ack.Outcome)

	rec = post("test", sig, payload)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, billingsvc.OutcomeDuplicate, ack.Outcome)

	sub, err := f.svc.ActiveSubscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "pro", sub.PlanID)
}

func TestRequireUsage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	r := chi.NewRouter()
	r.With(f.mod.RequireUsage(usage.ResourceProjects)).Post("/projects", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		userID, _ := billing.UserFromContext(r.Context())
		w.Header().Set("X-Owner", userID)
		w.WriteHeader(http.StatusCreated)
	})

	rec := serve(t, r, http.MethodPost, "/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, r, http.MethodPost, "/projects", "u1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "No active subscription", decodeBody(t, rec)["error"])

	f.pay(t, "u1", "pro")
	ctx := context.Background()

	rec = serve(t, r, http.MethodPost, "/projects", "u1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "u1", rec.Header().Get("X-Owner"))

	rec = serve(t, r, http.MethodPost, "/projects?fail=1", "u1", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	n, err := f.tracker.Current(ctx, "u1", usage.ResourceProjects)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "failed handler releases its unit")

	rec = serve(t, r, http.MethodPost, "/projects", "u1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(t, r, http.MethodPost, "/projects", "u1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	var denial usage.Denial
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &denial))
	assert.EqualValues(t, 2, denial.Current)
	assert.EqualValues(t, 2, denial.Limit)
	assert.Equal(t, "Pro", denial.PlanName)
	assert.Equal(t, "/pricing", denial.UpgradeURL)
	assert.True(t, denial.CanUpgrade)
}
