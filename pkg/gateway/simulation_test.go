package gateway_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

var fixedNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func proPlan() subscription.Plan {
	return subscription.Plan{
		ID:     "pro",
		Name:   "Pro",
		Price:  subscription.NewMoney(1999, "USD"),
		Period: subscription.PeriodMonthly,
		Limits: map[string]int64{"max_projects": 10},
		Public: true,
	}
}

func newSimulation() *gateway.Simulation {
	return gateway.NewSimulation(gateway.SimulationConfig{
		WebhookSecret: "whsec_test",
		CheckoutURL:   "https://example.test/checkout",
	}, gateway.WithSimulationClock(func() time.Time { return fixedNow }))
}

func charge(t *testing.T, g gateway.Gateway, number, expiry, cvc string) (*gateway.Charge, error) {
	t.Helper()
	return g.ProcessPayment(context.Background(), gateway.ChargeRequest{
		Plan:   proPlan(),
		UserID: "user-1",
		Card:   gateway.Card{Number: number, Expiry: expiry, CVC: cvc},
	})
}

func TestSimulation_CardTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		card string
		code string
	}{
		{card: gateway.CardSuccess},
		{card: gateway.CardDeclined, code: gateway.DeclineGeneric},
		{card: gateway.CardExpired, code: gateway.DeclineExpiredCard},
		{card: gateway.CardIncorrectCVC, code: gateway.DeclineIncorrectCVC},
		{card: gateway.CardProcessingError, code: gateway.DeclineProcessingError},
		{card: gateway.CardInsufficientFunds, code: gateway.DeclineInsufficientFunds},
		{card: "5555555555554444"},
	}

	for _, tt := range tests {
		t.Run(tt.card, func(t *testing.T) {
			t.Parallel()

			res, err := charge(t, newSimulation(), tt.card, "12/30", "123")
			if tt.code == "" {
				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(res.TransactionID, "test_tx_"))
				assert.Equal(t, subscription.NewMoney(1999, "USD"), res.Amount)
				assert.Equal(t, gateway.SimulationName, res.Gateway)
				return
			}
			require.Error(t, err)
			d, ok := gateway.AsDecline(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, d.Code)
			assert.NotEmpty(t, d.Message)
		})
	}
}

func TestSimulation_CardInput(t *testing.T) {
	t.Parallel()

	t.Run("spaces and dashes are stripped", func(t *testing.T) {
		t.Parallel()

		_, err := charge(t, newSimulation(), "4000 0000-0000 0002", "12/30", "123")
		d, ok := gateway.AsDecline(err)
		require.True(t, ok)
		assert.Equal(t, gateway.DeclineGeneric, d.Code)
	})

	t.Run("past expiry", func(t *testing.T) {
		t.Parallel()

		_, err := charge(t, newSimulation(), gateway.CardSuccess, "05/25", "123")
		d, ok := gateway.AsDecline(err)
		require.True(t, ok)
		assert.Equal(t, gateway.DeclineExpiredCard, d.Code)
	})

	t.Run("current month is valid", func(t *testing.T) {
		t.Parallel()

		_, err := charge(t, newSimulation(), gateway.CardSuccess, "06/2025", "1234")
		assert.NoError(t, err)
	})

	t.Run("bad cvc", func(t *testing.T) {
		t.Parallel()

		for _, cvc := range []string{"12", "12345", "abc"} {
			_, err := charge(t, newSimulation(), gateway.CardSuccess, "12/30", cvc)
			d, ok := gateway.AsDecline(err)
			require.True(t, ok, cvc)
			assert.Equal(t, gateway.DeclineIncorrectCVC, d.Code)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		t.Parallel()

		_, err := charge(t, newSimulation(), "", "12/30", "123")
		assert.ErrorIs(t, err, gateway.ErrInvalidRequest)
		_, err = charge(t, newSimulation(), "4242abcd", "12/30", "123")
		assert.ErrorIs(t, err, gateway.ErrInvalidRequest)
		_, err = charge(t, newSimulation(), gateway.CardSuccess, "13/30", "123")
		assert.ErrorIs(t, err, gateway.ErrInvalidRequest)
		_, err = charge(t, newSimulation(), gateway.CardSuccess, "1230", "123")
		assert.ErrorIs(t, err, gateway.ErrInvalidRequest)
	})
}

func TestSimulation_CreateCheckoutSession(t *testing.T) {
	t.Parallel()

	sess, err := newSimulation().CreateCheckoutSession(context.Background(), gateway.CheckoutRequest{
		Plan:   proPlan(),
		UserID: "user-1",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sess.ID, "test_cs_"))
	assert.Contains(t, sess.URL, "https://example.test/checkout?")
	assert.Contains(t, sess.URL, "session_id="+sess.ID)
	assert.Equal(t, fixedNow.Add(24*time.Hour), sess.ExpiresAt)
}

func TestSimulation_Webhook(t *testing.T) {
	t.Parallel()

	sim := newSimulation()
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		payload, sig, err := sim.SignEvent(gateway.Event{
			ID:            "evt_1",
			Type:          gateway.EventCheckoutCompleted,
			UserID:        "user-1",
			PlanID:        "pro",
			TransactionID: "test_tx_1",
			OccurredAt:    fixedNow,
		})
		require.NoError(t, err)

		ev, err := sim.ParseWebhook(ctx, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", ev.ID)
		assert.Equal(t, gateway.EventCheckoutCompleted, ev.Type)
		assert.Equal(t, "user-1", ev.UserID)
		assert.Equal(t, fixedNow, ev.OccurredAt)
	})

	t.Run("tampered payload", func(t *testing.T) {
		t.Parallel()

		payload, sig, err := sim.SignEvent(gateway.Event{ID: "evt_1", Type: gateway.EventIgnored})
		require.NoError(t, err)
		payload[len(payload)-2] = ' '

		_, err = sim.ParseWebhook(ctx, payload, sig)
		assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()

		_, err := sim.ParseWebhook(ctx, []byte(`{"id":"evt_1","type":"ignored"}`), "")
		assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	})

	t.Run("missing secret", func(t *testing.T) {
		t.Parallel()

		g := gateway.NewSimulation(gateway.SimulationConfig{})
		_, err := g.ParseWebhook(ctx, []byte(`{}`), "t=1,v1=aa")
		assert.ErrorIs(t, err, gateway.ErrWebhookSecretMissing)
	})

	t.Run("signed garbage", func(t *testing.T) {
		t.Parallel()

		sig, err := gateway.SignRaw(sim, []byte(`not json`))
		require.NoError(t, err)
		_, err = sim.ParseWebhook(ctx, []byte(`not json`), sig)
		assert.ErrorIs(t, err, gateway.ErrMalformedPayload)
	})
}

func TestSimulation_Refund(t *testing.T) {
	t.Parallel()

	pay := subscription.Payment{ID: "pay_1", TransactionID: "test_tx_1", Amount: subscription.NewMoney(1999, "USD")}
	sim := newSimulation()

	full, err := sim.Refund(context.Background(), gateway.RefundRequest{Payment: pay})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(full.ID, "test_re_"))
	assert.Equal(t, subscription.NewMoney(1999, "USD"), full.Amount)

	part := int64(500)
	partial, err := sim.Refund(context.Background(), gateway.RefundRequest{Payment: pay, Amount: &part})
	require.NoError(t, err)
	assert.Equal(t, int64(500), partial.Amount.Amount)

	over := int64(5000)
	_, err = sim.Refund(context.Background(), gateway.RefundRequest{Payment: pay, Amount: &over})
	assert.ErrorIs(t, err, gateway.ErrInvalidRequest)
}
