package gateway_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

func TestNewPaddle(t *testing.T) {
	t.Parallel()

	p, err := gateway.NewPaddle(gateway.PaddleConfig{})
	require.NoError(t, err)
	assert.False(t, p.IsConfigured())

	_, err = p.CreateCheckoutSession(context.Background(), gateway.CheckoutRequest{Plan: proPlan()})
	assert.ErrorIs(t, err, gateway.ErrNotConfigured)
	_, err = p.ParseWebhook(context.Background(), []byte(`{}`), "ts=1;h1=abc")
	assert.ErrorIs(t, err, gateway.ErrWebhookSecretMissing)

	_, err = gateway.NewPaddle(gateway.PaddleConfig{APIKey: "key", Environment: "staging"})
	assert.Error(t, err)

	p, err = gateway.NewPaddle(gateway.PaddleConfig{APIKey: "key", WebhookSecret: "sec", Environment: "sandbox"})
	require.NoError(t, err)
	assert.True(t, p.IsConfigured())
}

func TestPaddle_Unsupported(t *testing.T) {
	t.Parallel()

	p, err := gateway.NewPaddle(gateway.PaddleConfig{APIKey: "key", WebhookSecret: "sec", Environment: "sandbox"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.ProcessPayment(ctx, gateway.ChargeRequest{})
	assert.ErrorIs(t, err, gateway.ErrDirectPaymentUnsupported)

	_, err = p.CreateCheckoutSession(ctx, gateway.CheckoutRequest{Plan: proPlan()})
	assert.ErrorIs(t, err, gateway.ErrPriceNotConfigured)

	part := int64(100)
	_, err = p.Refund(ctx, gateway.RefundRequest{
		Payment: subscription.Payment{TransactionID: "txn_1", Amount: subscription.NewMoney(1999, "USD")},
		Amount:  &part,
	})
	assert.ErrorIs(t, err, gateway.ErrRefundUnsupported)

	_, err = p.ParseWebhook(ctx, []byte(`{}`), "")
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
}

func TestDecodePaddleEvent(t *testing.T) {
	t.Parallel()

	t.Run("transaction completed", func(t *testing.T) {
		t.Parallel()

		ev, err := gateway.DecodePaddleEvent([]byte(`{
			"event_id": "evt_01", "event_type": "transaction.completed",
			"occurred_at": "2025-06-15T12:00:00Z",
			"data": {
				"id": "txn_01", "status": "completed", "customer_id": "ctm_01",
				"subscription_id": "sub_01", "currency_code": "EUR",
				"custom_data": {"user_id": "user-1", "plan_id": "pro"},
				"details": {"totals": {"grand_total": "1999"}}
			}
		}`))
		require.NoError(t, err)
		assert.Equal(t, gateway.EventCheckoutCompleted, ev.Type)
		assert.Equal(t, "evt_01", ev.ID)
		assert.Equal(t, "txn_01", ev.TransactionID)
		assert.Equal(t, "user-1", ev.UserID)
		assert.Equal(t, "pro", ev.PlanID)
		assert.Equal(t, "sub_01", ev.ExternalSubscriptionID)
		assert.Equal(t, "ctm_01", ev.Metadata[gateway.MetaCustomerID])
		require.NotNil(t, ev.Amount)
		assert.Equal(t, subscription.NewMoney(1999, "EUR"), *ev.Amount)
		assert.Equal(t, fixedNow, ev.OccurredAt)
	})

	t.Run("subscription canceled", func(t *testing.T) {
		t.Parallel()

		ev, err := gateway.DecodePaddleEvent([]byte(`{
			"event_id": "evt_02", "event_type": "subscription.canceled",
			"occurred_at": "2025-06-15T12:00:00Z",
			"data": {"id": "sub_01", "status": "canceled", "canceled_at": "2025-06-15T11:00:00Z",
				"current_billing_period": {"ends_at": "2025-07-15T12:00:00Z"}}
		}`))
		require.NoError(t, err)
		assert.Equal(t, gateway.EventSubscriptionUpdated, ev.Type)
		assert.Equal(t, subscription.ProviderCanceled, ev.ProviderStatus)
		require.NotNil(t, ev.CanceledAt)
		require.NotNil(t, ev.PeriodEnd)
		assert.Equal(t, fixedNow.AddDate(0, 1, 0), *ev.PeriodEnd)
	})

	t.Run("approved refund adjustment", func(t *testing.T) {
		t.Parallel()

		ev, err := gateway.DecodePaddleEvent([]byte(`{
			"event_id": "evt_03", "event_type": "adjustment.updated",
			"occurred_at": "2025-06-15T12:00:00Z",
			"data": {"id": "adj_01", "action": "refund", "status": "approved", "transaction_id": "txn_01",
				"totals": {"total": "1999", "currency_code": "USD"}}
		}`))
		require.NoError(t, err)
		assert.Equal(t, gateway.EventChargeRefunded, ev.Type)
		assert.Equal(t, "txn_01", ev.TransactionID)
		assert.Equal(t, "adj_01", ev.RefundID)
	})

	t.Run("pending refund adjustment is ignored", func(t *testing.T) {
		t.Parallel()

		ev, err := gateway.DecodePaddleEvent([]byte(`{"event_id":"evt_04","event_type":"adjustment.created",
			"occurred_at":"2025-06-15T12:00:00Z","data":{"id":"adj_02","action":"refund","status":"pending_approval"}}`))
		require.NoError(t, err)
		assert.Equal(t, gateway.EventIgnored, ev.Type)
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()

		_, err := gateway.DecodePaddleEvent([]byte(`{"event_type":"transaction.completed"}`))
		assert.ErrorIs(t, err, gateway.ErrMalformedPayload)
		_, err = gateway.DecodePaddleEvent([]byte(`[`))
		assert.ErrorIs(t, err, gateway.ErrMalformedPayload)
	})
}
