package logger_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

func TestGroup(t *testing.T) {
	t.Parallel()

	attr := logger.Group("payment", slog.String("id", "pay_1"), slog.Int64("amount", 1999))
	require.Equal(t, "payment", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "id", g[0].Key)
	assert.Equal(t, "amount", g[1].Key)
}

func TestErrors(t *testing.T) {
	t.Parallel()

	err1 := errors.New("first")
	err2 := errors.New("second")

	attr := logger.Errors(err1, nil, err2)
	require.Equal(t, "errors", attr.Key)
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, err1, g[0].Value.Any())
	assert.Equal(t, err2, g[1].Value.Any())

	assert.True(t, logger.Errors(nil).Equal(slog.Attr{}))
}

func TestBillingAttrs(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	tests := []struct {
		name string
		attr slog.Attr
		key  string
	}{
		{"error", logger.Error(errors.New("boom")), "error"},
		{"user", logger.UserID(userID), "user_id"},
		{"request", logger.RequestID("req-1"), "request_id"},
		{"gateway", logger.Gateway("stripe"), "gateway"},
		{"transaction", logger.TransactionID("cs_test_1"), "transaction_id"},
		{"subscription", logger.SubscriptionID(userID), "subscription_id"},
		{"external", logger.ExternalID("sub_123"), "external_id"},
		{"event id", logger.EventID("evt_1"), "event_id"},
		{"event type", logger.EventType("checkout.completed"), "event_type"},
		{"resource", logger.Resource("projects"), "resource"},
		{"outcome", logger.Outcome("applied"), "outcome"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.key, tt.attr.Key)
		})
	}
}

func TestEmptyAttrs(t *testing.T) {
	t.Parallel()

	empty := slog.Attr{}
	assert.True(t, logger.Error(nil).Equal(empty))
	assert.True(t, logger.UserID(nil).Equal(empty))
	assert.True(t, logger.RequestID("").Equal(empty))
	assert.True(t, logger.TransactionID("").Equal(empty))
	assert.True(t, logger.ExternalID("").Equal(empty))
	assert.True(t, logger.EventID("").Equal(empty))
}
