package subscription_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

func TestParseMoney(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		currency string
		want     subscription.Money
		wantErr  bool
	}{
		{name: "two decimals", input: "19.99", currency: "usd", want: subscription.Money{Amount: 1999, Currency: "USD"}},
		{name: "whole number", input: "10", currency: "EUR", want: subscription.Money{Amount: 1000, Currency: "EUR"}},
		{name: "zero decimal currency", input: "500", currency: "JPY", want: subscription.Money{Amount: 500, Currency: "JPY"}},
		{name: "too precise for currency", input: "1.5", currency: "JPY", wantErr: true},
		{name: "too precise for cents", input: "1.999", currency: "USD", wantErr: true},
		{name: "negative", input: "-1", currency: "USD", wantErr: true},
		{name: "garbage", input: "abc", currency: "USD", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := subscription.ParseMoney(tt.input, tt.currency)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, subscription.ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoney_Decimal(t *testing.T) {
	t.Parallel()

	m := subscription.NewMoney(1999, "usd")
	assert.True(t, m.Decimal().Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, "19.99 USD", m.String())

	back, err := subscription.MoneyFromDecimal(m.Decimal(), m.Currency)
	require.NoError(t, err)
	assert.Equal(t, m, back)
}

func TestMoney_Format(t *testing.T) {
	t.Parallel()

	got := subscription.NewMoney(1999, "USD").Format(language.English)
	assert.Contains(t, got, "19.99")
	assert.Contains(t, got, "$")

	unknown := subscription.Money{Amount: 100, Currency: "???"}
	assert.Equal(t, "1.00 ???", unknown.Format(language.English))
}

func TestCurrencyScale(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, subscription.CurrencyScale("USD"))
	assert.Equal(t, 0, subscription.CurrencyScale("JPY"))
	assert.Equal(t, 2, subscription.CurrencyScale("not-a-code"))
}
