package subscription

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Money is an amount in the currency's minor unit, e.g. 1999 USD is $19.99.
type Money struct {
	Amount   int64  `json:"amount" yaml:"amount"`
	Currency string `json:"currency" yaml:"currency"`
}

// NewMoney returns Money with an upper-cased currency code.
func NewMoney(amount int64, code string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(code)}
}

// ParseMoney parses a decimal string such as "19.99" in the given currency.
func ParseMoney(s, code string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return MoneyFromDecimal(d, code)
}

// MoneyFromDecimal converts a major-unit decimal into minor units. Values with
// more fractional digits than the currency allows are rejected rather than rounded.
func MoneyFromDecimal(d decimal.Decimal, code string) (Money, error) {
	code = strings.ToUpper(code)
	if d.IsNegative() {
		return Money{}, fmt.Errorf("%w: negative amount %s", ErrInvalidAmount, d)
	}
	minor := d.Shift(int32(CurrencyScale(code)))
	if !minor.Equal(minor.Truncate(0)) {
		return Money{}, fmt.Errorf("%w: %s has too many decimal places for %s", ErrInvalidAmount, d, code)
	}
	return Money{Amount: minor.IntPart(), Currency: code}, nil
}

// CurrencyScale returns the number of minor-unit digits of an ISO 4217 code.
// Unknown codes default to two.
func CurrencyScale(code string) int {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -int32(CurrencyScale(m.Currency)))
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// String renders "19.99 USD".
func (m Money) String() string {
	return m.Decimal().StringFixed(int32(CurrencyScale(m.Currency))) + " " + m.Currency
}

// Format renders the amount with the currency symbol for the given language.
func (m Money) Format(tag language.Tag) string {
	unit, err := currency.ParseISO(m.Currency)
	if err != nil {
		return m.String()
	}
	return message.NewPrinter(tag).Sprint(currency.Symbol(unit.Amount(m.Decimal().InexactFloat64())))
}
