package types

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency represents a validated ISO-4217 style currency code:
// exactly three uppercase ASCII letters.
type Currency string

// ErrInvalidCurrency is returned when parsing a malformed currency code.
var ErrInvalidCurrency = errors.New("invalid currency code")

// ErrNonPositiveAmount is returned when a positive amount is required but not provided.
var ErrNonPositiveAmount = errors.New("amount must be positive")

// ErrAmountScale is returned when an amount carries more than four decimal places.
var ErrAmountScale = errors.New("amount scale exceeds 4 decimal places")

// MaxScale is the fixed-point scale of all monetary amounts.
const MaxScale = 4

// ParseCurrency validates and parses a currency code string.
func ParseCurrency(s string) (Currency, error) {
	if len(s) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
		}
	}
	return Currency(s), nil
}

// String returns the string representation of Currency.
func (c Currency) String() string {
	return string(c)
}

// Money represents a monetary amount with currency.
// Uses decimal.Decimal for precise financial calculations.
type Money struct {
	Amount   decimal.Decimal `json:"value"`
	Currency Currency        `json:"currency"`
}

// NewMoney creates a new Money instance with a validated currency.
func NewMoney(amount decimal.Decimal, currency Currency) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// NewMoneyFromString creates Money from a string amount and currency.
// Validates the decimal format, the scale, and the currency code.
func NewMoneyFromString(amount string, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.Exponent() < -MaxScale {
		return Money{}, fmt.Errorf("%w: %q", ErrAmountScale, amount)
	}
	c, err := ParseCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	return NewMoney(d, c), nil
}

// NewPositiveFromString creates Money from a string, validating it is strictly positive.
// Use for transfer amounts and other operations requiring positive values.
func NewPositiveFromString(amount string, currency string) (Money, error) {
	m, err := NewMoneyFromString(amount, currency)
	if err != nil {
		return Money{}, err
	}
	if !m.Amount.IsPositive() {
		return Money{}, ErrNonPositiveAmount
	}
	return m, nil
}

// Zero returns a zero Money in the given currency.
func Zero(currency Currency) Money {
	return NewMoney(decimal.Zero, currency)
}

// Add adds two Money values. Returns error if currencies don't match.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, errors.New("cannot add money with different currencies")
	}
	return NewMoney(m.Amount.Add(other.Amount), m.Currency), nil
}

// Subtract subtracts other from m. Returns error if currencies don't match.
func (m Money) Subtract(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, errors.New("cannot subtract money with different currencies")
	}
	return NewMoney(m.Amount.Sub(other.Amount), m.Currency), nil
}

// IsPositive returns true if amount > 0.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// IsNegative returns true if amount < 0.
func (m Money) IsNegative() bool {
	return m.Amount.IsNegative()
}

// IsZero returns true if amount == 0.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// GreaterThan returns true if m > other.
func (m Money) GreaterThan(other Money) bool {
	return m.Currency == other.Currency && m.Amount.GreaterThan(other.Amount)
}

// LessThan returns true if m < other.
func (m Money) LessThan(other Money) bool {
	return m.Currency == other.Currency && m.Amount.LessThan(other.Amount)
}

// Equal returns true if both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// StringFixed renders the amount at the fixed ledger scale, e.g. "100.0000".
func (m Money) StringFixed() string {
	return m.Amount.StringFixed(MaxScale)
}

// String returns a human-readable representation.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(MaxScale), m.Currency)
}
