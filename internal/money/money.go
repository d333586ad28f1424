// Package money provides the fixed-point monetary value object used across
// the ledger. Every amount carries its original currency plus the exchange
// rate that was in force when the owning record was committed; the home
// currency equivalent is frozen at that moment and never recomputed from a
// later rate lookup.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// HomeCurrency is the reporting currency all equivalents are expressed in.
const HomeCurrency = "GHS"

var (
	// ErrInvalidRate indicates a non-positive exchange rate.
	ErrInvalidRate = errors.New("money: exchange rate must be positive")
	// ErrUnknownCurrency indicates a malformed ISO 4217 code.
	ErrUnknownCurrency = errors.New("money: unknown currency code")
)

// Money is an immutable amount with a frozen home-currency equivalent.
type Money struct {
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	HomeEquivalent decimal.Decimal `json:"home_equivalent"`
}

// Convert builds a Money value, computing and freezing the home equivalent.
// The amount may be negative: corrections and credit notes are expressed as
// signed values. The rate must be strictly positive.
func Convert(amount decimal.Decimal, code string, rate decimal.Decimal) (Money, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	if rate.Sign() <= 0 {
		return Money{}, fmt.Errorf("%w: %s", ErrInvalidRate, rate)
	}
	return Money{
		Amount:         amount,
		Currency:       unit.String(),
		ExchangeRate:   rate,
		HomeEquivalent: amount.Mul(rate).Round(2),
	}, nil
}

// MustConvert is a test and seed helper that panics on invalid input.
func MustConvert(amount decimal.Decimal, code string, rate decimal.Decimal) Money {
	m, err := Convert(amount, code, rate)
	if err != nil {
		panic(err)
	}
	return m
}

// Home builds a Money value already denominated in the home currency.
func Home(amount decimal.Decimal) Money {
	return Money{
		Amount:         amount,
		Currency:       HomeCurrency,
		ExchangeRate:   decimal.NewFromInt(1),
		HomeEquivalent: amount.Round(2),
	}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}
