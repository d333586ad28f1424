package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestConvertFreezesHomeEquivalent(t *testing.T) {
	m, err := Convert(decimal.NewFromInt(10000), "USD", decimal.RequireFromString("15.5"))
	require.NoError(t, err)
	require.Equal(t, "USD", m.Currency)
	require.True(t, m.HomeEquivalent.Equal(decimal.RequireFromString("155000.00")),
		"got %s", m.HomeEquivalent)
}

func TestConvertRoundsToTwoPlaces(t *testing.T) {
	m, err := Convert(decimal.RequireFromString("333.333"), "EUR", decimal.RequireFromString("16.789"))
	require.NoError(t, err)
	require.Equal(t, int32(-2), m.HomeEquivalent.Exponent())
	require.True(t, m.HomeEquivalent.Equal(decimal.RequireFromString("5596.33")), "got %s", m.HomeEquivalent)
}

func TestConvertRejectsNonPositiveRate(t *testing.T) {
	_, err := Convert(decimal.NewFromInt(100), "USD", decimal.Zero)
	require.ErrorIs(t, err, ErrInvalidRate)

	_, err = Convert(decimal.NewFromInt(100), "USD", decimal.NewFromInt(-2))
	require.ErrorIs(t, err, ErrInvalidRate)
}

func TestConvertRejectsUnknownCurrency(t *testing.T) {
	_, err := Convert(decimal.NewFromInt(100), "XXXX", decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestConvertAllowsNegativeAmount(t *testing.T) {
	m, err := Convert(decimal.NewFromInt(-500), "USD", decimal.NewFromInt(15))
	require.NoError(t, err)
	require.True(t, m.HomeEquivalent.Equal(decimal.NewFromInt(-7500)))
}

func TestHome(t *testing.T) {
	m := Home(decimal.RequireFromString("1234.5"))
	require.Equal(t, HomeCurrency, m.Currency)
	require.True(t, m.ExchangeRate.Equal(decimal.NewFromInt(1)))
	require.True(t, m.HomeEquivalent.Equal(decimal.RequireFromString("1234.50")))
}
