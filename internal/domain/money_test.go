package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	a, err := ParseAmount("10.01")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), a.Cents())

	a, err = ParseAmount("5")
	require.NoError(t, err)
	assert.Equal(t, int64(500), a.Cents())

	_, err = ParseAmount("abc")
	assert.Error(t, err)

	_, err = ParseAmount("-1.00")
	assert.Error(t, err)
}

func TestAmountString(t *testing.T) {
	a := Amount(500)
	assert.Equal(t, "5.00", a.String())

	a = Amount(1234)
	assert.Equal(t, "12.34", a.String())
}

func TestAmountFromDecimalRounds(t *testing.T) {
	d := decimal.RequireFromString("9.999")
	assert.Equal(t, int64(1000), AmountFromDecimal(d).Cents())
}
