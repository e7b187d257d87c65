package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	value, err := ToBaseUnits(decimal.RequireFromString("1.5"), EtherDecimals)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", value.Dec())

	value, err = ToBaseUnits(decimal.RequireFromString("100000"), EtherDecimals)
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000000000", value.Dec())

	_, err = ToBaseUnits(decimal.RequireFromString("0.0000000000000000001"), EtherDecimals)
	assert.True(t, errors.Is(err, ErrFractionalAmount))

	_, err = ToBaseUnits(decimal.RequireFromString("-1"), EtherDecimals)
	assert.Error(t, err)

	_, err = ToBaseUnits(decimal.RequireFromString("1e80"), 0)
	assert.True(t, errors.Is(err, ErrBalanceOverflow))

	value, err = ToBaseUnits(decimal.RequireFromString("0"), EtherDecimals)
	require.NoError(t, err)
	assert.True(t, value.IsZero())

	value, err = ToBaseUnits(decimal.RequireFromString("2.000000000000000000000"), EtherDecimals)
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", value.Dec())
}

func TestToBaseUnitsExponentBounds(t *testing.T) {
	cases := []struct {
		raw  string
		want error
	}{
		{raw: "1e200000000", want: ErrBalanceOverflow},
		{raw: "1e61", want: ErrBalanceOverflow},
		{raw: "1e-200000000", want: ErrFractionalAmount},
		{raw: "1e-19", want: ErrFractionalAmount},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			_, err := ToBaseUnits(decimal.RequireFromString(tc.raw), EtherDecimals)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	value, err := ToBaseUnits(decimal.RequireFromString("1e59"), EtherDecimals)
	require.NoError(t, err)
	assert.Equal(t, 78, len(value.Dec()))
}

func TestFromBaseUnits(t *testing.T) {
	value, err := ParseAmount("2500000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "2.5", FromBaseUnits(value, EtherDecimals).String())
	assert.True(t, FromBaseUnits(nil, EtherDecimals).IsZero())
}

func TestParseAmount(t *testing.T) {
	_, err := ParseAmount("")
	assert.Error(t, err)
	_, err = ParseAmount("-3")
	assert.Error(t, err)
	_, err = ParseAmount("1.5")
	assert.Error(t, err)

	max, err := ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)
	assert.Equal(t, 256, max.BitLen())
}
