package fixed

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestMulDivTruncates(t *testing.T) {
	require := require.New(t)

	got := MulDiv(U64(10), U64(10), U64(3))
	require.Equal(uint64(33), got.Uint64())

	// 90 USD at 40000 is 0.00225 BTC (8 decimals)
	btc := MulDiv(USD(90), Pow10(8), USD(40000))
	require.Equal(uint64(225000), btc.Uint64())
}

func TestSubPanicsOnUnderflow(t *testing.T) {
	require.PanicsWithValue(t, OverflowError{Op: "sub"}, func() {
		Sub(U64(1), U64(2))
	})
	require.True(t, SubFloor(U64(1), U64(2)).IsZero())
}

func TestAdjustDecimals(t *testing.T) {
	require := require.New(t)

	require.Equal(uint64(100), AdjustDecimals(U64(100), 8, 8).Uint64())
	require.Equal(Units(1, 18), AdjustDecimals(Units(1, 8), 8, 18))
	require.Equal(Units(1, 8), AdjustDecimals(Units(1, 18), 18, 8))
}

func TestApplyBps(t *testing.T) {
	require := require.New(t)

	// 0.3% off 100 tokens leaves 99.7
	after := ApplyBps(Units(100, 18), 30)
	want, err := ParseUnits("99.7", 18)
	require.NoError(err)
	require.Equal(want, after)

	require.True(ApplyBps(U64(5), BasisPointsDivisor).IsZero())
	require.Equal(uint64(3), Bps(U64(1000), 30).Uint64())
}

func TestParseAndFormatUnits(t *testing.T) {
	require := require.New(t)

	v, err := ParseUnits("9.91", PriceDecimals)
	require.NoError(err)
	require.Equal(USDCents(991), v)
	require.Equal("9.91", FormatUSD(v))

	_, err = ParseUnits("0.000000001", 8)
	require.ErrorIs(err, ErrPrecision)

	_, err = ParseUnits("-1", 8)
	require.ErrorIs(err, ErrNegative)

	_, err = ParseUnits("abc", 8)
	require.Error(err)
}

func TestFromDecimalTooLarge(t *testing.T) {
	_, err := ParseUnits("1e80", 0)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestCloneNil(t *testing.T) {
	var nilInt *uint256.Int
	require.True(t, Clone(nilInt).IsZero())
}
