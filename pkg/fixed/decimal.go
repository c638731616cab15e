package fixed

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	ErrNegative  = errors.New("fixed: negative amount")
	ErrPrecision = errors.New("fixed: more fractional digits than the target scale")
	ErrTooLarge  = errors.New("fixed: amount exceeds 256 bits")
)

// ParseUnits parses a human decimal string ("40000.5") into an integer scaled
// by 10^decimals. Digits beyond the scale are rejected rather than rounded.
func ParseUnits(s string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("fixed: parse %q: %w", s, err)
	}
	return FromDecimal(d, decimals)
}

// FromDecimal scales d by 10^decimals.
func FromDecimal(d decimal.Decimal, decimals uint8) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, ErrNegative
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, ErrPrecision
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, ErrTooLarge
	}
	return v, nil
}

// ToDecimal converts a scaled integer back into a decimal.
func ToDecimal(v *uint256.Int, decimals uint8) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), -int32(decimals))
}

// FormatUnits renders v with trailing zeros trimmed.
func FormatUnits(v *uint256.Int, decimals uint8) string {
	return ToDecimal(v, decimals).String()
}

// FormatUSD renders a 1e30 USD value or price.
func FormatUSD(v *uint256.Int) string {
	return FormatUnits(v, PriceDecimals)
}
