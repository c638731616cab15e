// Package fixed holds the unsigned 256-bit fixed-point helpers shared by the
// vault engines. USD values and prices carry 30 decimals, stable units carry 18,
// token amounts carry the token's own decimals.
package fixed

import (
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// PriceDecimals is the scale of every USD value and price.
	PriceDecimals = 30
	// StableDecimals is the scale of the stable unit.
	StableDecimals = 18
	// BasisPointsDivisor is 100% in basis points.
	BasisPointsDivisor = 10000
	// FundingRatePrecision is the scale of cumulative funding rates.
	FundingRatePrecision = 1000000
)

var (
	// PricePrecision is 1e30.
	PricePrecision = Pow10(PriceDecimals)
	// StablePrecision is 1e18.
	StablePrecision = Pow10(StableDecimals)
)

// OverflowError is the panic value raised when a checked operation wraps.
// The vault recovers it at the operation boundary and aborts the change-set.
type OverflowError struct {
	Op string
}

func (e OverflowError) Error() string {
	return fmt.Sprintf("fixed: %s overflow", e.Op)
}

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// U64 returns v as a *uint256.Int.
func U64(v uint64) *uint256.Int { return uint256.NewInt(v) }

// Pow10 returns 10^n.
func Pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}

// Clone copies v so the caller can mutate the result freely.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// Add returns a+b and panics with OverflowError on wrap.
func Add(a, b *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		panic(OverflowError{Op: "add"})
	}
	return z
}

// Sub returns a-b and panics with OverflowError when b > a. Callers check the
// business condition first; reaching the panic means a broken precondition.
func Sub(a, b *uint256.Int) *uint256.Int {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		panic(OverflowError{Op: "sub"})
	}
	return z
}

// SubFloor returns max(a-b, 0).
func SubFloor(a, b *uint256.Int) *uint256.Int {
	if b.Cmp(a) >= 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// Mul returns a*b and panics on overflow.
func Mul(a, b *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		panic(OverflowError{Op: "mul"})
	}
	return z
}

// Div returns a/b truncated. Division by zero yields zero, as uint256 does;
// callers guard divisors that carry meaning.
func Div(a, b *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(a, b)
}

// MulDiv returns a*b/c with a 512-bit intermediate, truncated.
func MulDiv(a, b, c *uint256.Int) *uint256.Int {
	if c.IsZero() {
		panic(OverflowError{Op: "muldiv by zero"})
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, c)
	if overflow {
		panic(OverflowError{Op: "muldiv"})
	}
	return z
}

// AbsDiff returns |a-b|.
func AbsDiff(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) >= 0 {
		return new(uint256.Int).Sub(a, b)
	}
	return new(uint256.Int).Sub(b, a)
}

// Min returns the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return Clone(a)
	}
	return Clone(b)
}

// AdjustDecimals rescales amount from one decimal base to another.
func AdjustDecimals(amount *uint256.Int, from, to uint8) *uint256.Int {
	switch {
	case from == to:
		return Clone(amount)
	case from > to:
		return Div(amount, Pow10(from-to))
	default:
		return Mul(amount, Pow10(to-from))
	}
}

// ApplyBps returns amount*(10000-bps)/10000, the remainder after a fee of bps.
func ApplyBps(amount *uint256.Int, bps uint64) *uint256.Int {
	if bps >= BasisPointsDivisor {
		return new(uint256.Int)
	}
	return MulDiv(amount, U64(BasisPointsDivisor-bps), U64(BasisPointsDivisor))
}

// Bps returns amount*bps/10000.
func Bps(amount *uint256.Int, bps uint64) *uint256.Int {
	return MulDiv(amount, U64(bps), U64(BasisPointsDivisor))
}

// USD returns whole dollars scaled to 1e30.
func USD(dollars uint64) *uint256.Int {
	return Mul(U64(dollars), PricePrecision)
}

// USDCents returns cents scaled to 1e30, for values like $9.91.
func USDCents(cents uint64) *uint256.Int {
	return MulDiv(U64(cents), PricePrecision, U64(100))
}

// Units returns whole token units scaled to decimals.
func Units(whole uint64, decimals uint8) *uint256.Int {
	return Mul(U64(whole), Pow10(decimals))
}
