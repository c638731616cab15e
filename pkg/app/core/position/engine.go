// Package position runs the leveraged position lifecycle against the pool
// ledger: increase, decrease, liquidation and the read-only views.
package position

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hypervault/pkg/app/core/funding"
	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/app/core/oracle"
	"github.com/uhyunpark/hypervault/pkg/app/core/registry"
	"github.com/uhyunpark/hypervault/pkg/fixed"
)

// Params are the position fee and risk settings.
type Params struct {
	// MarginFeeBps is charged on every size change.
	MarginFeeBps uint64
	// LiquidationFeeUsd is paid to whoever liquidates, at 1e30.
	LiquidationFeeUsd uint256.Int
	// MaxLeverage is in basis points: 500000 is 50x.
	MaxLeverage uint64
	// MinProfitTime is how long, in seconds, after an increase small profits
	// are reported as zero.
	MinProfitTime uint64
}

// LiquidationState is the result of ValidateLiquidation.
type LiquidationState uint8

const (
	Healthy LiquidationState = iota
	// LiquidatableFees covers losses or fees eating through collateral.
	LiquidatableFees
	// LiquidatableMaxLeverage is a forced deleverage.
	LiquidatableMaxLeverage
)

func (s LiquidationState) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case LiquidatableFees:
		return "liquidatable"
	case LiquidatableMaxLeverage:
		return "max_leverage"
	default:
		return "unknown"
	}
}

type Engine struct {
	params  Params
	reg     registry.Reader
	pricer  *oracle.Pricer
	funding *funding.Engine
}

func New(params Params, reg registry.Reader, pricer *oracle.Pricer, fe *funding.Engine) *Engine {
	return &Engine{params: params, reg: reg, pricer: pricer, funding: fe}
}

func (e *Engine) Params() Params { return e.params }

func (e *Engine) validateTokens(collateralToken, indexToken common.Address, isLong bool) error {
	if !e.reg.IsWhitelisted(collateralToken) {
		return fmt.Errorf("%w: collateral %s", registry.ErrTokenNotWhitelisted, collateralToken.Hex())
	}
	if isLong {
		if collateralToken != indexToken {
			return ErrMismatchedTokens
		}
		if e.reg.IsStable(collateralToken) {
			return ErrLongCollateralStable
		}
		return nil
	}
	if !e.reg.IsWhitelisted(indexToken) {
		return fmt.Errorf("%w: index %s", registry.ErrTokenNotWhitelisted, indexToken.Hex())
	}
	if e.reg.SelfCollateralShorts(indexToken) {
		if collateralToken != indexToken {
			return ErrMismatchedTokens
		}
	} else if !e.reg.IsStable(collateralToken) {
		return ErrShortCollateralNotStable
	}
	if e.reg.IsStable(indexToken) {
		return ErrShortIndexStable
	}
	if !e.reg.IsShortable(indexToken) {
		return ErrIndexNotShortable
	}
	return nil
}

// pooled reports whether the position's collateral is held in the pool. That
// is every long and every short backed by its own index token; stable-backed
// shorts keep their collateral outside the pool and settle PnL against it.
func pooled(pos *ledger.Position) bool {
	return pos.CollateralToken == pos.IndexToken
}

// PositionFee is the margin fee on a size change.
func (e *Engine) PositionFee(sizeDelta *uint256.Int) *uint256.Int {
	if sizeDelta.IsZero() {
		return fixed.Zero()
	}
	return fixed.Sub(sizeDelta, fixed.ApplyBps(sizeDelta, e.params.MarginFeeBps))
}

// marginFees is the position fee on sizeDelta plus funding owed on the whole
// position since its entry rate.
func (e *Engine) marginFees(tx *ledger.Tx, pos *ledger.Position, sizeDelta *uint256.Int) (*uint256.Int, error) {
	fundingFee, err := e.funding.Fee(tx, pos.CollateralToken, &pos.Size, &pos.EntryFundingRate)
	if err != nil {
		return nil, err
	}
	return fixed.Add(e.PositionFee(sizeDelta), fundingFee), nil
}

// collectMarginFees moves the margin fees into the fee reserve and returns
// the fee in USD and in collateral tokens.
func (e *Engine) collectMarginFees(tx *ledger.Tx, pos *ledger.Position, sizeDelta *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	fee, err := e.marginFees(tx, pos, sizeDelta)
	if err != nil {
		return nil, nil, err
	}
	feeTokens, err := e.pricer.UsdToTokenMin(pos.CollateralToken, fee)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.IncreaseFeeReserve(pos.CollateralToken, feeTokens); err != nil {
		return nil, nil, err
	}
	return fee, feeTokens, nil
}

// markPrice is the price a position is valued at: the lower one for longs,
// the higher one for shorts.
func (e *Engine) markPrice(indexToken common.Address, isLong bool) (*uint256.Int, error) {
	if isLong {
		return e.pricer.MinPrice(indexToken)
	}
	return e.pricer.MaxPrice(indexToken)
}

// Delta is the unrealised PnL of size opened at averagePrice. Within
// MinProfitTime of the last increase, a profit no larger than the index
// token's minimum-profit threshold is reported as zero.
func (e *Engine) Delta(indexToken common.Address, size, averagePrice *uint256.Int, isLong bool, lastIncreasedTime, now uint64) (bool, *uint256.Int, error) {
	if averagePrice.IsZero() {
		return false, nil, ErrInvalidAveragePrice
	}
	price, err := e.markPrice(indexToken, isLong)
	if err != nil {
		return false, nil, err
	}

	delta := fixed.MulDiv(size, fixed.AbsDiff(averagePrice, price), averagePrice)

	var hasProfit bool
	if isLong {
		hasProfit = price.Cmp(averagePrice) > 0
	} else {
		hasProfit = averagePrice.Cmp(price) > 0
	}

	var minBps uint64
	if now <= lastIncreasedTime+e.params.MinProfitTime {
		minBps = e.reg.MinProfitBps(indexToken)
	}
	if hasProfit && minBps > 0 {
		lhs := fixed.Mul(delta, fixed.U64(fixed.BasisPointsDivisor))
		rhs := fixed.Mul(size, fixed.U64(minBps))
		if lhs.Cmp(rhs) <= 0 {
			delta = fixed.Zero()
		}
	}
	return hasProfit, delta, nil
}

// NextAveragePrice blends an increase of sizeDelta at nextPrice into pos. The
// result keeps the position's unrealised PnL unchanged:
//
//	long:  nextPrice * nextSize / (nextSize ± delta)  (+ on profit)
//	short: nextPrice * nextSize / (nextSize ∓ delta)  (- on profit)
//
// which is nextSize/avg' = size/avg + sizeDelta/nextPrice for longs and its
// USD dual for shorts, truncated once at the final division.
func (e *Engine) NextAveragePrice(pos *ledger.Position, nextPrice, sizeDelta *uint256.Int, now uint64) (*uint256.Int, error) {
	hasProfit, delta, err := e.Delta(pos.IndexToken, &pos.Size, &pos.AveragePrice, pos.IsLong, pos.LastIncreasedTime, now)
	if err != nil {
		return nil, err
	}
	nextSize := fixed.Add(&pos.Size, sizeDelta)

	var divisor *uint256.Int
	if pos.IsLong == hasProfit {
		divisor = fixed.Add(nextSize, delta)
	} else {
		if delta.Cmp(nextSize) >= 0 {
			return nil, ErrInvalidAveragePrice
		}
		divisor = fixed.Sub(nextSize, delta)
	}
	return fixed.MulDiv(nextPrice, nextSize, divisor), nil
}

// ValidateLiquidation reports whether pos can be liquidated and the margin
// fees that liquidation would collect. With raise set, any state other than
// Healthy comes back as the matching error instead.
func (e *Engine) ValidateLiquidation(tx *ledger.Tx, pos *ledger.Position, raise bool, now uint64) (LiquidationState, *uint256.Int, error) {
	hasProfit, delta, err := e.Delta(pos.IndexToken, &pos.Size, &pos.AveragePrice, pos.IsLong, pos.LastIncreasedTime, now)
	if err != nil {
		return Healthy, nil, err
	}
	marginFees, err := e.marginFees(tx, pos, &pos.Size)
	if err != nil {
		return Healthy, nil, err
	}

	fail := func(state LiquidationState, fees *uint256.Int, cause error) (LiquidationState, *uint256.Int, error) {
		if raise {
			return state, fees, cause
		}
		return state, fees, nil
	}

	if !hasProfit && pos.Collateral.Cmp(delta) < 0 {
		return fail(LiquidatableFees, marginFees, ErrLossesExceedCollateral)
	}

	remaining := fixed.Clone(&pos.Collateral)
	if !hasProfit {
		remaining = fixed.Sub(remaining, delta)
	}

	if remaining.Cmp(marginFees) < 0 {
		return fail(LiquidatableFees, remaining, ErrFeesExceedCollateral)
	}
	if remaining.Cmp(fixed.Add(marginFees, &e.params.LiquidationFeeUsd)) < 0 {
		return fail(LiquidatableFees, marginFees, ErrLiquidationFeesExceedCollateral)
	}
	lhs := fixed.Mul(remaining, fixed.U64(e.params.MaxLeverage))
	rhs := fixed.Mul(&pos.Size, fixed.U64(fixed.BasisPointsDivisor))
	if lhs.Cmp(rhs) < 0 {
		return fail(LiquidatableMaxLeverage, marginFees, ErrMaxLeverageExceeded)
	}
	return Healthy, marginFees, nil
}

// validateSize keeps every open position strictly over-sized relative to its
// collateral and every closed one empty.
func validateSize(pos *ledger.Position) error {
	if pos.Size.IsZero() {
		if !pos.Collateral.IsZero() {
			return ErrInvalidPositionSize
		}
		return nil
	}
	if pos.Size.Cmp(&pos.Collateral) <= 0 {
		return ErrSizeMustExceedCollateral
	}
	return nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return fixed.Zero()
	}
	return v
}
