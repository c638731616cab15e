package position

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/fixed"
)

// DecreaseRequest shrinks a position. CollateralDelta and SizeDelta are USD
// at 1e30. Setting SizeDelta to the full size closes the position.
type DecreaseRequest struct {
	Account         common.Address
	CollateralToken common.Address
	IndexToken      common.Address
	CollateralDelta *uint256.Int
	SizeDelta       *uint256.Int
	IsLong          bool
	Receiver        common.Address
}

type DecreaseResult struct {
	// Position is the row after the decrease; zeroed when Closed.
	Position  ledger.Position
	Closed    bool
	Price     *uint256.Int
	Fee       *uint256.Int
	HasProfit bool
	// RealisedDelta is the PnL magnitude realised by this decrease.
	RealisedDelta *uint256.Int
	UsdOut        *uint256.Int
	// AmountOut is the collateral-token payout to Receiver.
	AmountOut *uint256.Int
}

// Decrease realises sizeDelta/size of the position's PnL, pays out
// collateralDelta plus profit minus fees, and releases the matching share of
// the reserve. The average price never moves on a decrease.
func (e *Engine) Decrease(tx *ledger.Tx, req DecreaseRequest, now uint64) (*DecreaseResult, error) {
	if _, err := e.funding.Update(tx, req.CollateralToken, now); err != nil {
		return nil, err
	}
	pos, err := tx.Position(req.Account, req.CollateralToken, req.IndexToken, req.IsLong)
	if err != nil {
		return nil, err
	}
	return e.decrease(tx, &pos, orZero(req.CollateralDelta), orZero(req.SizeDelta), req.Receiver, now)
}

func (e *Engine) decrease(tx *ledger.Tx, pos *ledger.Position, collateralDelta, sizeDelta *uint256.Int, receiver common.Address, now uint64) (*DecreaseResult, error) {
	if !pos.IsOpen() {
		return nil, ErrEmptyPosition
	}
	if pos.Size.Cmp(sizeDelta) < 0 {
		return nil, ErrPositionSizeExceeded
	}
	if pos.Collateral.Cmp(collateralDelta) < 0 {
		return nil, ErrPositionCollateralExceeded
	}

	token := pos.CollateralToken
	oldCollateral := fixed.Clone(&pos.Collateral)
	closing := pos.Size.Eq(sizeDelta)

	reserveDelta := fixed.MulDiv(&pos.ReserveAmount, sizeDelta, &pos.Size)
	pos.ReserveAmount = *fixed.Sub(&pos.ReserveAmount, reserveDelta)
	if err := tx.DecreaseReservedAmount(token, reserveDelta); err != nil {
		return nil, err
	}

	price, err := e.markPrice(pos.IndexToken, pos.IsLong)
	if err != nil {
		return nil, err
	}
	res, err := e.reduceCollateral(tx, pos, collateralDelta, sizeDelta, closing, now)
	if err != nil {
		return nil, err
	}
	res.Price = price

	if !closing {
		cumulative, err := e.funding.CumulativeRate(tx, token)
		if err != nil {
			return nil, err
		}
		pos.EntryFundingRate = *cumulative
		pos.Size = *fixed.Sub(&pos.Size, sizeDelta)

		if err := validateSize(pos); err != nil {
			return nil, err
		}
		if _, _, err := e.ValidateLiquidation(tx, pos, true, now); err != nil {
			return nil, err
		}
		if pooled(pos) {
			if err := tx.IncreaseGuaranteedUsd(token, fixed.Sub(oldCollateral, &pos.Collateral)); err != nil {
				return nil, err
			}
			if err := tx.DecreaseGuaranteedUsd(token, sizeDelta); err != nil {
				return nil, err
			}
		}
	} else {
		if pooled(pos) {
			if err := tx.IncreaseGuaranteedUsd(token, oldCollateral); err != nil {
				return nil, err
			}
			if err := tx.DecreaseGuaranteedUsd(token, sizeDelta); err != nil {
				return nil, err
			}
		}
		pos.Reset()
	}

	res.AmountOut = fixed.Zero()
	if !res.UsdOut.IsZero() {
		if pooled(pos) {
			outTokens, err := e.pricer.UsdToTokenMin(token, res.UsdOut)
			if err != nil {
				return nil, err
			}
			if err := tx.DecreasePoolAmount(token, outTokens); err != nil {
				return nil, err
			}
		}
		amountOut, err := e.pricer.UsdToTokenMin(token, res.usdOutAfterFee)
		if err != nil {
			return nil, err
		}
		if err := tx.TransferOut(token, amountOut); err != nil {
			return nil, err
		}
		res.AmountOut = amountOut
	}

	tx.PutPosition(*pos)
	res.Position = *pos
	res.Closed = closing
	return &res.DecreaseResult, nil
}

type reduction struct {
	DecreaseResult
	usdOutAfterFee *uint256.Int
}

// reduceCollateral charges fees, realises PnL on sizeDelta and works out the
// USD owed to the receiver. Stable-backed shorts settle PnL against the pool
// here since their collateral never entered it.
func (e *Engine) reduceCollateral(tx *ledger.Tx, pos *ledger.Position, collateralDelta, sizeDelta *uint256.Int, closing bool, now uint64) (*reduction, error) {
	token := pos.CollateralToken

	fee, _, err := e.collectMarginFees(tx, pos, sizeDelta)
	if err != nil {
		return nil, err
	}

	hasProfit, delta, err := e.Delta(pos.IndexToken, &pos.Size, &pos.AveragePrice, pos.IsLong, pos.LastIncreasedTime, now)
	if err != nil {
		return nil, err
	}
	adjustedDelta := fixed.MulDiv(sizeDelta, delta, &pos.Size)

	usdOut := fixed.Zero()
	if !adjustedDelta.IsZero() {
		deltaTokens, err := e.pricer.UsdToTokenMin(token, adjustedDelta)
		if err != nil {
			return nil, err
		}
		if hasProfit {
			usdOut = fixed.Clone(adjustedDelta)
			if !pooled(pos) {
				if err := tx.DecreasePoolAmount(token, deltaTokens); err != nil {
					return nil, err
				}
			}
		} else {
			if pos.Collateral.Cmp(adjustedDelta) < 0 {
				return nil, ErrLossesExceedCollateral
			}
			pos.Collateral.Sub(&pos.Collateral, adjustedDelta)
			if !pooled(pos) {
				if err := tx.IncreasePoolAmount(token, deltaTokens); err != nil {
					return nil, err
				}
			}
		}
		pos.AddRealisedPnl(adjustedDelta, hasProfit)
	}

	if !collateralDelta.IsZero() {
		if pos.Collateral.Cmp(collateralDelta) < 0 {
			return nil, ErrPositionCollateralExceeded
		}
		usdOut = fixed.Add(usdOut, collateralDelta)
		pos.Collateral.Sub(&pos.Collateral, collateralDelta)
	}

	if closing {
		usdOut = fixed.Add(usdOut, &pos.Collateral)
		pos.Collateral.Clear()
	}

	usdOutAfterFee := fixed.Clone(usdOut)
	if usdOut.Cmp(fee) > 0 {
		usdOutAfterFee = fixed.Sub(usdOut, fee)
	} else {
		if pos.Collateral.Cmp(fee) < 0 {
			return nil, ErrFeesExceedCollateral
		}
		pos.Collateral.Sub(&pos.Collateral, fee)
		if pooled(pos) {
			feeTokens, err := e.pricer.UsdToTokenMin(token, fee)
			if err != nil {
				return nil, err
			}
			if err := tx.DecreasePoolAmount(token, feeTokens); err != nil {
				return nil, err
			}
		}
	}

	return &reduction{
		DecreaseResult: DecreaseResult{
			Fee:           fee,
			HasProfit:     hasProfit,
			RealisedDelta: adjustedDelta,
			UsdOut:        usdOut,
		},
		usdOutAfterFee: usdOutAfterFee,
	}, nil
}
