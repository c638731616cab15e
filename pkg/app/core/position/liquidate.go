package position

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/fixed"
)

type LiquidateRequest struct {
	Account         common.Address
	CollateralToken common.Address
	IndexToken      common.Address
	IsLong          bool
	FeeReceiver     common.Address
}

type LiquidateResult struct {
	// Position is the row as it stood before liquidation.
	Position   ledger.Position
	State      LiquidationState
	MarginFees *uint256.Int
	// LiquidationFeeTokens went to FeeReceiver. Zero for a forced deleverage.
	LiquidationFeeTokens *uint256.Int
	// Deleverage is set when the position was closed for exceeding max
	// leverage rather than liquidated.
	Deleverage *DecreaseResult
}

// Liquidate closes an unhealthy position. A position over max leverage is
// closed through the normal decrease path with the proceeds going to its
// owner; otherwise the remaining collateral is forfeited to the pool and the
// fixed liquidation fee is paid to the fee receiver.
func (e *Engine) Liquidate(tx *ledger.Tx, req LiquidateRequest, now uint64) (*LiquidateResult, error) {
	if _, err := e.funding.Update(tx, req.CollateralToken, now); err != nil {
		return nil, err
	}
	pos, err := tx.Position(req.Account, req.CollateralToken, req.IndexToken, req.IsLong)
	if err != nil {
		return nil, err
	}
	if !pos.IsOpen() {
		return nil, ErrEmptyPosition
	}

	state, marginFees, err := e.ValidateLiquidation(tx, &pos, false, now)
	if err != nil {
		return nil, err
	}
	if state == Healthy {
		return nil, ErrPositionNotLiquidatable
	}

	res := &LiquidateResult{Position: pos, State: state, MarginFees: marginFees, LiquidationFeeTokens: fixed.Zero()}

	if state == LiquidatableMaxLeverage {
		dec, err := e.decrease(tx, &pos, fixed.Zero(), fixed.Clone(&pos.Size), pos.Account, now)
		if err != nil {
			return nil, err
		}
		res.Deleverage = dec
		return res, nil
	}

	token := pos.CollateralToken
	feeTokens, err := e.pricer.UsdToTokenMin(token, marginFees)
	if err != nil {
		return nil, err
	}
	if err := tx.IncreaseFeeReserve(token, feeTokens); err != nil {
		return nil, err
	}
	if err := tx.DecreaseReservedAmount(token, &pos.ReserveAmount); err != nil {
		return nil, err
	}

	if pooled(&pos) {
		if err := tx.DecreaseGuaranteedUsd(token, fixed.Sub(&pos.Size, &pos.Collateral)); err != nil {
			return nil, err
		}
		if err := tx.DecreasePoolAmount(token, feeTokens); err != nil {
			return nil, err
		}
	} else if marginFees.Cmp(&pos.Collateral) < 0 {
		remaining, err := e.pricer.UsdToTokenMin(token, fixed.Sub(&pos.Collateral, marginFees))
		if err != nil {
			return nil, err
		}
		if err := tx.IncreasePoolAmount(token, remaining); err != nil {
			return nil, err
		}
	}

	closed := pos
	closed.Reset()
	tx.PutPosition(closed)

	liqFeeTokens, err := e.pricer.UsdToTokenMin(token, &e.params.LiquidationFeeUsd)
	if err != nil {
		return nil, err
	}
	if err := tx.DecreasePoolAmount(token, liqFeeTokens); err != nil {
		return nil, err
	}
	if err := tx.TransferOut(token, liqFeeTokens); err != nil {
		return nil, err
	}
	res.LiquidationFeeTokens = liqFeeTokens
	return res, nil
}
