package position

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/fixed"
)

// IncreaseRequest opens or grows a position. CollateralAmount is the number of
// collateral tokens delivered with the request; SizeDelta is USD at 1e30.
type IncreaseRequest struct {
	Account          common.Address
	CollateralToken  common.Address
	IndexToken       common.Address
	CollateralAmount *uint256.Int
	SizeDelta        *uint256.Int
	IsLong           bool
}

type IncreaseResult struct {
	Position           ledger.Position
	Price              *uint256.Int
	Fee                *uint256.Int
	FeeTokens          *uint256.Int
	CollateralDeltaUsd *uint256.Int
	ReserveDelta       *uint256.Int
}

// Increase settles funding, folds the new size into the average price,
// charges the margin fee, reserves pool capacity for the added size and, for
// pooled collateral, moves the collateral into the pool. Every check runs against the
// staged state; the caller discards tx on error.
func (e *Engine) Increase(tx *ledger.Tx, req IncreaseRequest, now uint64) (*IncreaseResult, error) {
	sizeDelta := orZero(req.SizeDelta)
	amount := orZero(req.CollateralAmount)

	if err := e.validateTokens(req.CollateralToken, req.IndexToken, req.IsLong); err != nil {
		return nil, err
	}
	if _, err := e.funding.Update(tx, req.CollateralToken, now); err != nil {
		return nil, err
	}

	pos, err := tx.Position(req.Account, req.CollateralToken, req.IndexToken, req.IsLong)
	if err != nil {
		return nil, err
	}

	var price *uint256.Int
	if req.IsLong {
		price, err = e.pricer.MaxPrice(req.IndexToken)
	} else {
		price, err = e.pricer.MinPrice(req.IndexToken)
	}
	if err != nil {
		return nil, err
	}

	if pos.Size.IsZero() {
		pos.AveragePrice = *fixed.Clone(price)
	} else if !sizeDelta.IsZero() {
		next, err := e.NextAveragePrice(&pos, price, sizeDelta, now)
		if err != nil {
			return nil, err
		}
		pos.AveragePrice = *next
	}

	fee, feeTokens, err := e.collectMarginFees(tx, &pos, sizeDelta)
	if err != nil {
		return nil, err
	}

	if err := tx.TransferIn(req.CollateralToken, amount); err != nil {
		return nil, err
	}
	collateralDeltaUsd, err := e.pricer.TokenToUsdMin(req.CollateralToken, amount)
	if err != nil {
		return nil, err
	}

	pos.Collateral = *fixed.Add(&pos.Collateral, collateralDeltaUsd)
	if pos.Collateral.Cmp(fee) < 0 {
		return nil, ErrInsufficientCollateralForFees
	}
	pos.Collateral.Sub(&pos.Collateral, fee)

	cumulative, err := e.funding.CumulativeRate(tx, req.CollateralToken)
	if err != nil {
		return nil, err
	}
	pos.EntryFundingRate = *cumulative
	pos.Size = *fixed.Add(&pos.Size, sizeDelta)
	if !sizeDelta.IsZero() {
		pos.LastIncreasedTime = now
	}

	if pos.Size.IsZero() {
		return nil, ErrInvalidPositionSize
	}
	if err := validateSize(&pos); err != nil {
		return nil, err
	}
	if _, _, err := e.ValidateLiquidation(tx, &pos, true, now); err != nil {
		return nil, err
	}

	reserveDelta, err := e.pricer.UsdToTokenMax(req.CollateralToken, sizeDelta)
	if err != nil {
		return nil, err
	}
	pos.ReserveAmount = *fixed.Add(&pos.ReserveAmount, reserveDelta)
	if err := tx.IncreaseReservedAmount(req.CollateralToken, reserveDelta); err != nil {
		return nil, err
	}

	if pooled(&pos) {
		// guaranteedUsd moves by sizeDelta + fee - collateralDeltaUsd; add
		// before subtracting so the unsigned row never dips below zero.
		if err := tx.IncreaseGuaranteedUsd(req.CollateralToken, fixed.Add(sizeDelta, fee)); err != nil {
			return nil, err
		}
		if err := tx.DecreaseGuaranteedUsd(req.CollateralToken, collateralDeltaUsd); err != nil {
			return nil, err
		}
		if err := tx.IncreasePoolAmount(req.CollateralToken, amount); err != nil {
			return nil, err
		}
		if err := tx.DecreasePoolAmount(req.CollateralToken, feeTokens); err != nil {
			return nil, err
		}
	}

	tx.PutPosition(pos)
	return &IncreaseResult{
		Position:           pos,
		Price:              price,
		Fee:                fee,
		FeeTokens:          feeTokens,
		CollateralDeltaUsd: collateralDeltaUsd,
		ReserveDelta:       reserveDelta,
	}, nil
}
