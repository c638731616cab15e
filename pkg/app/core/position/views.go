package position

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/fixed"
)

// Get loads a position; a zero Size means it does not exist.
func (e *Engine) Get(tx *ledger.Tx, account, collateralToken, indexToken common.Address, isLong bool) (ledger.Position, error) {
	return tx.Position(account, collateralToken, indexToken, isLong)
}

// GetDelta is the unrealised PnL of the whole position at the current price.
func (e *Engine) GetDelta(tx *ledger.Tx, account, collateralToken, indexToken common.Address, isLong bool, now uint64) (bool, *uint256.Int, error) {
	pos, err := tx.Position(account, collateralToken, indexToken, isLong)
	if err != nil {
		return false, nil, err
	}
	if !pos.IsOpen() {
		return false, nil, ErrEmptyPosition
	}
	return e.Delta(pos.IndexToken, &pos.Size, &pos.AveragePrice, pos.IsLong, pos.LastIncreasedTime, now)
}

// Leverage is size / collateral in basis points: 90000 is 9x.
func Leverage(pos *ledger.Position) (*uint256.Int, error) {
	if !pos.IsOpen() || pos.Collateral.IsZero() {
		return nil, ErrEmptyPosition
	}
	return fixed.MulDiv(&pos.Size, fixed.U64(fixed.BasisPointsDivisor), &pos.Collateral), nil
}

func (e *Engine) GetLeverage(tx *ledger.Tx, account, collateralToken, indexToken common.Address, isLong bool) (*uint256.Int, error) {
	pos, err := tx.Position(account, collateralToken, indexToken, isLong)
	if err != nil {
		return nil, err
	}
	return Leverage(&pos)
}
