package vault

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/app/core/position"
)

// Read-only queries. They run against a throwaway Tx so pending funding is
// projected without being written. Queries that do price math recover
// overflow into ErrArithmetic the same way mutating operations do.

func (v *Vault) view() (*ledger.Tx, uint64) {
	return ledger.NewTx(v.store), v.Now()
}

func (v *Vault) GetPool(token common.Address) (ledger.PoolState, error) {
	tx, _ := v.view()
	return tx.Pool(token)
}

func (v *Vault) Pools() ([]ledger.PoolState, error) {
	return v.store.Pools()
}

func (v *Vault) GetFunding(token common.Address) (ledger.FundingState, error) {
	tx, _ := v.view()
	return tx.Funding(token)
}

func (v *Vault) GetPosition(account, collateralToken, indexToken common.Address, isLong bool) (ledger.Position, error) {
	tx, _ := v.view()
	return v.positions.Get(tx, account, collateralToken, indexToken, isLong)
}

func (v *Vault) AccountPositions(account common.Address) ([]ledger.Position, error) {
	return v.store.AccountPositions(account)
}

func (v *Vault) OpenPositions() ([]ledger.Position, error) {
	return v.store.OpenPositions()
}

// GetPositionDelta reports the unrealised PnL of the whole position.
func (v *Vault) GetPositionDelta(account, collateralToken, indexToken common.Address, isLong bool) (hasProfit bool, delta *uint256.Int, err error) {
	defer recoverArithmetic(&err)
	tx, now := v.view()
	return v.positions.GetDelta(tx, account, collateralToken, indexToken, isLong, now)
}

// GetPositionLeverage is size*10000/collateral.
func (v *Vault) GetPositionLeverage(account, collateralToken, indexToken common.Address, isLong bool) (lev *uint256.Int, err error) {
	defer recoverArithmetic(&err)
	tx, _ := v.view()
	return v.positions.GetLeverage(tx, account, collateralToken, indexToken, isLong)
}

// ValidateLiquidation reports the liquidation state of a position with
// funding accrued up to now.
func (v *Vault) ValidateLiquidation(account, collateralToken, indexToken common.Address, isLong bool) (state position.LiquidationState, marginFees *uint256.Int, err error) {
	defer recoverArithmetic(&err)
	tx, now := v.view()
	if _, err := v.funding.Update(tx, collateralToken, now); err != nil {
		return position.Healthy, nil, err
	}
	pos, err := tx.Position(account, collateralToken, indexToken, isLong)
	if err != nil {
		return position.Healthy, nil, err
	}
	if !pos.IsOpen() {
		return position.Healthy, nil, position.ErrEmptyPosition
	}
	return v.positions.ValidateLiquidation(tx, &pos, false, now)
}

func (v *Vault) GetRedemptionCollateralUsd(token common.Address) (usd *uint256.Int, err error) {
	defer recoverArithmetic(&err)
	tx, _ := v.view()
	return v.stable.RedemptionCollateralUsd(tx, token)
}

// GetFeeBasisPoints prices a mint (increment) or redeem of usdDelta stable
// units against token.
func (v *Vault) GetFeeBasisPoints(token common.Address, usdDelta *uint256.Int, increment bool) (bps uint64, err error) {
	defer recoverArithmetic(&err)
	tx, _ := v.view()
	return v.stable.FeeBasisPoints(tx, token, usdDelta, increment)
}

func (v *Vault) GetTargetStableAmount(token common.Address) (target *uint256.Int, err error) {
	defer recoverArithmetic(&err)
	tx, _ := v.view()
	return v.stable.TargetStableAmount(tx, token)
}

func (v *Vault) StableSupply() (uint256.Int, error) {
	return v.store.StableSupply()
}

func (v *Vault) StableBalance(account common.Address) (uint256.Int, error) {
	return v.store.StableBalance(account)
}
