package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hypervault/pkg/fixed"
)

var (
	ErrReserveExceedsPool        = errors.New("vault: reserve exceeds pool")
	ErrPoolAmountExceeded        = errors.New("vault: pool amount exceeded")
	ErrInsufficientReserve       = errors.New("vault: insufficient reserve")
	ErrGuaranteedUsdExceeded     = errors.New("vault: guaranteed usd exceeded")
	ErrInsufficientBalance       = errors.New("vault: insufficient token balance")
	ErrInsufficientStableBalance = errors.New("vault: insufficient stable unit balance")
)

// updatePool loads the row for token, applies fn and stages the result.
func (tx *Tx) updatePool(token common.Address, fn func(p *PoolState) error) error {
	p, err := tx.Pool(token)
	if err != nil {
		return err
	}
	if err := fn(&p); err != nil {
		return err
	}
	tx.PutPool(p)
	return nil
}

func (tx *Tx) IncreasePoolAmount(token common.Address, amount *uint256.Int) error {
	return tx.updatePool(token, func(p *PoolState) error {
		p.PoolAmount = *fixed.Add(&p.PoolAmount, amount)
		return nil
	})
}

// DecreasePoolAmount fails when the pool cannot cover amount or when the
// remainder would no longer cover what is reserved.
func (tx *Tx) DecreasePoolAmount(token common.Address, amount *uint256.Int) error {
	return tx.updatePool(token, func(p *PoolState) error {
		if p.PoolAmount.Cmp(amount) < 0 {
			return fmt.Errorf("%w: pool %s, need %s", ErrPoolAmountExceeded, p.PoolAmount.Dec(), amount.Dec())
		}
		p.PoolAmount.Sub(&p.PoolAmount, amount)
		if p.ReservedAmount.Cmp(&p.PoolAmount) > 0 {
			return ErrReserveExceedsPool
		}
		return nil
	})
}

func (tx *Tx) IncreaseReservedAmount(token common.Address, amount *uint256.Int) error {
	return tx.updatePool(token, func(p *PoolState) error {
		p.ReservedAmount = *fixed.Add(&p.ReservedAmount, amount)
		if p.ReservedAmount.Cmp(&p.PoolAmount) > 0 {
			return fmt.Errorf("%w: reserved %s, pool %s", ErrReserveExceedsPool, p.ReservedAmount.Dec(), p.PoolAmount.Dec())
		}
		return nil
	})
}

func (tx *Tx) DecreaseReservedAmount(token common.Address, amount *uint256.Int) error {
	return tx.updatePool(token, func(p *PoolState) error {
		if p.ReservedAmount.Cmp(amount) < 0 {
			return ErrInsufficientReserve
		}
		p.ReservedAmount.Sub(&p.ReservedAmount, amount)
		return nil
	})
}

func (tx *Tx) IncreaseGuaranteedUsd(token common.Address, usd *uint256.Int) error {
	return tx.updatePool(token, func(p *PoolState) error {
		p.GuaranteedUsd = *fixed.Add(&p.GuaranteedUsd, usd)
		return nil
	})
}

func (tx *Tx) DecreaseGuaranteedUsd(token common.Address, usd *uint256.Int) error {
	return tx.updatePool(token, func(p *PoolState) error {
		if p.GuaranteedUsd.Cmp(usd) < 0 {
			return ErrGuaranteedUsdExceeded
		}
		p.GuaranteedUsd.Sub(&p.GuaranteedUsd, usd)
		return nil
	})
}

func (tx *Tx) IncreaseFeeReserve(token common.Address, amount *uint256.Int) error {
	return tx.updatePool(token, func(p *PoolState) error {
		p.FeeReserve = *fixed.Add(&p.FeeReserve, amount)
		return nil
	})
}

func (tx *Tx) IncreaseStableLiability(token common.Address, amount *uint256.Int) error {
	return tx.updatePool(token, func(p *PoolState) error {
		p.StableLiability = *fixed.Add(&p.StableLiability, amount)
		return nil
	})
}

// DecreaseStableLiability floors at zero: a token can be redeemed for more
// stable units than were minted against it.
func (tx *Tx) DecreaseStableLiability(token common.Address, amount *uint256.Int) error {
	return tx.updatePool(token, func(p *PoolState) error {
		p.StableLiability = *fixed.SubFloor(&p.StableLiability, amount)
		return nil
	})
}

// TransferIn records tokens received by the vault.
func (tx *Tx) TransferIn(token common.Address, amount *uint256.Int) error {
	return tx.updatePool(token, func(p *PoolState) error {
		p.Balance = *fixed.Add(&p.Balance, amount)
		return nil
	})
}

// TransferOut records tokens leaving the vault.
func (tx *Tx) TransferOut(token common.Address, amount *uint256.Int) error {
	return tx.updatePool(token, func(p *PoolState) error {
		if p.Balance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: holdings %s, need %s", ErrInsufficientBalance, p.Balance.Dec(), amount.Dec())
		}
		p.Balance.Sub(&p.Balance, amount)
		return nil
	})
}

// MintStable credits account with amount stable units.
func (tx *Tx) MintStable(account common.Address, amount *uint256.Int) error {
	supply, err := tx.StableSupply()
	if err != nil {
		return err
	}
	bal, err := tx.StableBalance(account)
	if err != nil {
		return err
	}
	tx.cs.Supply = fixed.Add(&supply, amount)
	tx.cs.Balances[account] = *fixed.Add(&bal, amount)
	return nil
}

// BurnStable debits account.
func (tx *Tx) BurnStable(account common.Address, amount *uint256.Int) error {
	bal, err := tx.StableBalance(account)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientStableBalance, bal.Dec(), amount.Dec())
	}
	supply, err := tx.StableSupply()
	if err != nil {
		return err
	}
	tx.cs.Supply = fixed.SubFloor(&supply, amount)
	tx.cs.Balances[account] = *new(uint256.Int).Sub(&bal, amount)
	return nil
}
