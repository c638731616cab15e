package ledger

import (
	"errors"
	"fmt"
)

var ErrInvariantViolation = errors.New("vault: invariant violation")

// CheckStaged verifies the invariants every committed operation must leave
// behind, over the rows cs touches.
func CheckStaged(cs *ChangeSet) error {
	for token, p := range cs.Pools {
		if p.ReservedAmount.Cmp(&p.PoolAmount) > 0 {
			return fmt.Errorf("%w: %s reserved %s > pool %s",
				ErrInvariantViolation, token.Hex(), p.ReservedAmount.Dec(), p.PoolAmount.Dec())
		}
	}
	for key, p := range cs.Positions {
		if err := CheckPosition(&p); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// CheckPosition enforces the shape of a stored position: closed positions are
// fully zeroed, open ones have size > collateral > 0.
func CheckPosition(p *Position) error {
	if !p.IsOpen() {
		if !p.Collateral.IsZero() || !p.ReserveAmount.IsZero() {
			return fmt.Errorf("%w: closed position still holds collateral or reserve", ErrInvariantViolation)
		}
		return nil
	}
	if p.Collateral.IsZero() {
		return fmt.Errorf("%w: open position without collateral", ErrInvariantViolation)
	}
	if p.Size.Cmp(&p.Collateral) <= 0 {
		return fmt.Errorf("%w: size %s <= collateral %s", ErrInvariantViolation, p.Size.Dec(), p.Collateral.Dec())
	}
	if p.AveragePrice.IsZero() {
		return fmt.Errorf("%w: open position without average price", ErrInvariantViolation)
	}
	return nil
}
