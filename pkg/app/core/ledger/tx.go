package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ChangeSet is the set of rows an operation wants to write.
type ChangeSet struct {
	Pools     map[common.Address]PoolState
	Funding   map[common.Address]FundingState
	Positions map[PositionKey]Position
	Balances  map[common.Address]uint256.Int
	Supply    *uint256.Int
}

func newChangeSet() *ChangeSet {
	return &ChangeSet{
		Pools:     make(map[common.Address]PoolState),
		Funding:   make(map[common.Address]FundingState),
		Positions: make(map[PositionKey]Position),
		Balances:  make(map[common.Address]uint256.Int),
	}
}

// Empty reports whether nothing was staged.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Pools) == 0 && len(cs.Funding) == 0 && len(cs.Positions) == 0 &&
		len(cs.Balances) == 0 && cs.Supply == nil
}

// Tx reads through staged writes to a base Reader. Nothing reaches the base
// until the owner commits Changes(); dropping the Tx discards the work.
type Tx struct {
	base Reader
	cs   *ChangeSet
}

func NewTx(base Reader) *Tx {
	return &Tx{base: base, cs: newChangeSet()}
}

// Changes returns the staged rows.
func (tx *Tx) Changes() *ChangeSet { return tx.cs }

func (tx *Tx) Pool(token common.Address) (PoolState, error) {
	if p, ok := tx.cs.Pools[token]; ok {
		return p, nil
	}
	p, err := tx.base.Pool(token)
	if err != nil {
		return PoolState{}, err
	}
	p.Token = token
	return p, nil
}

func (tx *Tx) PutPool(p PoolState) { tx.cs.Pools[p.Token] = p }

func (tx *Tx) Funding(token common.Address) (FundingState, error) {
	if f, ok := tx.cs.Funding[token]; ok {
		return f, nil
	}
	f, err := tx.base.Funding(token)
	if err != nil {
		return FundingState{}, err
	}
	f.Token = token
	return f, nil
}

func (tx *Tx) PutFunding(f FundingState) { tx.cs.Funding[f.Token] = f }

// Position loads the position for the tuple, filling in identity fields when
// the row does not exist yet.
func (tx *Tx) Position(account, collateralToken, indexToken common.Address, isLong bool) (Position, error) {
	key := NewPositionKey(account, collateralToken, indexToken, isLong)
	p, ok := tx.cs.Positions[key]
	if !ok {
		var err error
		if p, err = tx.base.Position(key); err != nil {
			return Position{}, err
		}
	}
	p.Account = account
	p.CollateralToken = collateralToken
	p.IndexToken = indexToken
	p.IsLong = isLong
	return p, nil
}

func (tx *Tx) PutPosition(p Position) { tx.cs.Positions[p.Key()] = p }

func (tx *Tx) StableSupply() (uint256.Int, error) {
	if tx.cs.Supply != nil {
		return *tx.cs.Supply, nil
	}
	return tx.base.StableSupply()
}

func (tx *Tx) StableBalance(account common.Address) (uint256.Int, error) {
	if b, ok := tx.cs.Balances[account]; ok {
		return b, nil
	}
	return tx.base.StableBalance(account)
}
