// Package ledger holds the vault's persisted rows and the staged change-set
// every operation writes through. Rows are plain values; a Tx overlays pending
// writes on a Reader until the vault commits them to a Store in one step.
package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// PositionKey identifies a position: keccak256(account ‖ collateral ‖ index ‖ isLong).
type PositionKey [32]byte

// NewPositionKey packs the tuple the same way abi.encodePacked would.
func NewPositionKey(account, collateralToken, indexToken common.Address, isLong bool) PositionKey {
	h := sha3.NewLegacyKeccak256()
	h.Write(account.Bytes())
	h.Write(collateralToken.Bytes())
	h.Write(indexToken.Bytes())
	if isLong {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	var k PositionKey
	copy(k[:], h.Sum(nil))
	return k
}

func (k PositionKey) Hex() string { return "0x" + hex.EncodeToString(k[:]) }

func (k PositionKey) String() string { return k.Hex() }

func (k PositionKey) MarshalText() ([]byte, error) { return []byte(k.Hex()), nil }

func (k *PositionKey) UnmarshalText(text []byte) error {
	s := string(text)
	if len(s) >= 2 && s[:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("ledger: position key: %w", err)
	}
	if len(b) != len(k) {
		return fmt.Errorf("ledger: position key must be %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return nil
}

// PoolState is the per-token aggregate.
type PoolState struct {
	Token common.Address `json:"token"`
	// PoolAmount backs the stable unit and is available for reservation.
	PoolAmount uint256.Int `json:"pool_amount"`
	// FeeReserve accrues mint, redeem, position and funding fees.
	FeeReserve uint256.Int `json:"fee_reserve"`
	// ReservedAmount is held against open positions collateralised in Token.
	ReservedAmount uint256.Int `json:"reserved_amount"`
	// GuaranteedUsd is the sum of (size - collateral) over open longs.
	GuaranteedUsd uint256.Int `json:"guaranteed_usd"`
	// StableLiability is the stable units outstanding minted against Token.
	StableLiability uint256.Int `json:"stable_liability"`
	// Balance is the vault's recorded holdings of Token.
	Balance uint256.Int `json:"balance"`
}

// Available is PoolAmount minus ReservedAmount, floored at zero.
func (p *PoolState) Available() *uint256.Int {
	if p.ReservedAmount.Cmp(&p.PoolAmount) >= 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(&p.PoolAmount, &p.ReservedAmount)
}

// FundingState tracks the cumulative funding rate for one collateral token.
type FundingState struct {
	Token          common.Address `json:"token"`
	CumulativeRate uint256.Int    `json:"cumulative_rate"`
	// LastFundingTime is unix seconds aligned to the funding interval. Zero
	// means the token has never been touched.
	LastFundingTime uint64 `json:"last_funding_time"`
}

// Position is one leveraged exposure. Size and Collateral are USD at 1e30.
type Position struct {
	Account         common.Address `json:"account"`
	CollateralToken common.Address `json:"collateral_token"`
	IndexToken      common.Address `json:"index_token"`
	IsLong          bool           `json:"is_long"`

	Size             uint256.Int `json:"size"`
	Collateral       uint256.Int `json:"collateral"`
	AveragePrice     uint256.Int `json:"average_price"`
	EntryFundingRate uint256.Int `json:"entry_funding_rate"`
	// ReserveAmount is in collateral-token units.
	ReserveAmount uint256.Int `json:"reserve_amount"`
	// RealisedPnl is a magnitude; HasRealisedProfit carries its sign.
	RealisedPnl       uint256.Int `json:"realised_pnl"`
	HasRealisedProfit bool        `json:"has_realised_profit"`
	LastIncreasedTime uint64      `json:"last_increased_time"`
}

func (p *Position) Key() PositionKey {
	return NewPositionKey(p.Account, p.CollateralToken, p.IndexToken, p.IsLong)
}

// IsOpen reports whether the position exists. Size zero is the closed state.
func (p *Position) IsOpen() bool { return !p.Size.IsZero() }

// Reset zeroes every numeric field and keeps the identity, which is how a
// closed position is stored.
func (p *Position) Reset() {
	*p = Position{
		Account:         p.Account,
		CollateralToken: p.CollateralToken,
		IndexToken:      p.IndexToken,
		IsLong:          p.IsLong,
	}
}

// AddRealisedPnl folds a signed delta into the signed running total.
func (p *Position) AddRealisedPnl(delta *uint256.Int, profit bool) {
	if delta.IsZero() {
		return
	}
	if p.RealisedPnl.IsZero() || p.HasRealisedProfit == profit {
		p.RealisedPnl.Add(&p.RealisedPnl, delta)
		p.HasRealisedProfit = profit
		return
	}
	if p.RealisedPnl.Cmp(delta) >= 0 {
		p.RealisedPnl.Sub(&p.RealisedPnl, delta)
		if p.RealisedPnl.IsZero() {
			p.HasRealisedProfit = false
		}
		return
	}
	p.RealisedPnl.Sub(delta, &p.RealisedPnl)
	p.HasRealisedProfit = profit
}
