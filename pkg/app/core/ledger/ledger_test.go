package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	btc   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	dai   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestPositionKeyIsStable(t *testing.T) {
	long := NewPositionKey(alice, btc, btc, true)
	require.Equal(t, long, NewPositionKey(alice, btc, btc, true))
	require.NotEqual(t, long, NewPositionKey(alice, btc, btc, false))
	require.NotEqual(t, long, NewPositionKey(alice, dai, btc, true))

	text, err := long.MarshalText()
	require.NoError(t, err)
	var back PositionKey
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, long, back)

	require.Error(t, back.UnmarshalText([]byte("0x1234")))
	require.Error(t, back.UnmarshalText([]byte("zz")))
}

func TestTxStagesUntilCommit(t *testing.T) {
	store := NewMemStore()
	tx := NewTx(store)

	require.NoError(t, tx.TransferIn(btc, u(1000)))
	require.NoError(t, tx.IncreasePoolAmount(btc, u(900)))
	require.NoError(t, tx.IncreaseFeeReserve(btc, u(100)))
	require.NoError(t, tx.MintStable(alice, u(50)))

	// staged rows are visible through the tx only
	p, err := tx.Pool(btc)
	require.NoError(t, err)
	require.Equal(t, "900", p.PoolAmount.Dec())
	p, err = store.Pool(btc)
	require.NoError(t, err)
	require.True(t, p.PoolAmount.IsZero())
	require.Equal(t, btc, p.Token)

	require.False(t, tx.Changes().Empty())
	require.NoError(t, CheckStaged(tx.Changes()))
	require.NoError(t, store.Commit(tx.Changes()))

	p, err = store.Pool(btc)
	require.NoError(t, err)
	require.Equal(t, "900", p.PoolAmount.Dec())
	require.Equal(t, "100", p.FeeReserve.Dec())
	require.Equal(t, "1000", p.Balance.Dec())

	supply, err := store.StableSupply()
	require.NoError(t, err)
	require.Equal(t, "50", supply.Dec())

	require.True(t, NewTx(store).Changes().Empty())
}

func TestPoolBounds(t *testing.T) {
	tx := NewTx(NewMemStore())
	require.NoError(t, tx.IncreasePoolAmount(btc, u(100)))

	require.ErrorIs(t, tx.IncreaseReservedAmount(btc, u(101)), ErrReserveExceedsPool)

	tx = NewTx(NewMemStore())
	require.NoError(t, tx.IncreasePoolAmount(btc, u(100)))
	require.NoError(t, tx.IncreaseReservedAmount(btc, u(60)))
	require.ErrorIs(t, tx.DecreasePoolAmount(btc, u(41)), ErrReserveExceedsPool)

	tx = NewTx(NewMemStore())
	require.NoError(t, tx.IncreasePoolAmount(btc, u(100)))
	require.ErrorIs(t, tx.DecreasePoolAmount(btc, u(101)), ErrPoolAmountExceeded)
	require.ErrorIs(t, tx.DecreaseReservedAmount(btc, u(1)), ErrInsufficientReserve)
	require.ErrorIs(t, tx.DecreaseGuaranteedUsd(btc, u(1)), ErrGuaranteedUsdExceeded)
	require.ErrorIs(t, tx.TransferOut(btc, u(1)), ErrInsufficientBalance)

	// liability floors at zero
	require.NoError(t, tx.IncreaseStableLiability(btc, u(10)))
	require.NoError(t, tx.DecreaseStableLiability(btc, u(25)))
	p, err := tx.Pool(btc)
	require.NoError(t, err)
	require.True(t, p.StableLiability.IsZero())

	avail := p.Available()
	require.Equal(t, "100", avail.Dec())
}

func TestBurnStable(t *testing.T) {
	tx := NewTx(NewMemStore())
	require.NoError(t, tx.MintStable(alice, u(70)))
	require.ErrorIs(t, tx.BurnStable(alice, u(71)), ErrInsufficientStableBalance)
	require.NoError(t, tx.BurnStable(alice, u(30)))

	bal, err := tx.StableBalance(alice)
	require.NoError(t, err)
	require.Equal(t, "40", bal.Dec())
	supply, err := tx.StableSupply()
	require.NoError(t, err)
	require.Equal(t, "40", supply.Dec())
}

func TestPositionRowsAndQueries(t *testing.T) {
	store := NewMemStore()
	tx := NewTx(store)

	pos, err := tx.Position(alice, btc, btc, true)
	require.NoError(t, err)
	require.False(t, pos.IsOpen())
	require.Equal(t, alice, pos.Account)

	pos.Size = *u(900)
	pos.Collateral = *u(100)
	pos.AveragePrice = *u(40000)
	tx.PutPosition(pos)

	closed, err := tx.Position(alice, dai, btc, false)
	require.NoError(t, err)
	tx.PutPosition(closed)

	require.NoError(t, CheckStaged(tx.Changes()))
	require.NoError(t, store.Commit(tx.Changes()))

	open, err := store.OpenPositions()
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, pos.Key(), open[0].Key())

	mine, err := store.AccountPositions(alice)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	others, err := store.AccountPositions(dai)
	require.NoError(t, err)
	require.Empty(t, others)
}

func TestCheckPosition(t *testing.T) {
	p := Position{Account: alice, CollateralToken: btc, IndexToken: btc, IsLong: true}
	require.NoError(t, CheckPosition(&p))

	p.Collateral = *u(5)
	require.ErrorIs(t, CheckPosition(&p), ErrInvariantViolation)

	p.Size = *u(5)
	require.ErrorIs(t, CheckPosition(&p), ErrInvariantViolation)

	p.Size = *u(50)
	require.ErrorIs(t, CheckPosition(&p), ErrInvariantViolation)

	p.AveragePrice = *u(1)
	require.NoError(t, CheckPosition(&p))

	p.Reset()
	require.NoError(t, CheckPosition(&p))
	require.Equal(t, alice, p.Account)

	tx := NewTx(NewMemStore())
	require.NoError(t, tx.IncreasePoolAmount(btc, u(10)))
	tx.Changes().Pools[btc] = PoolState{Token: btc, PoolAmount: *u(10), ReservedAmount: *u(11)}
	require.ErrorIs(t, CheckStaged(tx.Changes()), ErrInvariantViolation)
}

func TestAddRealisedPnl(t *testing.T) {
	var p Position
	p.AddRealisedPnl(u(10), true)
	require.Equal(t, "10", p.RealisedPnl.Dec())
	require.True(t, p.HasRealisedProfit)

	p.AddRealisedPnl(u(4), false)
	require.Equal(t, "6", p.RealisedPnl.Dec())
	require.True(t, p.HasRealisedProfit)

	p.AddRealisedPnl(u(9), false)
	require.Equal(t, "3", p.RealisedPnl.Dec())
	require.False(t, p.HasRealisedProfit)

	p.AddRealisedPnl(u(3), true)
	require.True(t, p.RealisedPnl.IsZero())
	require.False(t, p.HasRealisedProfit)
}

func TestClosedStoreRejectsCommit(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, store.Close())
	tx := NewTx(store)
	require.NoError(t, tx.IncreasePoolAmount(btc, u(1)))
	require.ErrorIs(t, store.Commit(tx.Changes()), ErrStoreClosed)
}
