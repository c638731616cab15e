package storage

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/fixed"
)

var (
	btc   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func openStore(t *testing.T, dir string) *PebbleStore {
	t.Helper()
	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	return s
}

func samplePosition(account common.Address) ledger.Position {
	return ledger.Position{
		Account:           account,
		CollateralToken:   btc,
		IndexToken:        btc,
		IsLong:            true,
		Size:              *fixed.USD(90),
		Collateral:        *fixed.USDCents(991),
		AveragePrice:      *fixed.USD(40000),
		ReserveAmount:     *uint256.NewInt(225000),
		LastIncreasedTime: 1700006400,
	}
}

func TestPebbleStoreRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger")
	s := openStore(t, dir)

	tx := ledger.NewTx(s)
	require.NoError(t, tx.IncreasePoolAmount(btc, uint256.NewInt(249250)))
	require.NoError(t, tx.IncreaseFeeReserve(btc, uint256.NewInt(750)))
	require.NoError(t, tx.TransferIn(btc, uint256.NewInt(250000)))
	require.NoError(t, tx.MintStable(bob, fixed.Units(997, 17)))
	tx.PutFunding(ledger.FundingState{Token: btc, CumulativeRate: *uint256.NewInt(239), LastFundingTime: 1700006400})
	pos := samplePosition(alice)
	tx.PutPosition(pos)
	require.NoError(t, s.Commit(tx.Changes()))
	require.NoError(t, s.Close())

	// reopen and read everything back
	s = openStore(t, dir)
	defer s.Close()

	pool, err := s.Pool(btc)
	require.NoError(t, err)
	require.Equal(t, btc, pool.Token)
	require.Equal(t, "249250", pool.PoolAmount.Dec())
	require.Equal(t, "750", pool.FeeReserve.Dec())
	require.Equal(t, "250000", pool.Balance.Dec())

	f, err := s.Funding(btc)
	require.NoError(t, err)
	require.Equal(t, "239", f.CumulativeRate.Dec())
	require.Equal(t, uint64(1700006400), f.LastFundingTime)

	got, err := s.Position(pos.Key())
	require.NoError(t, err)
	require.Equal(t, pos, got)

	supply, err := s.StableSupply()
	require.NoError(t, err)
	require.Equal(t, fixed.Units(997, 17).Dec(), supply.Dec())
	bal, err := s.StableBalance(bob)
	require.NoError(t, err)
	require.Equal(t, supply, bal)

	pools, err := s.Pools()
	require.NoError(t, err)
	require.Len(t, pools, 1)

	mine, err := s.AccountPositions(alice)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	none, err := s.AccountPositions(bob)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestPebbleStoreMissingRowsAreZero(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	pool, err := s.Pool(btc)
	require.NoError(t, err)
	require.Equal(t, btc, pool.Token)
	require.True(t, pool.PoolAmount.IsZero())

	bal, err := s.StableBalance(alice)
	require.NoError(t, err)
	require.True(t, bal.IsZero())

	p, err := s.Position(ledger.NewPositionKey(alice, btc, btc, false))
	require.NoError(t, err)
	require.False(t, p.IsOpen())
}

func TestPebbleStoreDeletesClosedPositions(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	pos := samplePosition(alice)
	tx := ledger.NewTx(s)
	tx.PutPosition(pos)
	require.NoError(t, s.Commit(tx.Changes()))

	open, err := s.OpenPositions()
	require.NoError(t, err)
	require.Len(t, open, 1)

	closed := pos
	closed.Reset()
	tx = ledger.NewTx(s)
	tx.PutPosition(closed)
	require.NoError(t, s.Commit(tx.Changes()))

	open, err = s.OpenPositions()
	require.NoError(t, err)
	require.Empty(t, open)
	mine, err := s.AccountPositions(alice)
	require.NoError(t, err)
	require.Empty(t, mine)

	// a dropped row reads back as the zero position
	got, err := s.Position(pos.Key())
	require.NoError(t, err)
	require.Equal(t, ledger.Position{}, got)
}

func TestPebbleStoreClosed(t *testing.T) {
	s := openStore(t, t.TempDir())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Pool(btc)
	require.ErrorIs(t, err, ledger.ErrStoreClosed)
	require.ErrorIs(t, s.Commit(ledger.NewTx(ledger.NewMemStore()).Changes()), ledger.ErrStoreClosed)
}

func TestFileJournalTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	j, err := NewFileJournal(path)
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(map[string]int{"seq": i}))
	}

	tail, err := j.Tail(2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.JSONEq(t, `{"seq":3}`, string(tail[0]))
	require.JSONEq(t, `{"seq":4}`, string(tail[1]))

	all, err := j.Tail(0)
	require.NoError(t, err)
	require.Len(t, all, 5)
}
