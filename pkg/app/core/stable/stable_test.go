package stable

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypervault/pkg/app/core/funding"
	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/app/core/oracle"
	"github.com/uhyunpark/hypervault/pkg/app/core/registry"
	"github.com/uhyunpark/hypervault/pkg/fixed"
	"github.com/uhyunpark/hypervault/pkg/util"
)

var (
	btc   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	dai   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

const now = uint64(1_700_006_400)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func newEngine(t *testing.T, dynamic bool) (*Engine, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(registry.TokenConfig{
		Symbol: "BTC", Address: btc, Decimals: 8, Weight: 5000, RedemptionBps: 10000, Whitelisted: true,
	}))
	require.NoError(t, reg.Register(registry.TokenConfig{
		Symbol: "DAI", Address: dai, Decimals: 18, Weight: 5000, RedemptionBps: 10000, IsStable: true, Whitelisted: true,
	}))

	feed := oracle.NewFeed(util.NewManualClock(time.Unix(int64(now), 0)), 0, 1)
	require.NoError(t, feed.SetPrice(btc, fixed.USD(40000)))
	require.NoError(t, feed.SetPrice(dai, fixed.USD(1)))

	fe, err := funding.New(funding.Params{IntervalSeconds: 8 * 3600, RateFactor: 600, StableRateFactor: 600}, reg)
	require.NoError(t, err)
	params := Params{MintBurnFeeBps: 30, TaxBps: 50, StableTaxBps: 20, HasDynamicFees: dynamic}
	return New(params, reg, oracle.NewPricer(feed, reg), fe), reg
}

// skewed stages 1000 units of supply with 600 against BTC and 400 against DAI,
// so each token's target is 500.
func skewed(t *testing.T) *ledger.Tx {
	t.Helper()
	tx := ledger.NewTx(ledger.NewMemStore())
	require.NoError(t, tx.MintStable(alice, u(1000)))
	require.NoError(t, tx.IncreaseStableLiability(btc, u(600)))
	require.NoError(t, tx.IncreaseStableLiability(dai, u(400)))
	return tx
}

func TestFeeBasisPoints(t *testing.T) {
	e, _ := newEngine(t, true)
	tx := skewed(t)

	target, err := e.TargetStableAmount(tx, btc)
	require.NoError(t, err)
	require.Equal(t, "500", target.Dec())

	tests := []struct {
		name      string
		token     common.Address
		delta     uint64
		increment bool
		want      uint64
	}{
		// diff 100 -> 200, average 150: 30 + 50*150/500
		{"mint away from target", btc, 100, true, 45},
		// diff 100 -> 0: 30 - 50*100/500
		{"redeem toward target", btc, 100, false, 20},
		// stable tax: 30 - 20*100/500
		{"stable mint toward target", dai, 100, true, 26},
		// overshoot past target still narrows the gap
		{"mint past target", dai, 150, true, 26},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.FeeBasisPoints(tx, tt.token, u(tt.delta), tt.increment)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFeeBasisPointsRebateFloorsAtZero(t *testing.T) {
	e, _ := newEngine(t, true)
	tx := ledger.NewTx(ledger.NewMemStore())
	require.NoError(t, tx.MintStable(alice, u(1000)))
	require.NoError(t, tx.IncreaseStableLiability(btc, u(100)))

	// rebate 50*400/500 = 40 exceeds the 30 bps base
	got, err := e.FeeBasisPoints(tx, btc, u(100), true)
	require.NoError(t, err)
	require.Equal(t, uint64(0), got)
}

func TestFeeBasisPointsStatic(t *testing.T) {
	e, _ := newEngine(t, false)
	got, err := e.FeeBasisPoints(skewed(t), btc, u(100), true)
	require.NoError(t, err)
	require.Equal(t, uint64(30), got)

	// no supply means no target to lean on
	e, _ = newEngine(t, true)
	got, err = e.FeeBasisPoints(ledger.NewTx(ledger.NewMemStore()), btc, u(100), true)
	require.NoError(t, err)
	require.Equal(t, uint64(30), got)
}

func TestRedemptionCollateralUsd(t *testing.T) {
	e, _ := newEngine(t, false)
	tx := ledger.NewTx(ledger.NewMemStore())
	require.NoError(t, tx.IncreasePoolAmount(btc, u(100_000_000)))
	require.NoError(t, tx.IncreaseReservedAmount(btc, u(25_000_000)))
	require.NoError(t, tx.IncreaseGuaranteedUsd(btc, fixed.USD(5)))
	require.NoError(t, tx.IncreasePoolAmount(dai, fixed.Units(100, 18)))

	// 0.75 BTC unreserved plus $5 owed back by longs
	usd, err := e.RedemptionCollateralUsd(tx, btc)
	require.NoError(t, err)
	require.Equal(t, fixed.USD(30005).Dec(), usd.Dec())

	usd, err = e.RedemptionCollateralUsd(tx, dai)
	require.NoError(t, err)
	require.Equal(t, fixed.USD(100).Dec(), usd.Dec())
}

// Guaranteed USD is converted to tokens before pricing, so its sub-satoshi
// remainder is dropped.
func TestRedemptionCollateralTruncatesGuaranteed(t *testing.T) {
	e, _ := newEngine(t, false)
	tx := ledger.NewTx(ledger.NewMemStore())
	require.NoError(t, tx.IncreasePoolAmount(btc, u(256675)))
	require.NoError(t, tx.IncreaseReservedAmount(btc, u(117500)))
	guaranteed, err := fixed.ParseUnits("38.047", fixed.PriceDecimals)
	require.NoError(t, err)
	require.NoError(t, tx.IncreaseGuaranteedUsd(btc, guaranteed))

	// (139175 + 95117) sats at $40000
	usd, err := e.RedemptionCollateralUsd(tx, btc)
	require.NoError(t, err)
	require.Equal(t, "93.7168", fixed.FormatUSD(usd))
}

func TestMintRedeemDai(t *testing.T) {
	e, _ := newEngine(t, false)
	tx := ledger.NewTx(ledger.NewMemStore())

	minted, err := e.Mint(tx, MintRequest{Token: dai, Amount: fixed.Units(100, 18), Receiver: alice}, now)
	require.NoError(t, err)
	require.Equal(t, fixed.Units(997, 17).Dec(), minted.Minted.Dec())
	require.Equal(t, fixed.Units(3, 17).Dec(), minted.FeeTokens.Dec())

	res, err := e.Redeem(tx, RedeemRequest{Account: alice, Token: dai, StableUnits: fixed.Units(50, 18), Receiver: alice}, now)
	require.NoError(t, err)
	// 50 DAI less 0.3%
	require.Equal(t, fixed.Units(4985, 16).Dec(), res.AmountOut.Dec())

	bal, err := tx.StableBalance(alice)
	require.NoError(t, err)
	require.Equal(t, fixed.Units(497, 17).Dec(), bal.Dec())

	pool, err := tx.Pool(dai)
	require.NoError(t, err)
	require.Equal(t, fixed.Units(497, 17).Dec(), pool.StableLiability.Dec())
	require.NoError(t, ledger.CheckStaged(tx.Changes()))
}

func TestRedeemGuards(t *testing.T) {
	e, reg := newEngine(t, false)
	tx := ledger.NewTx(ledger.NewMemStore())
	_, err := e.Mint(tx, MintRequest{Token: dai, Amount: fixed.Units(10, 18), Receiver: alice}, now)
	require.NoError(t, err)

	_, err = e.Redeem(tx, RedeemRequest{Account: alice, Token: dai, StableUnits: fixed.Units(11, 18), Receiver: alice}, now)
	require.ErrorIs(t, err, ledger.ErrInsufficientStableBalance)

	_, err = e.Redeem(tx, RedeemRequest{Account: alice, Token: dai, Receiver: alice}, now)
	require.ErrorIs(t, err, ErrInvalidAmount)

	require.NoError(t, reg.Update(registry.TokenConfig{
		Symbol: "DAI", Address: dai, Decimals: 18, Weight: 5000, IsStable: true, Whitelisted: true,
	}))
	_, err = e.Redeem(tx, RedeemRequest{Account: alice, Token: dai, StableUnits: fixed.Units(1, 18), Receiver: alice}, now)
	require.ErrorIs(t, err, ErrTokenNotRedeemable)
}

func TestDirectPoolDeposit(t *testing.T) {
	e, _ := newEngine(t, false)
	tx := ledger.NewTx(ledger.NewMemStore())

	require.NoError(t, e.DirectPoolDeposit(tx, btc, u(5000)))
	pool, err := tx.Pool(btc)
	require.NoError(t, err)
	require.Equal(t, "5000", pool.PoolAmount.Dec())
	require.Equal(t, "5000", pool.Balance.Dec())
	require.True(t, pool.StableLiability.IsZero())

	require.ErrorIs(t, e.DirectPoolDeposit(tx, btc, u(0)), ErrInvalidAmount)
	require.ErrorIs(t, e.DirectPoolDeposit(tx, common.HexToAddress("0xe1"), u(1)), registry.ErrTokenNotWhitelisted)
}
