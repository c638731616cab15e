// Package vaulttest builds small in-memory vaults for tests in other
// packages.
package vaulttest

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypervault/pkg/app/core/funding"
	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/app/core/oracle"
	"github.com/uhyunpark/hypervault/pkg/app/core/position"
	"github.com/uhyunpark/hypervault/pkg/app/core/registry"
	"github.com/uhyunpark/hypervault/pkg/app/core/stable"
	"github.com/uhyunpark/hypervault/pkg/app/vault"
	"github.com/uhyunpark/hypervault/pkg/fixed"
	"github.com/uhyunpark/hypervault/pkg/util"
)

var (
	BTC = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	DAI = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

// Genesis is aligned to the 8h funding interval.
var Genesis = time.Unix(1_700_006_400, 0)

type Fixture struct {
	Vault  *vault.Vault
	Serial *vault.Serial
	Clock  *util.ManualClock
	Feed   *oracle.Feed
}

func Config() vault.Config {
	return vault.Config{
		Stable: stable.Params{MintBurnFeeBps: 30, TaxBps: 50, StableTaxBps: 20},
		Position: position.Params{
			MarginFeeBps:      10,
			LiquidationFeeUsd: *fixed.USD(5),
			MaxLeverage:       500000,
		},
		Funding: funding.Params{IntervalSeconds: 8 * 3600, RateFactor: 600, StableRateFactor: 600},
	}
}

// New returns a vault over a MemStore with BTC at $40000 and DAI at $1.
func New(t testing.TB) *Fixture {
	t.Helper()
	return NewWithStore(t, ledger.NewMemStore())
}

func NewWithStore(t testing.TB, store ledger.Store) *Fixture {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(registry.TokenConfig{
		Symbol: "BTC", Address: BTC, Decimals: 8, Weight: 10000,
		MinProfitBps: 75, RedemptionBps: 9000, IsShortable: true, Whitelisted: true,
	}))
	require.NoError(t, reg.Register(registry.TokenConfig{
		Symbol: "DAI", Address: DAI, Decimals: 18, Weight: 10000,
		MinProfitBps: 75, RedemptionBps: 9000, IsStable: true, Whitelisted: true,
	}))

	clock := util.NewManualClock(Genesis)
	feed := oracle.NewFeed(clock, 0, 1)
	v, err := vault.New(Config(), store, reg, feed, clock, nil)
	require.NoError(t, err)

	f := &Fixture{Vault: v, Serial: vault.NewSerial(v), Clock: clock, Feed: feed}
	f.SetPrice(BTC, 40000)
	f.SetPrice(DAI, 1)
	return f
}

func (f *Fixture) SetPrice(token common.Address, dollars uint64) {
	if err := f.Feed.SetPrice(token, fixed.USD(dollars)); err != nil {
		panic(err)
	}
}

// SeedBTC mints 0.0025 BTC worth of stable units to receiver.
func (f *Fixture) SeedBTC(t testing.TB, receiver common.Address) {
	t.Helper()
	_, err := f.Vault.Mint(stable.MintRequest{Token: BTC, Amount: fixed.U64(250000), Receiver: receiver})
	require.NoError(t, err)
}

// OpenLong opens a BTC long for account with collateral sats and a size in
// whole dollars.
func (f *Fixture) OpenLong(t testing.TB, account common.Address, collateral, sizeDollars uint64) *position.IncreaseResult {
	t.Helper()
	res, err := f.Vault.IncreasePosition(position.IncreaseRequest{
		Account: account, CollateralToken: BTC, IndexToken: BTC,
		CollateralAmount: fixed.U64(collateral), SizeDelta: fixed.USD(sizeDollars), IsLong: true,
	})
	require.NoError(t, err)
	return res
}
