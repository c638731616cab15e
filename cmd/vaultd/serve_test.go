package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypervault/params"
	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/app/core/registry"
	"github.com/uhyunpark/hypervault/pkg/fixed"
	"github.com/uhyunpark/hypervault/pkg/storage"
)

func TestVaultConfig(t *testing.T) {
	p := params.Default().Vault
	p.MinProfitTime = 3 * time.Hour

	cfg := vaultConfig(p)
	require.Equal(t, uint64(30), cfg.Stable.MintBurnFeeBps)
	require.Equal(t, fixed.USD(5).Dec(), cfg.Position.LiquidationFeeUsd.Dec())
	require.Equal(t, uint64(10800), cfg.Position.MinProfitTime)
	require.Equal(t, uint64(8*3600), cfg.Funding.IntervalSeconds)
	require.Equal(t, uint64(600), cfg.Funding.RateFactor)
}

func TestNewFeedSeedsBySymbol(t *testing.T) {
	cfg := params.Default()
	reg := registry.New()
	for _, tc := range cfg.Tokens {
		require.NoError(t, reg.Register(tc))
	}
	cfg.Oracle.SpreadBps = map[string]uint64{"BTC": 10}

	feed, err := newFeed(cfg.Oracle, reg)
	require.NoError(t, err)

	btc, _ := reg.BySymbol("BTC")
	max, ok := feed.GetPrice(btc.Address, true)
	require.True(t, ok)
	require.Equal(t, "40040", fixed.FormatUSD(max))

	cfg.Oracle.SeedPrices = map[string]uint64{"ETH": 2000}
	_, err = newFeed(cfg.Oracle, reg)
	require.Error(t, err)
}

func TestOpenLedger(t *testing.T) {
	store, err := openLedger(t.TempDir(), true)
	require.NoError(t, err)
	require.IsType(t, &ledger.MemStore{}, store)
	require.NoError(t, store.Close())

	store, err = openLedger(filepath.Join(t.TempDir(), "db"), false)
	require.NoError(t, err)
	require.IsType(t, &storage.PebbleStore{}, store)
	require.NoError(t, store.Close())
}
