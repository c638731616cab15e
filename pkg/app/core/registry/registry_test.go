package registry

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	btc = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	dai = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

func listed() *Registry {
	r := New()
	_ = r.Register(TokenConfig{Symbol: "BTC", Address: btc, Decimals: 8, Weight: 7000, MinProfitBps: 75, IsShortable: true, Whitelisted: true})
	_ = r.Register(TokenConfig{Symbol: "DAI", Address: dai, Decimals: 18, Weight: 3000, IsStable: true, Whitelisted: true})
	return r
}

func TestRegisterTracksWeights(t *testing.T) {
	r := listed()
	require.Equal(t, uint64(10000), r.TotalWeights())
	require.Equal(t, uint64(7000), r.TargetWeight(btc))
	require.Equal(t, uint8(18), r.Decimals(dai))
	require.True(t, r.IsStable(dai))
	require.True(t, r.IsShortable(btc))

	err := r.Register(TokenConfig{Symbol: "BTC2", Address: btc, Decimals: 8, Whitelisted: true})
	require.ErrorIs(t, err, ErrTokenExists)

	require.NoError(t, r.Update(TokenConfig{Symbol: "BTC", Address: btc, Decimals: 8, Weight: 5000, Whitelisted: true}))
	require.Equal(t, uint64(8000), r.TotalWeights())

	err = r.Update(TokenConfig{Symbol: "ETH", Address: common.HexToAddress("0xe1"), Decimals: 18})
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRegisterValidates(t *testing.T) {
	r := New()
	require.ErrorIs(t, r.Register(TokenConfig{Symbol: "X"}), ErrInvalidConfig)
	require.ErrorIs(t, r.Register(TokenConfig{Symbol: "X", Address: btc, Decimals: 31}), ErrInvalidConfig)
	require.ErrorIs(t, r.Register(TokenConfig{Symbol: "X", Address: btc, MinProfitBps: 10001}), ErrInvalidConfig)
	require.ErrorIs(t, r.Register(TokenConfig{Symbol: "X", Address: dai, IsStable: true, SelfCollateralShorts: true}), ErrInvalidConfig)
}

func TestDeconfigure(t *testing.T) {
	r := listed()
	require.NoError(t, r.Deconfigure(btc))

	require.False(t, r.IsWhitelisted(btc))
	require.Equal(t, uint64(0), r.TargetWeight(btc))
	require.Equal(t, uint64(3000), r.TotalWeights())
	require.Equal(t, []common.Address{dai}, r.Whitelisted())

	// decimals survive so existing rows still price
	require.Equal(t, uint8(8), r.Decimals(btc))

	require.ErrorIs(t, r.Deconfigure(common.HexToAddress("0xe1")), ErrTokenNotFound)
}

func TestLookups(t *testing.T) {
	r := listed()

	cfg, ok := r.BySymbol("btc")
	require.True(t, ok)
	require.Equal(t, btc, cfg.Address)
	_, ok = r.BySymbol("ETH")
	require.False(t, ok)

	list := r.List()
	require.Len(t, list, 2)
	require.Equal(t, "BTC", list[0].Symbol)
	require.Equal(t, "DAI", list[1].Symbol)

	require.False(t, r.IsWhitelisted(common.HexToAddress("0xe1")))
	require.Equal(t, uint8(0), r.Decimals(common.HexToAddress("0xe1")))
}

func TestParseTokenConfig(t *testing.T) {
	cfg, err := ParseTokenConfig("eth:0x00000000000000000000000000000000000000e1:18:5000:150:shortable")
	require.NoError(t, err)
	require.Equal(t, "ETH", cfg.Symbol)
	require.Equal(t, uint8(18), cfg.Decimals)
	require.Equal(t, uint64(5000), cfg.Weight)
	require.Equal(t, uint64(150), cfg.MinProfitBps)
	require.Equal(t, uint64(10000), cfg.RedemptionBps)
	require.True(t, cfg.IsShortable)
	require.True(t, cfg.Whitelisted)

	cfg, err = ParseTokenConfig("USDC:0x00000000000000000000000000000000000000c1:6:3000:0:stable,noredeem")
	require.NoError(t, err)
	require.True(t, cfg.IsStable)
	require.Equal(t, uint64(0), cfg.RedemptionBps)

	cfg, err = ParseTokenConfig("BNB:0x00000000000000000000000000000000000000b2:18:1000:150:selfshort")
	require.NoError(t, err)
	require.True(t, cfg.IsShortable)
	require.True(t, cfg.SelfCollateralShorts)

	r := New()
	require.NoError(t, r.Register(cfg))
	require.True(t, r.SelfCollateralShorts(cfg.Address))
	require.False(t, r.SelfCollateralShorts(btc))

	for _, bad := range []string{
		"BTC",
		"BTC:nothex:8:1:1",
		"BTC:0x00000000000000000000000000000000000000b1:300:1:1",
		"BTC:0x00000000000000000000000000000000000000b1:8:x:1",
		"BTC:0x00000000000000000000000000000000000000b1:8:1:1:levered",
		"BTC:0x00000000000000000000000000000000000000b1:8:1:20000",
	} {
		_, err := ParseTokenConfig(bad)
		require.ErrorIs(t, err, ErrInvalidConfig, bad)
	}
}
