package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/hypervault/pkg/app/core/registry"
)

// Vault holds the engine parameters. Fees are in basis points.
type Vault struct {
	MintBurnFeeBps uint64
	TaxBps         uint64
	StableTaxBps   uint64
	HasDynamicFees bool

	MarginFeeBps uint64
	// LiquidationFeeUsd is in whole dollars.
	LiquidationFeeUsd uint64
	// MaxLeverage is in basis points: 500000 is 50x.
	MaxLeverage   uint64
	MinProfitTime time.Duration

	FundingInterval         time.Duration
	FundingRateFactor       uint64
	StableFundingRateFactor uint64
}

type Oracle struct {
	// MaxPriceAge of zero disables the staleness check.
	MaxPriceAge time.Duration
	SampleSpace int
	// SpreadBps per token symbol.
	SpreadBps map[string]uint64
	// SeedPrices are whole-dollar prices loaded at startup (devnet).
	SeedPrices map[string]uint64
}

type Keeper struct {
	Enabled bool
	// Cron specs, robfig/cron syntax ("@every 1h", "*/5 * * * *").
	FundingSpec     string
	LiquidationSpec string
	// FeeReceiver collects liquidation fees earned by the sweep.
	FeeReceiver common.Address
}

type Node struct {
	APIAddr     string
	DBPath      string
	JournalPath string
	LogFile     string
	LogLevel    string
	ChainID     int64
	// DevPrices exposes POST /api/v1/prices for setting feed prices by hand.
	DevPrices bool
}

type Config struct {
	Vault  Vault
	Tokens []registry.TokenConfig
	Oracle Oracle
	Keeper Keeper
	Node   Node
}

func Default() Config {
	return Config{
		Vault: Vault{
			MintBurnFeeBps:          30,
			TaxBps:                  50,
			StableTaxBps:            20,
			MarginFeeBps:            10,
			LiquidationFeeUsd:       5,
			MaxLeverage:             500000,
			MinProfitTime:           0,
			FundingInterval:         8 * time.Hour,
			FundingRateFactor:       600,
			StableFundingRateFactor: 600,
		},
		Tokens: []registry.TokenConfig{
			{
				Symbol:   "BTC",
				Address:  common.HexToAddress("0x00000000000000000000000000000000000000b1"),
				Decimals: 8, Weight: 10000, MinProfitBps: 75, RedemptionBps: 10000,
				IsShortable: true, Whitelisted: true,
			},
			{
				Symbol:   "DAI",
				Address:  common.HexToAddress("0x00000000000000000000000000000000000000d1"),
				Decimals: 18, Weight: 10000, MinProfitBps: 75, RedemptionBps: 10000,
				IsStable: true, Whitelisted: true,
			},
		},
		Oracle: Oracle{
			MaxPriceAge: 5 * time.Minute,
			SampleSpace: 1,
			SpreadBps:   map[string]uint64{},
			SeedPrices:  map[string]uint64{"BTC": 40000, "DAI": 1},
		},
		Keeper: Keeper{
			Enabled:         true,
			FundingSpec:     "@every 1h",
			LiquidationSpec: "@every 30s",
		},
		Node: Node{
			APIAddr:     ":8080",
			DBPath:      "data/ledger",
			JournalPath: "data/events.jsonl",
			LogFile:     "data/vaultd.log",
			LogLevel:    "info",
			ChainID:     1337,
			DevPrices:   true,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	v := &cfg.Vault
	setUint(&v.MintBurnFeeBps, "VAULT_MINT_BURN_FEE_BPS")
	setUint(&v.TaxBps, "VAULT_TAX_BPS")
	setUint(&v.StableTaxBps, "VAULT_STABLE_TAX_BPS")
	setBool(&v.HasDynamicFees, "VAULT_DYNAMIC_FEES")
	setUint(&v.MarginFeeBps, "VAULT_MARGIN_FEE_BPS")
	setUint(&v.LiquidationFeeUsd, "VAULT_LIQUIDATION_FEE_USD")
	setUint(&v.MaxLeverage, "VAULT_MAX_LEVERAGE")
	setSeconds(&v.MinProfitTime, "VAULT_MIN_PROFIT_SECONDS")
	setSeconds(&v.FundingInterval, "FUNDING_INTERVAL_SECONDS")
	setUint(&v.FundingRateFactor, "FUNDING_RATE_FACTOR")
	setUint(&v.StableFundingRateFactor, "STABLE_FUNDING_RATE_FACTOR")

	// Token listings, semicolon separated:
	// "BTC:0x..b1:8:10000:75:shortable;DAI:0x..d1:18:10000:75:stable"
	if tokens := os.Getenv("VAULT_TOKENS"); tokens != "" {
		cfg.Tokens = nil
		for _, listing := range strings.Split(tokens, ";") {
			if strings.TrimSpace(listing) == "" {
				continue
			}
			tc, err := registry.ParseTokenConfig(listing)
			if err != nil {
				return cfg, fmt.Errorf("VAULT_TOKENS: %w", err)
			}
			cfg.Tokens = append(cfg.Tokens, tc)
		}
	}

	setSeconds(&cfg.Oracle.MaxPriceAge, "ORACLE_MAX_AGE_SECONDS")
	if s := os.Getenv("ORACLE_SAMPLE_SPACE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			cfg.Oracle.SampleSpace = n
		}
	}
	if s := os.Getenv("ORACLE_SPREAD_BPS"); s != "" {
		m, err := parseSymbolMap(s)
		if err != nil {
			return cfg, fmt.Errorf("ORACLE_SPREAD_BPS: %w", err)
		}
		cfg.Oracle.SpreadBps = m
	}
	if s := os.Getenv("ORACLE_SEED_PRICES"); s != "" {
		m, err := parseSymbolMap(s)
		if err != nil {
			return cfg, fmt.Errorf("ORACLE_SEED_PRICES: %w", err)
		}
		cfg.Oracle.SeedPrices = m
	}

	setBool(&cfg.Keeper.Enabled, "KEEPER_ENABLED")
	setString(&cfg.Keeper.FundingSpec, "FUNDING_KEEPER_SPEC")
	setString(&cfg.Keeper.LiquidationSpec, "LIQUIDATION_KEEPER_SPEC")
	if s := os.Getenv("KEEPER_FEE_RECEIVER"); s != "" {
		if !common.IsHexAddress(s) {
			return cfg, fmt.Errorf("KEEPER_FEE_RECEIVER: bad address %q", s)
		}
		cfg.Keeper.FeeReceiver = common.HexToAddress(s)
	}

	setString(&cfg.Node.APIAddr, "API_ADDR")
	setString(&cfg.Node.DBPath, "DB_PATH")
	setString(&cfg.Node.JournalPath, "JOURNAL_PATH")
	setString(&cfg.Node.LogFile, "LOG_FILE")
	setString(&cfg.Node.LogLevel, "LOG_LEVEL")
	setBool(&cfg.Node.DevPrices, "DEV_PRICES")
	if s := os.Getenv("CHAIN_ID"); s != "" {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			cfg.Node.ChainID = id
		}
	}

	return cfg, nil
}

// parseSymbolMap parses "BTC:40000,ETH:2000".
func parseSymbolMap(s string) (map[string]uint64, error) {
	out := make(map[string]uint64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		sym, val, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("bad entry %q", pair)
		}
		n, err := strconv.ParseUint(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad value in %q: %v", pair, err)
		}
		out[strings.ToUpper(strings.TrimSpace(sym))] = n
	}
	return out, nil
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setUint(dst *uint64, key string) {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseUint(value, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value == "true"
	}
}

func setSeconds(dst *time.Duration, key string) {
	if value := os.Getenv(key); value != "" {
		if s, err := strconv.Atoi(value); err == nil {
			*dst = time.Duration(s) * time.Second
		}
	}
}
