package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/hypervault/params"
	"github.com/uhyunpark/hypervault/pkg/api"
	"github.com/uhyunpark/hypervault/pkg/app/core/action"
	"github.com/uhyunpark/hypervault/pkg/app/core/funding"
	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/app/core/oracle"
	"github.com/uhyunpark/hypervault/pkg/app/core/position"
	"github.com/uhyunpark/hypervault/pkg/app/core/registry"
	"github.com/uhyunpark/hypervault/pkg/app/core/stable"
	"github.com/uhyunpark/hypervault/pkg/app/keeper"
	"github.com/uhyunpark/hypervault/pkg/app/vault"
	"github.com/uhyunpark/hypervault/pkg/crypto"
	"github.com/uhyunpark/hypervault/pkg/fixed"
	"github.com/uhyunpark/hypervault/pkg/storage"
	"github.com/uhyunpark/hypervault/pkg/util"
)

func serveCommand() *cobra.Command {
	var (
		envFile string
		mem     bool
	)
	c := &cobra.Command{
		Use:   "serve",
		Short: "Runs the vault with its API and keepers",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := params.LoadFromEnv(envFile)
			if err != nil {
				return err
			}
			return serve(cfg, mem)
		},
	}
	c.Flags().StringVar(&envFile, "env", "", "path to a .env file (default ./.env)")
	c.Flags().BoolVar(&mem, "mem", false, "keep the ledger in memory instead of pebble")
	return c
}

func vaultConfig(p params.Vault) vault.Config {
	return vault.Config{
		Stable: stable.Params{
			MintBurnFeeBps: p.MintBurnFeeBps,
			TaxBps:         p.TaxBps,
			StableTaxBps:   p.StableTaxBps,
			HasDynamicFees: p.HasDynamicFees,
		},
		Position: position.Params{
			MarginFeeBps:      p.MarginFeeBps,
			LiquidationFeeUsd: *fixed.USD(p.LiquidationFeeUsd),
			MaxLeverage:       p.MaxLeverage,
			MinProfitTime:     uint64(p.MinProfitTime.Seconds()),
		},
		Funding: funding.Params{
			IntervalSeconds:  uint64(p.FundingInterval.Seconds()),
			RateFactor:       p.FundingRateFactor,
			StableRateFactor: p.StableFundingRateFactor,
		},
	}
}

// newFeed applies the configured spreads and seed prices by symbol.
func newFeed(cfg params.Oracle, reg *registry.Registry) (*oracle.Feed, error) {
	feed := oracle.NewFeed(util.RealClock{}, cfg.MaxPriceAge, cfg.SampleSpace)
	for sym, bps := range cfg.SpreadBps {
		tc, ok := reg.BySymbol(sym)
		if !ok {
			return nil, fmt.Errorf("oracle spread: unknown token %s", sym)
		}
		if err := feed.SetSpread(tc.Address, bps); err != nil {
			return nil, fmt.Errorf("oracle spread %s: %w", sym, err)
		}
	}
	for sym, dollars := range cfg.SeedPrices {
		tc, ok := reg.BySymbol(sym)
		if !ok {
			return nil, fmt.Errorf("oracle seed: unknown token %s", sym)
		}
		if err := feed.SetPrice(tc.Address, fixed.USD(dollars)); err != nil {
			return nil, fmt.Errorf("oracle seed %s: %w", sym, err)
		}
	}
	return feed, nil
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// openLedger returns the pebble store at dbPath, or a MemStore when mem is set.
func openLedger(dbPath string, mem bool) (ledger.Store, error) {
	if mem {
		return ledger.NewMemStore(), nil
	}
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, err
	}
	store, err := storage.NewPebbleStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return store, nil
}

func serve(cfg params.Config, mem bool) error {
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	reg := registry.New()
	for _, tc := range cfg.Tokens {
		if err := reg.Register(tc); err != nil {
			return fmt.Errorf("token %s: %w", tc.Symbol, err)
		}
	}
	feed, err := newFeed(cfg.Oracle, reg)
	if err != nil {
		return err
	}

	store, err := openLedger(cfg.Node.DBPath, mem)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := ensureDir(cfg.Node.JournalPath); err != nil {
		return err
	}
	journal, err := storage.NewFileJournal(cfg.Node.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	v, err := vault.New(vaultConfig(cfg.Vault), store, reg, feed, util.RealClock{}, sugar.Named("vault"))
	if err != nil {
		return err
	}
	serial := vault.NewSerial(v)

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Node.ChainID)
	exec := action.NewExecutor(action.NewVerifier(domain, util.RealClock{}), serial, sugar.Named("action"))

	opts := api.Options{
		Serial:   serial,
		Executor: exec,
		Events:   journal,
		Logger:   sugar.Named("api"),
	}
	if cfg.Node.DevPrices {
		opts.Feed = feed
		sugar.Warn("dev_prices_enabled - POST /api/v1/prices sets oracle prices")
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		opts.AllowedOrigins = strings.Split(origins, ",")
	}
	apiServer := api.NewServer(opts)

	v.Subscribe(func(ev vault.Event) {
		if err := journal.Append(ev); err != nil {
			sugar.Errorw("journal_append_failed", "type", ev.Type, "err", err)
		}
		apiServer.Publish(ev)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Keeper.Enabled {
		runner := keeper.NewRunner(sugar.Named("keeper"), ctx)
		k := keeper.New(serial, cfg.Keeper.FeeReceiver, sugar.Named("keeper"))
		if err := k.Schedule(runner, cfg.Keeper.FundingSpec, cfg.Keeper.LiquidationSpec); err != nil {
			return err
		}
		runner.Start()
		defer runner.Stop()
	} else {
		sugar.Info("keepers_disabled")
	}

	sugar.Infow("node_starting",
		"tokens", len(cfg.Tokens),
		"chain_id", cfg.Node.ChainID,
		"db", cfg.Node.DBPath,
		"mem", mem,
		"api", cfg.Node.APIAddr)

	if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
		sugar.Errorw("api_server_failed", "err", err)
		return err
	}
	sugar.Info("node_stopped")
	return nil
}
