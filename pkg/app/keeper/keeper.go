package keeper

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/app/core/position"
	"github.com/uhyunpark/hypervault/pkg/app/vault"
	"github.com/uhyunpark/hypervault/pkg/metrics"
)

const (
	JobFunding     = "funding"
	JobLiquidation = "liquidation"
)

// Keeper holds the jobs. Every vault call goes through the Serial so jobs
// queue behind API traffic instead of failing with ErrReentrantCall.
type Keeper struct {
	serial      *vault.Serial
	feeReceiver common.Address
	log         *zap.SugaredLogger
}

func New(serial *vault.Serial, feeReceiver common.Address, log *zap.SugaredLogger) *Keeper {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Keeper{serial: serial, feeReceiver: feeReceiver, log: log}
}

// Schedule adds both jobs to r. An empty spec leaves that job out.
func (k *Keeper) Schedule(r *Runner, fundingSpec, liquidationSpec string) error {
	if fundingSpec != "" {
		if _, err := r.Add(fundingSpec, func(ctx context.Context) { k.AccrueFunding(ctx) }); err != nil {
			return fmt.Errorf("funding spec %q: %w", fundingSpec, err)
		}
	}
	if liquidationSpec != "" {
		if _, err := r.Add(liquidationSpec, func(ctx context.Context) { k.SweepLiquidations(ctx) }); err != nil {
			return fmt.Errorf("liquidation spec %q: %w", liquidationSpec, err)
		}
	}
	return nil
}

func record(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.KeeperRuns.WithLabelValues(job, result).Inc()
}

// AccrueFunding updates the funding rate of every whitelisted token and
// returns how many moved.
func (k *Keeper) AccrueFunding(ctx context.Context) (moved int, err error) {
	defer func() { record(JobFunding, err) }()

	tokens := k.serial.Vault().Registry().Whitelisted()
	var errs []error
	for _, token := range tokens {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		var ok bool
		callErr := k.serial.Do(func(v *vault.Vault) error {
			var err error
			ok, err = v.UpdateFundingRate(token)
			return err
		})
		if callErr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", token.Hex(), callErr))
			continue
		}
		if ok {
			moved++
		}
	}
	err = errors.Join(errs...)
	k.log.Infow("funding_accrued", "tokens", len(tokens), "moved", moved, "err", err)
	return moved, err
}

// SweepLiquidations liquidates every open position that fails
// ValidateLiquidation and returns the number liquidated. A failure on one
// position does not stop the sweep.
func (k *Keeper) SweepLiquidations(ctx context.Context) (liquidated int, err error) {
	defer func() { record(JobLiquidation, err) }()

	var open []ledger.Position
	if err := k.serial.Do(func(v *vault.Vault) error {
		var err error
		open, err = v.OpenPositions()
		return err
	}); err != nil {
		return 0, err
	}

	var errs []error
	for i := range open {
		if err := ctx.Err(); err != nil {
			return liquidated, err
		}
		pos := &open[i]
		done, liqErr := k.liquidate(pos)
		if liqErr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pos.Key().Hex(), liqErr))
			continue
		}
		if done {
			liquidated++
		}
	}
	err = errors.Join(errs...)
	k.log.Infow("liquidation_sweep", "open", len(open), "liquidated", liquidated, "err", err)
	return liquidated, err
}

// liquidate checks and liquidates pos under one lock so the state cannot
// change between the two.
func (k *Keeper) liquidate(pos *ledger.Position) (bool, error) {
	var done bool
	err := k.serial.Do(func(v *vault.Vault) error {
		state, _, err := v.ValidateLiquidation(pos.Account, pos.CollateralToken, pos.IndexToken, pos.IsLong)
		if errors.Is(err, position.ErrEmptyPosition) {
			return nil
		}
		if err != nil || state == position.Healthy {
			return err
		}
		receiver := k.feeReceiver
		if receiver == (common.Address{}) {
			receiver = pos.Account
		}
		_, err = v.LiquidatePosition(position.LiquidateRequest{
			Account:         pos.Account,
			CollateralToken: pos.CollateralToken,
			IndexToken:      pos.IndexToken,
			IsLong:          pos.IsLong,
			FeeReceiver:     receiver,
		})
		done = err == nil
		return err
	})
	return done, err
}
