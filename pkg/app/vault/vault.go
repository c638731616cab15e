// Package vault composes the ledger and engines into the public operations.
// Every mutating call runs in its own ledger.Tx and either commits all of its
// rows or none of them.
package vault

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypervault/pkg/app/core/funding"
	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/app/core/oracle"
	"github.com/uhyunpark/hypervault/pkg/app/core/position"
	"github.com/uhyunpark/hypervault/pkg/app/core/registry"
	"github.com/uhyunpark/hypervault/pkg/app/core/stable"
	"github.com/uhyunpark/hypervault/pkg/fixed"
	"github.com/uhyunpark/hypervault/pkg/metrics"
	"github.com/uhyunpark/hypervault/pkg/util"
)

// Config holds the engine parameters.
type Config struct {
	Stable   stable.Params
	Position position.Params
	Funding  funding.Params
}

type Vault struct {
	log    *zap.SugaredLogger
	store  ledger.Store
	reg    *registry.Registry
	pricer *oracle.Pricer
	clock  util.Clock

	funding   *funding.Engine
	stable    *stable.Engine
	positions *position.Engine

	busy atomic.Bool

	listenersMu sync.RWMutex
	listeners   []Listener
}

func New(cfg Config, store ledger.Store, reg *registry.Registry, src oracle.Source, clock util.Clock, log *zap.SugaredLogger) (*Vault, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	fe, err := funding.New(cfg.Funding, reg)
	if err != nil {
		return nil, err
	}
	pricer := oracle.NewPricer(src, reg)
	return &Vault{
		log:       log,
		store:     store,
		reg:       reg,
		pricer:    pricer,
		clock:     clock,
		funding:   fe,
		stable:    stable.New(cfg.Stable, reg, pricer, fe),
		positions: position.New(cfg.Position, reg, pricer, fe),
	}, nil
}

func (v *Vault) Registry() *registry.Registry { return v.reg }
func (v *Vault) Pricer() *oracle.Pricer       { return v.pricer }
func (v *Vault) Store() ledger.Store          { return v.store }
func (v *Vault) Now() uint64                  { return util.Unix(v.clock) }

// Subscribe registers l for every committed event.
func (v *Vault) Subscribe(l Listener) {
	v.listenersMu.Lock()
	v.listeners = append(v.listeners, l)
	v.listenersMu.Unlock()
}

type opFunc func(tx *ledger.Tx, now uint64) ([]Event, error)

// execute runs fn against a fresh Tx and commits the result. A second call
// while one is in flight fails with ErrReentrantCall.
func (v *Vault) execute(op string, fn opFunc) (err error) {
	if !v.busy.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer v.busy.Store(false)

	start := time.Now()
	defer func() {
		kind := Classify(err)
		metrics.ObserveOperation(op, kind.String(), time.Since(start))
		if err != nil {
			v.log.Warnw("operation_failed", "op", op, "kind", kind.String(), "err", err)
		}
	}()

	tx := ledger.NewTx(v.store)
	events, err := guarded(tx, util.Unix(v.clock), fn)
	if err != nil {
		return err
	}
	cs := tx.Changes()
	if err := ledger.CheckStaged(cs); err != nil {
		return err
	}
	if err := v.store.Commit(cs); err != nil {
		return err
	}
	v.observe(cs)
	v.emit(events)
	return nil
}

// guarded turns fixed-point overflow panics into ErrArithmetic.
func guarded(tx *ledger.Tx, now uint64, fn opFunc) (events []Event, err error) {
	defer recoverArithmetic(&err)
	return fn(tx, now)
}

// recoverArithmetic turns a fixed.OverflowError panic into ErrArithmetic.
// Other panics propagate.
func recoverArithmetic(err *error) {
	if r := recover(); r != nil {
		oe, ok := r.(fixed.OverflowError)
		if !ok {
			panic(r)
		}
		*err = fmt.Errorf("%w: %s", ErrArithmetic, oe.Op)
	}
}

func (v *Vault) emit(events []Event) {
	v.listenersMu.RLock()
	defer v.listenersMu.RUnlock()
	for _, ev := range events {
		for _, l := range v.listeners {
			l(ev)
		}
	}
}

// observe pushes the committed rows into the gauges.
func (v *Vault) observe(cs *ledger.ChangeSet) {
	for token, p := range cs.Pools {
		label, dec := v.label(token), v.reg.Decimals(token)
		metrics.PoolAmount.WithLabelValues(label).Set(fixed.ToDecimal(&p.PoolAmount, dec).InexactFloat64())
		metrics.ReservedAmount.WithLabelValues(label).Set(fixed.ToDecimal(&p.ReservedAmount, dec).InexactFloat64())
		metrics.FeeReserve.WithLabelValues(label).Set(fixed.ToDecimal(&p.FeeReserve, dec).InexactFloat64())
		metrics.GuaranteedUsd.WithLabelValues(label).Set(fixed.ToDecimal(&p.GuaranteedUsd, fixed.PriceDecimals).InexactFloat64())
	}
	for token, f := range cs.Funding {
		metrics.CumulativeFundingRate.WithLabelValues(v.label(token)).Set(fixed.ToDecimal(&f.CumulativeRate, 0).InexactFloat64())
	}
	if cs.Supply != nil {
		metrics.StableSupply.Set(fixed.ToDecimal(cs.Supply, fixed.StableDecimals).InexactFloat64())
	}
}

func (v *Vault) label(token common.Address) string {
	if cfg, ok := v.reg.Get(token); ok && cfg.Symbol != "" {
		return cfg.Symbol
	}
	return token.Hex()
}

func (v *Vault) units(token common.Address, amount *uint256.Int) string {
	return fixed.FormatUnits(amount, v.reg.Decimals(token))
}

func (v *Vault) at(now uint64) time.Time { return time.Unix(int64(now), 0).UTC() }

// Mint deposits tokens and credits the receiver with stable units.
func (v *Vault) Mint(req stable.MintRequest) (*stable.MintResult, error) {
	var res *stable.MintResult
	err := v.execute("mint", func(tx *ledger.Tx, now uint64) ([]Event, error) {
		var err error
		if res, err = v.stable.Mint(tx, req, now); err != nil {
			return nil, err
		}
		ev := newEvent(EventMint, v.at(now), req.Token).withAccount(req.Receiver)
		ev.Data["amount"] = v.units(req.Token, req.Amount)
		ev.Data["minted"] = fixed.FormatUnits(res.Minted, fixed.StableDecimals)
		ev.Data["fee"] = v.units(req.Token, res.FeeTokens)
		ev.Data["fee_bps"] = fmt.Sprint(res.FeeBps)
		ev.Data["price"] = fixed.FormatUSD(res.Price)
		return []Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	v.log.Infow("stable_minted", "token", v.label(req.Token), "receiver", req.Receiver.Hex(), "minted", res.Minted.Dec())
	return res, nil
}

// Redeem burns stable units for tokens.
func (v *Vault) Redeem(req stable.RedeemRequest) (*stable.RedeemResult, error) {
	var res *stable.RedeemResult
	err := v.execute("redeem", func(tx *ledger.Tx, now uint64) ([]Event, error) {
		var err error
		if res, err = v.stable.Redeem(tx, req, now); err != nil {
			return nil, err
		}
		ev := newEvent(EventRedeem, v.at(now), req.Token).withAccount(req.Account)
		ev.Data["stable_units"] = fixed.FormatUnits(req.StableUnits, fixed.StableDecimals)
		ev.Data["amount_out"] = v.units(req.Token, res.AmountOut)
		ev.Data["fee"] = v.units(req.Token, res.FeeTokens)
		ev.Data["fee_bps"] = fmt.Sprint(res.FeeBps)
		ev.Data["receiver"] = req.Receiver.Hex()
		return []Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	v.log.Infow("stable_redeemed", "token", v.label(req.Token), "account", req.Account.Hex(), "amount_out", res.AmountOut.Dec())
	return res, nil
}

// DirectPoolDeposit adds liquidity without minting.
func (v *Vault) DirectPoolDeposit(token common.Address, amount *uint256.Int) error {
	return v.execute("direct_pool_deposit", func(tx *ledger.Tx, now uint64) ([]Event, error) {
		if err := v.stable.DirectPoolDeposit(tx, token, amount); err != nil {
			return nil, err
		}
		ev := newEvent(EventPoolDeposit, v.at(now), token)
		ev.Data["amount"] = v.units(token, amount)
		return []Event{ev}, nil
	})
}

func (v *Vault) IncreasePosition(req position.IncreaseRequest) (*position.IncreaseResult, error) {
	var res *position.IncreaseResult
	err := v.execute("increase_position", func(tx *ledger.Tx, now uint64) ([]Event, error) {
		var err error
		if res, err = v.positions.Increase(tx, req, now); err != nil {
			return nil, err
		}
		pos := &res.Position
		ev := newEvent(EventIncreasePosition, v.at(now), req.CollateralToken).withAccount(req.Account).withKey(pos.Key())
		ev.Data["index_token"] = req.IndexToken.Hex()
		ev.Data["is_long"] = fmt.Sprint(req.IsLong)
		ev.Data["collateral_delta"] = fixed.FormatUSD(res.CollateralDeltaUsd)
		ev.Data["size_delta"] = fixed.FormatUSD(orZero(req.SizeDelta))
		ev.Data["price"] = fixed.FormatUSD(res.Price)
		ev.Data["fee"] = fixed.FormatUSD(res.Fee)
		ev.Data["size"] = fixed.FormatUSD(&pos.Size)
		ev.Data["collateral"] = fixed.FormatUSD(&pos.Collateral)
		ev.Data["average_price"] = fixed.FormatUSD(&pos.AveragePrice)
		return []Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	v.log.Infow("position_increased",
		"key", res.Position.Key().Hex(),
		"account", req.Account.Hex(),
		"is_long", req.IsLong,
		"size", res.Position.Size.Dec(),
		"collateral", res.Position.Collateral.Dec())
	return res, nil
}

func (v *Vault) DecreasePosition(req position.DecreaseRequest) (*position.DecreaseResult, error) {
	var res *position.DecreaseResult
	err := v.execute("decrease_position", func(tx *ledger.Tx, now uint64) ([]Event, error) {
		var err error
		if res, err = v.positions.Decrease(tx, req, now); err != nil {
			return nil, err
		}
		typ := EventDecreasePosition
		if res.Closed {
			typ = EventClosePosition
		}
		ev := newEvent(typ, v.at(now), req.CollateralToken).withAccount(req.Account).withKey(res.Position.Key())
		ev.Data["index_token"] = req.IndexToken.Hex()
		ev.Data["is_long"] = fmt.Sprint(req.IsLong)
		ev.Data["receiver"] = req.Receiver.Hex()
		ev.Data["collateral_delta"] = fixed.FormatUSD(orZero(req.CollateralDelta))
		ev.Data["size_delta"] = fixed.FormatUSD(orZero(req.SizeDelta))
		ev.Data["price"] = fixed.FormatUSD(res.Price)
		ev.Data["fee"] = fixed.FormatUSD(res.Fee)
		ev.Data["has_profit"] = fmt.Sprint(res.HasProfit)
		ev.Data["realised_delta"] = fixed.FormatUSD(res.RealisedDelta)
		ev.Data["amount_out"] = v.units(req.CollateralToken, res.AmountOut)
		return []Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	v.log.Infow("position_decreased",
		"key", res.Position.Key().Hex(),
		"closed", res.Closed,
		"amount_out", res.AmountOut.Dec())
	return res, nil
}

// LiquidatePosition closes an unhealthy position and pays the liquidation
// fee to feeReceiver.
func (v *Vault) LiquidatePosition(req position.LiquidateRequest) (*position.LiquidateResult, error) {
	var res *position.LiquidateResult
	err := v.execute("liquidate_position", func(tx *ledger.Tx, now uint64) ([]Event, error) {
		var err error
		if res, err = v.positions.Liquidate(tx, req, now); err != nil {
			return nil, err
		}
		pos := &res.Position
		ev := newEvent(EventLiquidatePosition, v.at(now), req.CollateralToken).withAccount(req.Account).withKey(pos.Key())
		ev.Data["index_token"] = req.IndexToken.Hex()
		ev.Data["is_long"] = fmt.Sprint(req.IsLong)
		ev.Data["state"] = res.State.String()
		ev.Data["size"] = fixed.FormatUSD(&pos.Size)
		ev.Data["collateral"] = fixed.FormatUSD(&pos.Collateral)
		ev.Data["margin_fees"] = fixed.FormatUSD(res.MarginFees)
		ev.Data["fee_receiver"] = req.FeeReceiver.Hex()
		ev.Data["liquidation_fee"] = v.units(req.CollateralToken, res.LiquidationFeeTokens)
		return []Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.Liquidations.WithLabelValues(res.State.String()).Inc()
	v.log.Infow("position_liquidated",
		"key", res.Position.Key().Hex(),
		"state", res.State.String(),
		"fee_receiver", req.FeeReceiver.Hex())
	return res, nil
}

// UpdateFundingRate accrues funding for token without any other change and
// reports whether the rate moved.
func (v *Vault) UpdateFundingRate(token common.Address) (bool, error) {
	var moved bool
	err := v.execute("update_funding_rate", func(tx *ledger.Tx, now uint64) ([]Event, error) {
		if !v.reg.IsWhitelisted(token) {
			return nil, fmt.Errorf("%w: %s", registry.ErrTokenNotWhitelisted, token.Hex())
		}
		var err error
		if moved, err = v.funding.Update(tx, token, now); err != nil || !moved {
			return nil, err
		}
		st, err := tx.Funding(token)
		if err != nil {
			return nil, err
		}
		ev := newEvent(EventFundingUpdate, v.at(now), token)
		ev.Data["cumulative_rate"] = st.CumulativeRate.Dec()
		return []Event{ev}, nil
	})
	return moved, err
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return fixed.Zero()
	}
	return x
}
