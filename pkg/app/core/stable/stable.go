// Package stable mints and redeems the vault's stable unit against
// whitelisted tokens at oracle prices, with fees that lean on the token's
// distance from its target weight.
package stable

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hypervault/pkg/app/core/funding"
	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/app/core/oracle"
	"github.com/uhyunpark/hypervault/pkg/app/core/registry"
	"github.com/uhyunpark/hypervault/pkg/fixed"
)

var (
	ErrInvalidAmount                    = errors.New("vault: invalid amount")
	ErrInsufficientRedemptionCollateral = errors.New("vault: insufficient redemption collateral")
	ErrInvalidRedemptionAmount          = errors.New("vault: invalid redemption amount")
	ErrTokenNotRedeemable               = errors.New("vault: token not redeemable")
)

type Params struct {
	MintBurnFeeBps uint64
	TaxBps         uint64
	StableTaxBps   uint64
	HasDynamicFees bool
}

type Engine struct {
	params  Params
	reg     registry.Reader
	pricer  *oracle.Pricer
	funding *funding.Engine
}

func New(params Params, reg registry.Reader, pricer *oracle.Pricer, fe *funding.Engine) *Engine {
	return &Engine{params: params, reg: reg, pricer: pricer, funding: fe}
}

func (e *Engine) Params() Params { return e.params }

type MintRequest struct {
	Token    common.Address
	Amount   *uint256.Int
	Receiver common.Address
}

type MintResult struct {
	Minted    *uint256.Int
	FeeBps    uint64
	FeeTokens *uint256.Int
	Price     *uint256.Int
}

type RedeemRequest struct {
	Account     common.Address
	Token       common.Address
	StableUnits *uint256.Int
	Receiver    common.Address
}

type RedeemResult struct {
	AmountOut *uint256.Int
	FeeBps    uint64
	FeeTokens *uint256.Int
	Price     *uint256.Int
}

// Mint deposits req.Amount of a whitelisted token and credits the receiver
// with its value in stable units, less the mint fee.
func (e *Engine) Mint(tx *ledger.Tx, req MintRequest, now uint64) (*MintResult, error) {
	if !e.reg.IsWhitelisted(req.Token) {
		return nil, fmt.Errorf("%w: %s", registry.ErrTokenNotWhitelisted, req.Token.Hex())
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	if _, err := e.funding.Update(tx, req.Token, now); err != nil {
		return nil, err
	}

	price, err := e.pricer.MinPrice(req.Token)
	if err != nil {
		return nil, err
	}
	decimals := e.reg.Decimals(req.Token)
	usdAmount := e.toStableUnits(req.Amount, price, decimals)
	if usdAmount.IsZero() {
		return nil, ErrInvalidAmount
	}

	feeBps, err := e.FeeBasisPoints(tx, req.Token, usdAmount, true)
	if err != nil {
		return nil, err
	}
	afterFee := fixed.ApplyBps(req.Amount, feeBps)
	feeTokens := fixed.Sub(req.Amount, afterFee)
	if err := tx.IncreaseFeeReserve(req.Token, feeTokens); err != nil {
		return nil, err
	}

	minted := e.toStableUnits(afterFee, price, decimals)
	if err := tx.IncreaseStableLiability(req.Token, minted); err != nil {
		return nil, err
	}
	if err := tx.IncreasePoolAmount(req.Token, afterFee); err != nil {
		return nil, err
	}
	if err := tx.TransferIn(req.Token, req.Amount); err != nil {
		return nil, err
	}
	if err := tx.MintStable(req.Receiver, minted); err != nil {
		return nil, err
	}
	return &MintResult{Minted: minted, FeeBps: feeBps, FeeTokens: feeTokens, Price: price}, nil
}

// Redeem burns stable units from req.Account and pays the receiver the
// token amount they are worth at the max price, less the burn fee.
func (e *Engine) Redeem(tx *ledger.Tx, req RedeemRequest, now uint64) (*RedeemResult, error) {
	if !e.reg.IsWhitelisted(req.Token) {
		return nil, fmt.Errorf("%w: %s", registry.ErrTokenNotWhitelisted, req.Token.Hex())
	}
	units := req.StableUnits
	if units == nil || units.IsZero() {
		return nil, ErrInvalidAmount
	}
	bal, err := tx.StableBalance(req.Account)
	if err != nil {
		return nil, err
	}
	if bal.Cmp(units) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ledger.ErrInsufficientStableBalance, bal.Dec(), units.Dec())
	}
	redemptionBps := e.reg.RedemptionBps(req.Token)
	if redemptionBps == 0 {
		return nil, ErrTokenNotRedeemable
	}
	if _, err := e.funding.Update(tx, req.Token, now); err != nil {
		return nil, err
	}

	collateral, err := e.RedemptionCollateralUsd(tx, req.Token)
	if err != nil {
		return nil, err
	}
	requestedUsd := fixed.AdjustDecimals(units, fixed.StableDecimals, fixed.PriceDecimals)
	if fixed.Bps(collateral, redemptionBps).Cmp(requestedUsd) < 0 {
		return nil, fmt.Errorf("%w: available %s, requested %s", ErrInsufficientRedemptionCollateral, fixed.FormatUSD(fixed.Bps(collateral, redemptionBps)), fixed.FormatUSD(requestedUsd))
	}

	price, err := e.pricer.MaxPrice(req.Token)
	if err != nil {
		return nil, err
	}
	redemptionAmount := fixed.AdjustDecimals(
		fixed.MulDiv(units, fixed.PricePrecision, price),
		fixed.StableDecimals, e.reg.Decimals(req.Token),
	)
	if redemptionAmount.IsZero() {
		return nil, ErrInvalidRedemptionAmount
	}

	if err := tx.DecreaseStableLiability(req.Token, units); err != nil {
		return nil, err
	}
	if err := tx.DecreasePoolAmount(req.Token, redemptionAmount); err != nil {
		return nil, err
	}

	feeBps, err := e.FeeBasisPoints(tx, req.Token, units, false)
	if err != nil {
		return nil, err
	}
	amountOut := fixed.ApplyBps(redemptionAmount, feeBps)
	feeTokens := fixed.Sub(redemptionAmount, amountOut)
	if err := tx.IncreaseFeeReserve(req.Token, feeTokens); err != nil {
		return nil, err
	}
	if amountOut.IsZero() {
		return nil, ErrInvalidRedemptionAmount
	}
	if err := tx.BurnStable(req.Account, units); err != nil {
		return nil, err
	}
	if err := tx.TransferOut(req.Token, amountOut); err != nil {
		return nil, err
	}
	return &RedeemResult{AmountOut: amountOut, FeeBps: feeBps, FeeTokens: feeTokens, Price: price}, nil
}

// DirectPoolDeposit adds liquidity to a pool without minting anything in
// return.
func (e *Engine) DirectPoolDeposit(tx *ledger.Tx, token common.Address, amount *uint256.Int) error {
	if !e.reg.IsWhitelisted(token) {
		return fmt.Errorf("%w: %s", registry.ErrTokenNotWhitelisted, token.Hex())
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	if err := tx.TransferIn(token, amount); err != nil {
		return err
	}
	return tx.IncreasePoolAmount(token, amount)
}

// RedemptionCollateralUsd is what the pool can pay out against stable units
// for token: the USD owed back by pooled positions converted to tokens, plus
// the unreserved pool tokens, priced once at the min price. Stable tokens
// count their whole pool.
func (e *Engine) RedemptionCollateralUsd(tx *ledger.Tx, token common.Address) (*uint256.Int, error) {
	pool, err := tx.Pool(token)
	if err != nil {
		return nil, err
	}
	if e.reg.IsStable(token) {
		return e.pricer.TokenToUsdMin(token, &pool.PoolAmount)
	}
	guaranteed, err := e.pricer.UsdToTokenMin(token, &pool.GuaranteedUsd)
	if err != nil {
		return nil, err
	}
	return e.pricer.TokenToUsdMin(token, fixed.Add(pool.Available(), guaranteed))
}

// TargetStableAmount is token's weighted share of the stable-unit supply.
func (e *Engine) TargetStableAmount(tx *ledger.Tx, token common.Address) (*uint256.Int, error) {
	supply, err := tx.StableSupply()
	if err != nil {
		return nil, err
	}
	total := e.reg.TotalWeights()
	if supply.IsZero() || total == 0 {
		return fixed.Zero(), nil
	}
	return fixed.MulDiv(&supply, fixed.U64(e.reg.TargetWeight(token)), fixed.U64(total)), nil
}

// FeeBasisPoints prices a change of usdDelta stable units in token's
// liability. Moves toward the target weight earn a rebate off the base fee;
// moves away pay up to the tax on top, scaled by how far off target the
// token ends up.
func (e *Engine) FeeBasisPoints(tx *ledger.Tx, token common.Address, usdDelta *uint256.Int, increment bool) (uint64, error) {
	base := e.params.MintBurnFeeBps
	if !e.params.HasDynamicFees {
		return base, nil
	}
	tax := e.params.TaxBps
	if e.reg.IsStable(token) {
		tax = e.params.StableTaxBps
	}

	pool, err := tx.Pool(token)
	if err != nil {
		return 0, err
	}
	initial := &pool.StableLiability
	var next *uint256.Int
	if increment {
		next = fixed.Add(initial, usdDelta)
	} else {
		next = fixed.SubFloor(initial, usdDelta)
	}

	target, err := e.TargetStableAmount(tx, token)
	if err != nil {
		return 0, err
	}
	if target.IsZero() {
		return base, nil
	}

	initialDiff := fixed.AbsDiff(initial, target)
	nextDiff := fixed.AbsDiff(next, target)

	if nextDiff.Cmp(initialDiff) < 0 {
		rebate := fixed.MulDiv(fixed.U64(tax), initialDiff, target)
		if rebate.Cmp(fixed.U64(base)) > 0 {
			return 0, nil
		}
		return base - rebate.Uint64(), nil
	}

	averageDiff := fixed.Add(initialDiff, nextDiff)
	averageDiff.Rsh(averageDiff, 1)
	averageDiff = fixed.Min(averageDiff, target)
	extra := fixed.MulDiv(fixed.U64(tax), averageDiff, target)
	return base + extra.Uint64(), nil
}

// toStableUnits values amount token units at price in 18-decimal stable units.
func (e *Engine) toStableUnits(amount, price *uint256.Int, decimals uint8) *uint256.Int {
	usd := fixed.MulDiv(amount, price, fixed.PricePrecision)
	return fixed.AdjustDecimals(usd, decimals, fixed.StableDecimals)
}
