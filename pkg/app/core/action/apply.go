package action

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypervault/pkg/app/core/position"
	"github.com/uhyunpark/hypervault/pkg/app/core/stable"
	"github.com/uhyunpark/hypervault/pkg/app/vault"
	"github.com/uhyunpark/hypervault/pkg/crypto"
)

// Receipt holds the result of one applied action; exactly one of the result
// fields is set, none for a deposit.
type Receipt struct {
	Kind    crypto.ActionKind
	Account common.Address
	// Token is the collateral token the action moved.
	Token     common.Address
	Nonce     uint64
	Mint      *stable.MintResult
	Redeem    *stable.RedeemResult
	Increase  *position.IncreaseResult
	Decrease  *position.DecreaseResult
	Liquidate *position.LiquidateResult
}

func toUint256(field string, v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	z, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: %s overflows 256 bits", ErrMalformedAction, field)
	}
	return z, nil
}

// Apply runs a verified action against v.
func Apply(v *vault.Vault, a *crypto.VaultAction) (*Receipt, error) {
	amount, err := toUint256("amount", a.Amount)
	if err != nil {
		return nil, err
	}
	sizeDelta, err := toUint256("size_delta", a.SizeDelta)
	if err != nil {
		return nil, err
	}
	receiver := a.Receiver
	if receiver == (common.Address{}) {
		receiver = a.Account
	}

	r := &Receipt{Kind: a.Kind, Account: a.Account, Token: a.CollateralToken, Nonce: a.Nonce.Uint64()}
	switch a.Kind {
	case crypto.ActionMint:
		r.Mint, err = v.Mint(stable.MintRequest{Token: a.CollateralToken, Amount: amount, Receiver: receiver})
	case crypto.ActionRedeem:
		r.Redeem, err = v.Redeem(stable.RedeemRequest{Account: a.Account, Token: a.CollateralToken, StableUnits: amount, Receiver: receiver})
	case crypto.ActionDeposit:
		err = v.DirectPoolDeposit(a.CollateralToken, amount)
	case crypto.ActionIncrease:
		r.Increase, err = v.IncreasePosition(position.IncreaseRequest{
			Account:          a.Account,
			CollateralToken:  a.CollateralToken,
			IndexToken:       a.IndexToken,
			CollateralAmount: amount,
			SizeDelta:        sizeDelta,
			IsLong:           a.IsLong,
		})
	case crypto.ActionDecrease:
		r.Decrease, err = v.DecreasePosition(position.DecreaseRequest{
			Account:         a.Account,
			CollateralToken: a.CollateralToken,
			IndexToken:      a.IndexToken,
			CollateralDelta: amount,
			SizeDelta:       sizeDelta,
			IsLong:          a.IsLong,
			Receiver:        receiver,
		})
	case crypto.ActionLiquidate:
		r.Liquidate, err = v.LiquidatePosition(position.LiquidateRequest{
			Account:         a.Receiver,
			CollateralToken: a.CollateralToken,
			IndexToken:      a.IndexToken,
			IsLong:          a.IsLong,
			FeeReceiver:     a.Account,
		})
	default:
		return nil, fmt.Errorf("%w: unsupported kind %s", ErrMalformedAction, a.Kind)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Executor verifies and applies signed actions one at a time.
type Executor struct {
	verifier *Verifier
	serial   *vault.Serial
	log      *zap.SugaredLogger
}

func NewExecutor(verifier *Verifier, serial *vault.Serial, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{verifier: verifier, serial: serial, log: log}
}

func (x *Executor) Verifier() *Verifier { return x.verifier }

// Submit verifies sa and applies it. Nonces are checked under the same lock
// that orders vault calls, so accepted actions apply in nonce order.
func (x *Executor) Submit(sa *SignedAction) (*Receipt, error) {
	var r *Receipt
	err := x.serial.Do(func(v *vault.Vault) error {
		a, err := x.verifier.Verify(sa)
		if err != nil {
			x.log.Warnw("action_rejected", "kind", sa.Action.Kind, "account", sa.Action.Account, "err", err)
			return err
		}
		r, err = Apply(v, a)
		return err
	})
	if err != nil {
		return nil, err
	}
	x.log.Infow("action_applied", "kind", r.Kind.String(), "account", r.Account.Hex(), "nonce", r.Nonce)
	return r, nil
}
