// Package action carries signed vault requests from clients to the vault:
// the JSON wire form, signature and nonce checks, and dispatch.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypervault/pkg/crypto"
)

var (
	ErrMalformedAction  = errors.New("action: malformed")
	ErrInvalidSignature = errors.New("action: invalid signature")
	ErrStaleNonce       = errors.New("action: nonce already used")
	ErrExpired          = errors.New("action: deadline passed")
)

// SignedAction is the wire form accepted by the API.
type SignedAction struct {
	Action    Payload `json:"action"`
	Signature string  `json:"signature"` // 0x-prefixed, 65 bytes
}

// Payload mirrors crypto.VaultAction with integers as decimal strings.
type Payload struct {
	Kind            string `json:"kind"`             // "mint", "redeem", ...
	Account         string `json:"account"`          // signer address
	CollateralToken string `json:"collateral_token"` // token for mint/redeem/deposit
	IndexToken      string `json:"index_token,omitempty"`
	Amount          string `json:"amount,omitempty"`     // raw integer units
	SizeDelta       string `json:"size_delta,omitempty"` // USD at 1e30
	IsLong          bool   `json:"is_long,omitempty"`
	Receiver        string `json:"receiver,omitempty"` // position owner for liquidate
	Nonce           string `json:"nonce"`
	Deadline        string `json:"deadline,omitempty"` // unix seconds, 0 = no expiry
}

func parseBig(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid %s: %q", ErrMalformedAction, field, s)
	}
	return v, nil
}

func parseAddress(field, s string, required bool) (common.Address, error) {
	if s == "" {
		if required {
			return common.Address{}, fmt.Errorf("%w: missing %s", ErrMalformedAction, field)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid %s: %q", ErrMalformedAction, field, s)
	}
	return common.HexToAddress(s), nil
}

// ToTyped validates p and converts it to the structure that is signed.
func (p *Payload) ToTyped() (*crypto.VaultAction, error) {
	kind, err := crypto.ParseActionKind(p.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	needsIndex := kind == crypto.ActionIncrease || kind == crypto.ActionDecrease || kind == crypto.ActionLiquidate

	a := &crypto.VaultAction{Kind: kind, IsLong: p.IsLong}
	if a.Account, err = parseAddress("account", p.Account, true); err != nil {
		return nil, err
	}
	if a.CollateralToken, err = parseAddress("collateral_token", p.CollateralToken, true); err != nil {
		return nil, err
	}
	if a.IndexToken, err = parseAddress("index_token", p.IndexToken, needsIndex); err != nil {
		return nil, err
	}
	if a.Receiver, err = parseAddress("receiver", p.Receiver, kind == crypto.ActionLiquidate); err != nil {
		return nil, err
	}
	if a.Amount, err = parseBig("amount", p.Amount); err != nil {
		return nil, err
	}
	if a.SizeDelta, err = parseBig("size_delta", p.SizeDelta); err != nil {
		return nil, err
	}
	if p.Nonce == "" {
		return nil, fmt.Errorf("%w: missing nonce", ErrMalformedAction)
	}
	if a.Nonce, err = parseBig("nonce", p.Nonce); err != nil {
		return nil, err
	}
	if !a.Nonce.IsUint64() {
		return nil, fmt.Errorf("%w: nonce out of range", ErrMalformedAction)
	}
	if a.Deadline, err = parseBig("deadline", p.Deadline); err != nil {
		return nil, err
	}
	return a, nil
}

// FromTyped is the inverse of ToTyped.
func FromTyped(a *crypto.VaultAction) Payload {
	p := Payload{
		Kind:            a.Kind.String(),
		Account:         a.Account.Hex(),
		CollateralToken: a.CollateralToken.Hex(),
		IsLong:          a.IsLong,
		Nonce:           bigString(a.Nonce),
		Deadline:        bigString(a.Deadline),
		Amount:          bigString(a.Amount),
		SizeDelta:       bigString(a.SizeDelta),
	}
	if a.IndexToken != (common.Address{}) {
		p.IndexToken = a.IndexToken.Hex()
	}
	if a.Receiver != (common.Address{}) {
		p.Receiver = a.Receiver.Hex()
	}
	return p
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Sign builds the wire form of a signed by signer.
func Sign(es *crypto.EIP712Signer, signer *crypto.Signer, a *crypto.VaultAction) (*SignedAction, error) {
	sig, err := es.SignAction(signer, a)
	if err != nil {
		return nil, err
	}
	return &SignedAction{Action: FromTyped(a), Signature: fmt.Sprintf("0x%x", sig)}, nil
}

func Parse(data []byte) (*SignedAction, error) {
	var sa SignedAction
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	if sa.Signature == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrMalformedAction)
	}
	return &sa, nil
}
