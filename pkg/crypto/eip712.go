package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain binds signatures to one deployment so they cannot be replayed
// against another chain or vault.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain is the local development domain.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "HyperVault",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// ActionKind selects the vault operation a VaultAction requests.
type ActionKind uint8

const (
	ActionMint ActionKind = iota + 1
	ActionRedeem
	ActionDeposit
	ActionIncrease
	ActionDecrease
	ActionLiquidate
)

var actionNames = map[ActionKind]string{
	ActionMint:      "mint",
	ActionRedeem:    "redeem",
	ActionDeposit:   "deposit",
	ActionIncrease:  "increase",
	ActionDecrease:  "decrease",
	ActionLiquidate: "liquidate",
}

func (k ActionKind) String() string {
	if s, ok := actionNames[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// ParseActionKind accepts the lower-case names used by String.
func ParseActionKind(s string) (ActionKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range actionNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown action kind %q", s)
}

// VaultAction is the typed data an account signs to drive the vault.
//
// Amount is read per kind: token units for mint and deposit, stable units for
// redeem, collateral tokens for increase, USD (1e30) collateral delta for
// decrease. For liquidate, Account is the liquidator and fee receiver and
// Receiver names the position owner.
type VaultAction struct {
	Kind            ActionKind
	Account         common.Address
	CollateralToken common.Address
	IndexToken      common.Address
	Amount          *big.Int
	SizeDelta       *big.Int
	IsLong          bool
	Receiver        common.Address
	Nonce           *big.Int
	Deadline        *big.Int // unix seconds, 0 = no expiry
}

var vaultActionTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"VaultAction": []apitypes.Type{
		{Name: "kind", Type: "uint8"},
		{Name: "account", Type: "address"},
		{Name: "collateralToken", Type: "address"},
		{Name: "indexToken", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "sizeDelta", Type: "uint256"},
		{Name: "isLong", Type: "bool"},
		{Name: "receiver", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// EIP712Signer hashes, signs and verifies vault actions under one domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func (e *EIP712Signer) typedData(a *VaultAction) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       vaultActionTypes,
		PrimaryType: "VaultAction",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"kind":            fmt.Sprintf("%d", uint8(a.Kind)),
			"account":         a.Account.Hex(),
			"collateralToken": a.CollateralToken.Hex(),
			"indexToken":      a.IndexToken.Hex(),
			"amount":          bigOrZero(a.Amount).String(),
			"sizeDelta":       bigOrZero(a.SizeDelta).String(),
			"isLong":          a.IsLong,
			"receiver":        a.Receiver.Hex(),
			"nonce":           bigOrZero(a.Nonce).String(),
			"deadline":        bigOrZero(a.Deadline).String(),
		},
	}
}

// HashAction returns the EIP-712 digest of a:
// keccak256("\x19\x01" || domainSeparator || hashStruct(a)).
func (e *EIP712Signer) HashAction(a *VaultAction) ([]byte, error) {
	typedData := e.typedData(a)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

func (e *EIP712Signer) SignAction(signer *Signer, a *VaultAction) ([]byte, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return nil, fmt.Errorf("failed to hash action: %w", err)
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign action: %w", err)
	}
	return signature, nil
}

// RecoverActionSigner returns the address that signed a.
func (e *EIP712Signer) RecoverActionSigner(a *VaultAction, signature []byte) (common.Address, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash action: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// VerifyActionSignature reports whether a.Account signed a.
func (e *EIP712Signer) VerifyActionSignature(a *VaultAction, signature []byte) (bool, error) {
	recovered, err := e.RecoverActionSigner(a, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recovered == a.Account, nil
}

// ActionToJSON renders a in the eth_signTypedData_v4 layout wallets expect.
func (e *EIP712Signer) ActionToJSON(a *VaultAction) (string, error) {
	typedData := e.typedData(a)
	msg := make(map[string]interface{}, len(typedData.Message))
	for k, v := range typedData.Message {
		msg[k] = v
	}
	msg["kind"] = uint8(a.Kind)

	out := map[string]interface{}{
		"types":       typedData.Types,
		"primaryType": typedData.PrimaryType,
		"domain": map[string]interface{}{
			"name":              e.domain.Name,
			"version":           e.domain.Version,
			"chainId":           e.domain.ChainID.String(),
			"verifyingContract": e.domain.VerifyingContract.Hex(),
		},
		"message": msg,
	}

	jsonBytes, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
