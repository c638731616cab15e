package action

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypervault/pkg/crypto"
	"github.com/uhyunpark/hypervault/pkg/util"
)

// Verifier checks signatures, deadlines and per-account nonces. Nonces must
// strictly increase; a verified nonce is spent even if the vault later
// rejects the action.
type Verifier struct {
	signer *crypto.EIP712Signer
	clock  util.Clock

	mu     sync.Mutex
	nonces map[common.Address]uint64
}

func NewVerifier(domain crypto.EIP712Domain, clock util.Clock) *Verifier {
	return &Verifier{
		signer: crypto.NewEIP712Signer(domain),
		clock:  clock,
		nonces: make(map[common.Address]uint64),
	}
}

func (v *Verifier) Signer() *crypto.EIP712Signer { return v.signer }

// Nonce returns the last nonce spent by account, 0 if none.
func (v *Verifier) Nonce(account common.Address) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.nonces[account]
}

// Verify returns the typed action once its signature, deadline and nonce
// check out, and spends the nonce.
func (v *Verifier) Verify(sa *SignedAction) (*crypto.VaultAction, error) {
	a, err := sa.Action.ToTyped()
	if err != nil {
		return nil, err
	}
	sig, err := decodeSignature(sa.Signature)
	if err != nil {
		return nil, err
	}

	signer, err := v.signer.RecoverActionSigner(a, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != a.Account {
		return nil, fmt.Errorf("%w: signed by %s, not %s", ErrInvalidSignature, signer.Hex(), a.Account.Hex())
	}

	if a.Deadline.Sign() > 0 {
		now := util.Unix(v.clock)
		if !a.Deadline.IsUint64() {
			return nil, fmt.Errorf("%w: deadline out of range", ErrMalformedAction)
		}
		if now > a.Deadline.Uint64() {
			return nil, fmt.Errorf("%w: deadline %d, now %d", ErrExpired, a.Deadline.Uint64(), now)
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	nonce := a.Nonce.Uint64()
	if last := v.nonces[a.Account]; nonce <= last {
		return nil, fmt.Errorf("%w: nonce %d, last %d", ErrStaleNonce, nonce, last)
	}
	v.nonces[a.Account] = nonce
	return a, nil
}

// decodeSignature decodes a hex signature with or without 0x.
func decodeSignature(sig string) ([]byte, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex signature: %v", ErrMalformedAction, err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("%w: signature must be 65 bytes, got %d", ErrMalformedAction, len(sigBytes))
	}
	return sigBytes, nil
}
