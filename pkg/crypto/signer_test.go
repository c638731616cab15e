package crypto

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}
	if len(signer.PrivateKeyHex()) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(signer.PrivateKeyHex()))
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()

	for _, in := range []string{privHex, "0x" + privHex} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("failed to load key %q: %v", in, err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}

	if _, err := FromPrivateKeyHex("zz"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("Hello, HyperVault!"))

	signature, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != 65 {
		t.Errorf("signature length = %d, want 65", len(signature))
	}

	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		t.Fatalf("failed to recover address: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered address = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}

	// wallet-style V
	walletSig := append([]byte(nil), signature...)
	walletSig[64] += 27
	recovered, err = RecoverAddress(hash, walletSig)
	if err != nil || recovered != signer.Address() {
		t.Errorf("signature with V=27/28 recovered %s, %v", recovered.Hex(), err)
	}
}

func TestInvalidSignature(t *testing.T) {
	signer, _ := GenerateKey()
	hash := common.BytesToHash([]byte("test")).Bytes()

	if _, err := RecoverAddress(hash, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for a short signature")
	}
	if _, err := RecoverAddress([]byte("short"), make([]byte, 65)); err == nil {
		t.Error("expected error for a short hash")
	}
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("expected error signing a non-32-byte hash")
	}
}

func testAction(account common.Address) *VaultAction {
	return &VaultAction{
		Kind:            ActionIncrease,
		Account:         account,
		CollateralToken: common.HexToAddress("0x00000000000000000000000000000000000000b1"),
		IndexToken:      common.HexToAddress("0x00000000000000000000000000000000000000b1"),
		Amount:          big.NewInt(250000),
		SizeDelta:       new(big.Int).Mul(big.NewInt(90), new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)),
		IsLong:          true,
		Nonce:           big.NewInt(1),
		Deadline:        big.NewInt(0),
	}
}

func TestSignActionRoundTrip(t *testing.T) {
	signer, _ := GenerateKey()
	es := NewEIP712Signer(DefaultDomain())
	action := testAction(signer.Address())

	sig, err := es.SignAction(signer, action)
	if err != nil {
		t.Fatalf("failed to sign action: %v", err)
	}

	ok, err := es.VerifyActionSignature(action, sig)
	if err != nil || !ok {
		t.Fatalf("verify = %v, %v; want true", ok, err)
	}

	// any field change breaks the signature
	tampered := *action
	tampered.IsLong = false
	ok, err = es.VerifyActionSignature(&tampered, sig)
	if err != nil {
		t.Fatalf("verify tampered: %v", err)
	}
	if ok {
		t.Error("tampered action should not verify")
	}

	tampered = *action
	tampered.Nonce = big.NewInt(2)
	if ok, _ := es.VerifyActionSignature(&tampered, sig); ok {
		t.Error("action with a different nonce should not verify")
	}
}

func TestDomainSeparatesSignatures(t *testing.T) {
	signer, _ := GenerateKey()
	action := testAction(signer.Address())

	local := NewEIP712Signer(DefaultDomain())
	other := DefaultDomain()
	other.ChainID = big.NewInt(1)
	mainnet := NewEIP712Signer(other)

	h1, err := local.HashAction(action)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := mainnet.HashAction(action)
	if err != nil {
		t.Fatal(err)
	}
	if string(h1) == string(h2) {
		t.Error("different chain ids produced the same digest")
	}

	sig, _ := local.SignAction(signer, action)
	if ok, _ := mainnet.VerifyActionSignature(action, sig); ok {
		t.Error("signature should not verify under another domain")
	}
}

func TestParseActionKind(t *testing.T) {
	for k, name := range actionNames {
		got, err := ParseActionKind(name)
		if err != nil || got != k {
			t.Errorf("ParseActionKind(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseActionKind("swap"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestActionToJSON(t *testing.T) {
	es := NewEIP712Signer(DefaultDomain())
	out, err := es.ActionToJSON(testAction(common.HexToAddress("0x1111111111111111111111111111111111111111")))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"primaryType": "VaultAction"`, `"chainId": "1337"`, `"isLong": true`, `"kind": 4`} {
		if !strings.Contains(out, want) {
			t.Errorf("typed data JSON missing %s", want)
		}
	}
}
