package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/hypervault/pkg/app/core/action"
	"github.com/uhyunpark/hypervault/pkg/crypto"
	"github.com/uhyunpark/hypervault/pkg/fixed"
)

type flags struct {
	key        string
	kind       string
	collateral string
	index      string
	amount     string
	size       string
	long       bool
	receiver   string
	nonce      uint64
	deadline   uint64
	chainID    int64
	verify     bool
}

func main() {
	var f flags
	c := &cobra.Command{
		Use:   "sign-action",
		Short: "Signs a vault action with EIP-712 and prints the JSON body for POST /api/v1/actions",
		RunE: func(c *cobra.Command, _ []string) error {
			return run(c, &f)
		},
		SilenceUsage: true,
	}
	fs := c.Flags()
	fs.StringVar(&f.key, "key", "", "hex private key (a new key is generated when empty)")
	fs.StringVar(&f.kind, "kind", "mint", "mint, redeem, deposit, increase, decrease or liquidate")
	fs.StringVar(&f.collateral, "collateral", "0x00000000000000000000000000000000000000b1", "collateral token address")
	fs.StringVar(&f.index, "index", "", "index token address (positions)")
	fs.StringVar(&f.amount, "amount", "0", "raw token amount, or stable units for redeem")
	fs.StringVar(&f.size, "size", "0", "size delta in dollars, e.g. 90.5")
	fs.BoolVar(&f.long, "long", true, "long or short position")
	fs.StringVar(&f.receiver, "receiver", "", "payout receiver; position owner for liquidate")
	fs.Uint64Var(&f.nonce, "nonce", 1, "account nonce, must exceed the last one used")
	fs.Uint64Var(&f.deadline, "deadline", 0, "unix seconds, 0 for no expiry")
	fs.Int64Var(&f.chainID, "chain-id", 1337, "EIP-712 domain chain id")
	fs.BoolVar(&f.verify, "verify", true, "recover the signer before printing")

	if err := c.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(c *cobra.Command, f *flags) error {
	out := c.OutOrStdout()
	errOut := c.ErrOrStderr()

	var signer *crypto.Signer
	var err error
	if f.key == "" {
		signer, err = crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(errOut, "Generated key\n  Address: %s\n  Private Key: %s (KEEP SECRET!)\n\n", signer.Address().Hex(), signer.PrivateKeyHex())
	} else if signer, err = crypto.FromPrivateKeyHex(f.key); err != nil {
		return err
	}

	kind, err := crypto.ParseActionKind(f.kind)
	if err != nil {
		return err
	}
	amount, ok := new(big.Int).SetString(f.amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount %q", f.amount)
	}
	size, err := fixed.ParseUnits(f.size, fixed.PriceDecimals)
	if err != nil {
		return fmt.Errorf("invalid size: %w", err)
	}

	a := &crypto.VaultAction{
		Kind:            kind,
		Account:         signer.Address(),
		CollateralToken: common.HexToAddress(f.collateral),
		Amount:          amount,
		SizeDelta:       size.ToBig(),
		IsLong:          f.long,
		Nonce:           new(big.Int).SetUint64(f.nonce),
		Deadline:        new(big.Int).SetUint64(f.deadline),
	}
	if f.index != "" {
		a.IndexToken = common.HexToAddress(f.index)
	}
	if f.receiver != "" {
		a.Receiver = common.HexToAddress(f.receiver)
	}

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(f.chainID)
	es := crypto.NewEIP712Signer(domain)

	sa, err := action.Sign(es, signer, a)
	if err != nil {
		return fmt.Errorf("signing: %w", err)
	}

	if f.verify {
		typed, err := sa.Action.ToTyped()
		if err != nil {
			return err
		}
		sig := common.FromHex(sa.Signature)
		recovered, err := es.RecoverActionSigner(typed, sig)
		if err != nil {
			return fmt.Errorf("verifying: %w", err)
		}
		if recovered != signer.Address() {
			return fmt.Errorf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
		}
		fmt.Fprintf(errOut, "✓ Signature VALID (signer %s)\n\n", recovered.Hex())
	}

	body, err := json.MarshalIndent(sa, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(body))
	return nil
}
