package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/hypervault/pkg/crypto"
)

func main() {
	root := &cobra.Command{
		Use:           "vaultd",
		Short:         "HyperVault node: leveraged trading vault with a stable unit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCommand(), keygenCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func keygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generates a secp256k1 key for signing vault actions",
		RunE: func(c *cobra.Command, _ []string) error {
			signer, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			out := c.OutOrStdout()
			fmt.Fprintf(out, "Address: %s\n", signer.Address().Hex())
			fmt.Fprintf(out, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
			return nil
		},
	}
}
