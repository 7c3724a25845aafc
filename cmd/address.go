package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerotrade/aaswap/metrics"
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Show the owner and smart account addresses",
	Long: `Print the owner EOA and the counterfactual smart account derived from it.
The smart account address is stable whether or not it is deployed yet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, _, owner, err := loadPipeline(ctx, metrics.NoopMetrics{})
		if err != nil {
			return err
		}
		defer p.Close()

		ownerAddress, err := owner.Address(ctx)
		if err != nil {
			return err
		}
		account, err := p.AccountAddress(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("owner:         %s\n", ownerAddress.Hex())
		fmt.Printf("smart account: %s\n", account.Hex())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addressCmd)
}
