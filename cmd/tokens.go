package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerotrade/aaswap/metrics"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "List tokens the paymaster accepts for gas",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, _, _, err := loadPipeline(ctx, metrics.NoopMetrics{})
		if err != nil {
			return err
		}
		defer p.Close()

		tokens, err := p.ListSupportedTokens(ctx)
		if err != nil {
			return err
		}
		if len(tokens) == 0 {
			fmt.Println("no tokens available, only sponsored operations can be sent")
			return nil
		}

		fmt.Printf("%-42s  %-10s  %8s  %s\n", "ADDRESS", "SYMBOL", "DECIMALS", "PAYMENT")
		for _, t := range tokens {
			fmt.Printf("%-42s  %-10s  %8d  %s\n", t.Address.Hex(), t.Symbol, t.Decimals, t.Kind)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokensCmd)
}
