package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerotrade/aaswap/metrics"
	"github.com/nerotrade/aaswap/pkg/erc4337/calldata"
)

var quoteCmd = &cobra.Command{
	Use:   "quote <token-in> <token-out> <amount-in>",
	Short: "Ask the aggregator for the best route without swapping",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, _, _, err := loadPipeline(ctx, metrics.NoopMetrics{})
		if err != nil {
			return err
		}
		defer p.Close()

		quote, err := p.QuoteSwap(ctx, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("dex:       %s\n", quote.Dex.Hex())
		fmt.Printf("amountIn:  %s\n", calldata.FormatAmount(quote.AmountIn))
		fmt.Printf("amountOut: %s\n", calldata.FormatAmount(quote.AmountOut))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(quoteCmd)
}
