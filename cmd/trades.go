package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerotrade/aaswap/metrics"
	"github.com/nerotrade/aaswap/pkg/erc4337/calldata"
)

var tradesCmd = &cobra.Command{
	Use:   "trades [trader]",
	Short: "List trades shared on the social contract, by default those of your smart account",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, _, _, err := loadPipeline(ctx, metrics.NoopMetrics{})
		if err != nil {
			return err
		}
		defer p.Close()

		trader := ""
		if len(args) == 1 {
			trader = args[0]
		}
		trades, err := p.ListTrades(ctx, trader)
		if err != nil {
			return err
		}
		if len(trades) == 0 {
			fmt.Println("no trades shared yet")
			return nil
		}

		fmt.Printf("%-16s  %-42s  %-42s  %24s  %24s\n", "STRATEGY", "TOKEN IN", "TOKEN OUT", "AMOUNT IN", "AMOUNT OUT")
		for _, t := range trades {
			fmt.Printf("%-16s  %-42s  %-42s  %24s  %24s\n",
				t.Strategy, t.TokenIn.Hex(), t.TokenOut.Hex(),
				calldata.FormatAmount(t.AmountIn), calldata.FormatAmount(t.AmountOut))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tradesCmd)
}
