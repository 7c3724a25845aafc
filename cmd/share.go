package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nerotrade/aaswap/metrics"
	"github.com/nerotrade/aaswap/pkg/erc4337/calldata"
)

var (
	tradeShare calldata.TradeShare

	shareCmd = &cobra.Command{
		Use:   "share",
		Short: "Publish a completed trade to the social contract",
		Long: `Share a trade on chain. Sharing is always sponsored by the paymaster.
The trader defaults to the smart account.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			p, cfg, _, err := loadPipeline(ctx, metrics.NoopMetrics{})
			if err != nil {
				return err
			}
			defer p.Close()

			result, err := p.BuildAndSubmitTradeShare(ctx, tradeShare)
			return printResult(cfg, result, err)
		},
	}
)

func init() {
	shareCmd.Flags().StringVar(&tradeShare.Trader, "trader", "", "trader address, defaults to the smart account")
	shareCmd.Flags().StringVar(&tradeShare.Strategy, "strategy", "", "free form strategy label")
	shareCmd.Flags().StringVar(&tradeShare.TokenIn, "token-in", "", "token sold")
	shareCmd.Flags().StringVar(&tradeShare.TokenOut, "token-out", "", "token bought")
	shareCmd.Flags().StringVar(&tradeShare.AmountIn, "amount-in", "", "amount sold")
	shareCmd.Flags().StringVar(&tradeShare.AmountOut, "amount-out", "", "amount bought")
	for _, f := range []string{"token-in", "token-out", "amount-in", "amount-out"} {
		_ = shareCmd.MarkFlagRequired(f)
	}
	rootCmd.AddCommand(shareCmd)
}
