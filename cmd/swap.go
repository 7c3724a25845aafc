package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nerotrade/aaswap/metrics"
	"github.com/nerotrade/aaswap/pkg/erc4337/calldata"
	"github.com/nerotrade/aaswap/pkg/erc4337/paymaster"
)

var (
	swapRequest  calldata.SwapRequest
	paymentType  string
	paymentToken string

	swapCmd = &cobra.Command{
		Use:   "swap",
		Short: "Swap tokens on the DEX aggregator",
		Long: `Build, sign and submit a swap from the smart account, then wait for its receipt.

Amounts are decimal strings, e.g. --amount-in 1.5. Gas is paid according to
--payment: sponsored (default), prepay or postpay. Token payments need
--payment-token, see "aaswap tokens".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, err := paymaster.ParseStrategy(paymentType, paymentToken)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			p, cfg, _, err := loadPipeline(ctx, metrics.NoopMetrics{})
			if err != nil {
				return err
			}
			defer p.Close()

			result, err := p.BuildAndSubmitSwap(ctx, swapRequest, strategy)
			return printResult(cfg, result, err)
		},
	}
)

func init() {
	swapCmd.Flags().StringVar(&swapRequest.TokenIn, "token-in", "", "address of the token to sell")
	swapCmd.Flags().StringVar(&swapRequest.TokenOut, "token-out", "", "address of the token to buy")
	swapCmd.Flags().StringVar(&swapRequest.AmountIn, "amount-in", "", "amount to sell")
	swapCmd.Flags().StringVar(&swapRequest.AmountOutMin, "min-out", "0", "minimum amount to receive")
	swapCmd.Flags().StringVar(&swapRequest.Recipient, "recipient", "", "receiver of the output, defaults to the smart account")
	swapCmd.Flags().StringVar(&paymentType, "payment", "sponsored", "gas payment: sponsored, prepay or postpay")
	swapCmd.Flags().StringVar(&paymentToken, "payment-token", "", "ERC-20 used to pay gas for prepay and postpay")
	_ = swapCmd.MarkFlagRequired("token-in")
	_ = swapCmd.MarkFlagRequired("token-out")
	_ = swapCmd.MarkFlagRequired("amount-in")
	rootCmd.AddCommand(swapCmd)
}
