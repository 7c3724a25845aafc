package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"

	"github.com/nerotrade/aaswap/metrics"
)

var waitCmd = &cobra.Command{
	Use:   "wait <userOpHash>",
	Short: "Wait for a previously sent operation to be included",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := hexutil.Decode(args[0])
		if err != nil || len(raw) != common.HashLength {
			return fmt.Errorf("%q is not a 32 byte user operation hash", args[0])
		}

		ctx, cancel := signalContext()
		defer cancel()

		p, cfg, _, err := loadPipeline(ctx, metrics.NoopMetrics{})
		if err != nil {
			return err
		}
		defer p.Close()

		receipt, err := p.WaitForOperation(ctx, common.BytesToHash(raw))
		if receipt != nil {
			fmt.Printf("success:  %t\n", receipt.Success)
			fmt.Printf("txHash:   %s\n", receipt.TxHash().Hex())
			fmt.Printf("explorer: %s\n", cfg.Chain.Preset.ExplorerTxURL(receipt.TxHash().Hex()))
			if debug {
				pp.Println(receipt)
			}
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(waitCmd)
}
