package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"

	"github.com/nerotrade/aaswap/core/chainio/signer"
	appconfig "github.com/nerotrade/aaswap/core/config"
	"github.com/nerotrade/aaswap/core/pipeline"
	"github.com/nerotrade/aaswap/metrics"
	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
	"github.com/nerotrade/aaswap/pkg/erc4337/preset"
)

// rootCmd represents the base command when called without any subcommands
var (
	config  = "./config/aaswap.yaml"
	debug   = false
	rootCmd = &cobra.Command{
		Use:   "aaswap",
		Short: "Gas abstracted swaps on NERO",
		Long: `aaswap submits DEX swaps and trade shares as ERC-4337 user operations
from a smart account, paying gas through the NERO paymaster.

Such as "aaswap address", "aaswap swap ..." or "aaswap serve"
`,
		SilenceUsage: true,
	}
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&config, "config", "c", "./config/aaswap.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "dump full operations and receipts")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadPipeline reads the config, loads the owner key and dials every
// endpoint. The caller must Close the pipeline.
func loadPipeline(ctx context.Context, m metrics.MetricsGenerator) (*pipeline.Pipeline, *appconfig.Config, *signer.KeySigner, error) {
	cfg, err := appconfig.NewConfig(config)
	if err != nil {
		return nil, nil, nil, err
	}

	owner, err := cfg.OwnerSigner()
	if err != nil {
		return nil, nil, nil, err
	}

	p, err := pipeline.NewFromConfig(ctx, cfg, owner, m)
	if err != nil {
		return nil, nil, nil, err
	}
	return p, cfg, owner, nil
}

func printResult(cfg *appconfig.Config, result *preset.Result, err error) error {
	if result != nil {
		if result.UserOpHash != (common.Hash{}) {
			fmt.Printf("userOpHash: %s\n", result.UserOpHash.Hex())
		}
		fmt.Printf("state:      %s\n", result.State)
		if result.State == preset.StateConfirmed || result.Receipt != nil {
			fmt.Printf("txHash:     %s\n", result.TxHash.Hex())
			fmt.Printf("explorer:   %s\n", cfg.Chain.Preset.ExplorerTxURL(result.TxHash.Hex()))
		}
		if debug {
			pp.Println(result)
		}
	}

	if err != nil {
		if code := aaerr.CodeOf(err); code != "" {
			return fmt.Errorf("%s at %s: %w", code, aaerr.StageOf(err), err)
		}
		return err
	}
	return nil
}
