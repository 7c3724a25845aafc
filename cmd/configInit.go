package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	appconfig "github.com/nerotrade/aaswap/core/config"
)

var (
	forceConfigInit bool

	configInitCmd = &cobra.Command{
		Use:   "config-init [path]",
		Short: "Write a sample config file",
		Long: `Write a sample config for the NERO testnet. Fill in the contract
addresses and the owner key before use. Defaults to the --config path.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !forceConfigInit {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := appconfig.WriteSampleConfig(path); err != nil {
				return err
			}
			fmt.Printf("sample config written to %s\n", path)
			return nil
		},
	}
)

func init() {
	configInitCmd.Flags().BoolVar(&forceConfigInit, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(configInitCmd)
}
