package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerotrade/aaswap/core/auth"
	appconfig "github.com/nerotrade/aaswap/core/config"
)

type CreateApiKeyOption struct {
	Roles   []string
	Subject string
	TTL     time.Duration
}

var (
	apiKeyOption = CreateApiKeyOption{}
	createApiKey = &cobra.Command{
		Use:   "create-api-key",
		Short: "Create a long live JWT key for the HTTP gateway",
		Long: `Create a JWT key signed with jwt_secret. A "readonly" key can query the
account, tokens, quotes and receipts. A "submit" key can also send swaps and
trade shares from the gateway's smart account.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.NewConfig(config)
			if err != nil {
				return err
			}
			key, err := auth.CreateAPIKey(cfg.JwtSecret, apiKeyOption.Subject, apiKeyOption.Roles, apiKeyOption.TTL)
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
)

func init() {
	createApiKey.Flags().StringArrayVar(&(apiKeyOption.Roles), "role", []string{"readonly"}, "Role for API Key (readonly or submit)")
	createApiKey.Flags().StringVarP(&(apiKeyOption.Subject), "subject", "s", "admin", "subject name to be use for jwt api key")
	createApiKey.Flags().DurationVar(&(apiKeyOption.TTL), "ttl", 24*time.Hour*365, "how long the key stays valid")
	rootCmd.AddCommand(createApiKey)
}
