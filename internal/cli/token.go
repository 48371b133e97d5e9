package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-cast/internal/api"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API access token",
	Long:  `Signs a bearer token for the HTTP API with the configured security.jwt.secret.`,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenSubject, "subject", "s", "", "token subject (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: security.jwt.access_token_ttl)")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	if tokenSubject == "" {
		return errors.New("--subject is required")
	}
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is not set; API authentication is disabled")
	}

	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.AccessTokenTTL()
	}
	token, err := api.IssueToken(cfg.Security.JWT.Secret, tokenSubject, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
