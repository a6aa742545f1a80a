package main

import (
	"fmt"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/config"
	"github.com/boddenberg/livefy-nfe-go/internal/service"

	"github.com/spf13/cobra"
)

// TokenCommand issues API tokens for X-API-Token.
func TokenCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "API token management",
	}

	var (
		secret     string
		subject    string
		merchantID int64
		ttl        time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue an API token",
		Long: `Issue an HS256 API token. A token with --merchant only reaches that
merchant's data; without it the token is a platform token.

Examples:
  nfectl token issue --subject loja-7 --merchant 7 --ttl 720h
  nfectl token issue --subject backoffice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("token secret required (--secret or API_TOKEN_SECRET)")
			}
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			tok, err := service.NewTokenService(secret).Issue(subject, merchantID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	issue.Flags().StringVar(&secret, "secret", cfg.APITokenSecret, "Signing secret (overrides env var)")
	issue.Flags().StringVar(&subject, "subject", "", "Token subject (client name)")
	issue.Flags().Int64Var(&merchantID, "merchant", 0, "Restrict the token to one merchant (user_id)")
	issue.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime; 0 never expires")
	cmd.AddCommand(issue)

	return cmd
}
