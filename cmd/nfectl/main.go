// Command nfectl is the operator CLI for the NFe service: certificate
// inspection, schema management, API token issuance and SEFAZ endpoint
// resolution.
package main

import (
	"fmt"
	"os"

	"github.com/boddenberg/livefy-nfe-go/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	_ = config.LoadDotEnv(".env")

	if err := RootCommand(config.Load()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// RootCommand assembles the command tree. cfg supplies flag defaults.
func RootCommand(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "nfectl",
		Short:         "Operator tooling for the NFe emission service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		CertCommand(),
		SchemaCommand(cfg),
		TokenCommand(cfg),
		EndpointsCommand(cfg),
	)
	return root
}
