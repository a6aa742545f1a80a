package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/certificate"

	"github.com/spf13/cobra"
)

// CertCommand groups certificate subcommands.
func CertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "A1 certificate utilities",
	}
	cmd.AddCommand(certInspectCommand())
	return cmd
}

func certInspectCommand() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "inspect <arquivo.pfx>",
		Short: "Open a PKCS#12 container and print its summary",
		Long: `Open a PKCS#12 (.pfx/.p12) container with the given password and print
the same summary POST /v1/certificado/validar returns.

Examples:
  nfectl cert inspect loja.pfx --password 1234`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("read certificate: %w", err)
			}
			if err := certificate.CheckUpload(filepath.Base(path), info.Size()); err != nil {
				return err
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read certificate: %w", err)
			}

			cred, err := certificate.Open(content, password)
			if err != nil {
				return err
			}
			desc := certificate.Describe(cred)
			taxID, _ := certificate.ExtractTaxID(desc)
			summary := certificate.Summarize(desc, taxID, time.Now())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "Container password")
	cmd.MarkFlagRequired("password")

	return cmd
}
