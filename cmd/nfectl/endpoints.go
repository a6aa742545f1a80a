package main

import (
	"fmt"
	"strings"

	"github.com/boddenberg/livefy-nfe-go/internal/config"
	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/sefaz"

	"github.com/spf13/cobra"
)

var allServices = []sefaz.Service{
	sefaz.ServiceAuthorization,
	sefaz.ServiceRetAuthorization,
	sefaz.ServiceEvent,
	sefaz.ServiceProtocol,
	sefaz.ServiceVoid,
	sefaz.ServiceRegistry,
}

// EndpointsCommand resolves SEFAZ web service URLs the way the API does.
func EndpointsCommand(cfg *config.Config) *cobra.Command {
	var (
		state       string
		environment int
		file        string
	)

	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "Print the SEFAZ URLs used for a state and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoints, err := sefaz.LoadEndpoints(file)
			if err != nil {
				return err
			}
			endpoints = endpoints.WithOverrides(cfg.SEFAZEndpointOverrides)

			target := domain.AuthorityTarget{
				State:       strings.ToUpper(state),
				Environment: domain.ParseEnvironment(environment),
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "autorizador: %s (%s)\n", endpoints.Authorizer(target.State), target.Environment)
			for _, svc := range allServices {
				url, err := endpoints.URL(target, svc)
				if err != nil {
					url = "-"
				}
				fmt.Fprintf(out, "%-22s %s\n", svc, url)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "uf", "SP", "Issuer state")
	cmd.Flags().IntVar(&environment, "ambiente", cfg.DefaultEnvironment, "1 = produção, 2 = homologação")
	cmd.Flags().StringVar(&file, "file", cfg.SEFAZEndpointsFile, "Endpoint table YAML (default: embedded)")

	return cmd
}
