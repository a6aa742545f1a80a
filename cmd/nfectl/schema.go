package main

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/config"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/postgres"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/resilience"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// SchemaCommand prints or applies the Postgres schema.
func SchemaCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Postgres schema management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the schema DDL",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), postgres.Schema)
			return err
		},
	})

	var dsn string
	apply := &cobra.Command{
		Use:   "apply",
		Short: "Apply the schema to a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return fmt.Errorf("database connection string required (--db or DATABASE_URL)")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			store, err := postgres.Open(ctx, dsn, resilience.Config{}, zap.NewNop())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
	apply.Flags().StringVar(&dsn, "db", cfg.DatabaseURL, "Database connection string (overrides env var)")
	cmd.AddCommand(apply)

	return cmd
}
