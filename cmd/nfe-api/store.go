package main

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/config"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/postgres"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/resilience"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/supabase"
	"github.com/boddenberg/livefy-nfe-go/internal/port"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// openStore picks the persistence backend: Supabase REST when enabled,
// otherwise Postgres. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, cb *gobreaker.CircuitBreaker, retry resilience.Config, logger *zap.Logger) (port.Store, func()) {
	if cfg.UseSupabase && cfg.SupabaseURL != "" {
		logger.Info("using Supabase as data backend",
			zap.String("supabase_url", cfg.SupabaseURL),
		)
		httpClient := &http.Client{Timeout: 15 * time.Second}
		client := supabase.NewClient(httpClient, cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.SupabaseServiceKey, cb, retry, logger)
		return client, func() {}
	}

	if cfg.DatabaseURL == "" {
		logger.Fatal("no data backend configured: set DATABASE_URL or USE_SUPABASE=true with SUPABASE_URL")
	}

	logger.Info("using Postgres as data backend")
	store, err := postgres.Open(ctx, cfg.DatabaseURL, retry, logger)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal("failed to apply schema", zap.Error(err))
	}
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close postgres", zap.Error(err))
		}
	}
}
