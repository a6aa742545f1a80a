package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/certificate"
	"github.com/boddenberg/livefy-nfe-go/internal/config"
	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/handler"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/cache"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/observability"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/resilience"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/sefaz"
	"github.com/boddenberg/livefy-nfe-go/internal/nfe"
	"github.com/boddenberg/livefy-nfe-go/internal/numbering"
	"github.com/boddenberg/livefy-nfe-go/internal/service"
	"github.com/boddenberg/livefy-nfe-go/internal/signer"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const serviceName = "livefy-nfe"

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, serviceName)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("use_supabase", cfg.UseSupabase),
		zap.Int("default_ambiente", cfg.DefaultEnvironment),
		zap.Duration("sefaz_timeout", cfg.SEFAZTimeout),
		zap.Duration("sefaz_poll_delay", cfg.SEFAZPollDelay),
		zap.Int("sefaz_overrides", len(cfg.SEFAZEndpointOverrides)),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
		zap.String("cert_storage_path", cfg.CertStoragePath),
		zap.Bool("auth_disabled", cfg.AuthDisabled),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, serviceName)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	credentialCache := cache.New[*domain.Credential](cfg.CacheTTL)
	defer credentialCache.Close()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	storeCB := resilience.NewCircuitBreaker("store", logger)
	sefazCB := resilience.NewCircuitBreaker("sefaz", logger)
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)

	// --- Store ---
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	store, closeStore := openStore(startCtx, cfg, storeCB, resilienceCfg, logger)
	cancelStart()
	defer closeStore()

	// --- SEFAZ ---
	endpoints, err := sefaz.LoadEndpoints(cfg.SEFAZEndpointsFile)
	if err != nil {
		logger.Fatal("failed to load SEFAZ endpoints", zap.Error(err))
	}
	endpoints = endpoints.WithOverrides(cfg.SEFAZEndpointOverrides)
	if cfg.SEFAZInsecureSkipVerify {
		logger.Warn("SEFAZ TLS verification disabled")
	}
	authority := sefaz.NewClient(endpoints, sefazCB, bulkhead, metrics, logger, sefaz.Options{
		Timeout:            cfg.SEFAZTimeout,
		InsecureSkipVerify: cfg.SEFAZInsecureSkipVerify,
		Retry:              resilienceCfg,
	})
	defer authority.Close()

	// --- Certificates ---
	sealer, err := certificate.NewSealer(cfg.CertPasswordKey)
	if err != nil {
		logger.Fatal("failed to init password sealer", zap.Error(err))
	}
	vault := certificate.NewVault(cfg.CertStoragePath)
	certSvc := service.NewCertificateService(store, vault, sealer, credentialCache, metrics, logger)

	// --- Document building ---
	defaults := nfe.StandardDefaults()
	defaults.NCM = cfg.NCMDefault
	defaults.ApplicationVersion = cfg.NFeAppVersion
	if rate, err := decimal.NewFromString(cfg.ApproxTaxRate); err == nil {
		defaults.ApproxTaxRate = rate
	} else {
		logger.Warn("invalid NFE_APPROX_TAX_RATE, using default", zap.String("value", cfg.ApproxTaxRate))
	}
	var docOpts []nfe.Option
	if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
		docOpts = append(docOpts, nfe.WithLocation(loc))
	} else {
		logger.Warn("unknown NFE_TIMEZONE, using America/Sao_Paulo", zap.String("value", cfg.Timezone))
	}
	assembler := nfe.NewAssembler(defaults, docOpts...)
	eventBuilder := nfe.NewEventBuilder(defaults, docOpts...)
	xmlSigner := signer.New()

	// --- Services ---
	env := domain.ParseEnvironment(cfg.DefaultEnvironment)
	emissionSvc := service.NewEmissionService(
		store,
		store,
		certSvc,
		numbering.NewSequencer(store, logger),
		assembler,
		xmlSigner,
		service.NewProtocolProcessor(authority, cfg.SEFAZPollDelay, logger),
		service.NewEmissionRecorder(store, logger),
		service.EmissionOptions{DefaultEnvironment: env, RecordRejections: cfg.RecordRejections},
		metrics,
		logger,
	)
	eventSvc := service.NewEventService(store, store, store, certSvc, eventBuilder, xmlSigner, authority, env, metrics, logger)
	healthSvc := service.NewHealthService(serviceName, cfg.AppVersion, 2*time.Second,
		service.Probe{Name: "store", Check: store.Ping},
		service.Probe{Name: "certificate_storage", Check: func(context.Context) error {
			return vault.Check()
		}},
	)

	// --- Router ---
	deps := handler.Deps{
		Emission:     emissionSvc,
		Events:       eventSvc,
		Certificates: certSvc,
		Health:       healthSvc,
		Metrics:      metrics,
	}
	if !cfg.AuthDisabled {
		deps.Tokens = service.NewTokenService(cfg.APITokenSecret)
	}
	router := handler.NewRouter(deps, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.SEFAZTimeout*2 + cfg.SEFAZPollDelay + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
