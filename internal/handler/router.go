// Package handler exposes the NFe API over HTTP with chi.
package handler

import (
	"net/http"

	"github.com/boddenberg/livefy-nfe-go/internal/infra/observability"
	"github.com/boddenberg/livefy-nfe-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Deps are the services behind the routes.
type Deps struct {
	Emission     Emitter
	Events       EventOperations
	Certificates CertificateOperations
	Health       *service.HealthService
	Metrics      *observability.Metrics

	// Tokens validates API tokens. Nil disables authentication.
	Tokens TokenValidator
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(deps Deps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/health", healthHandler(deps.Health))
	r.Get("/healthz", healthHandler(deps.Health))
	r.Get("/readyz", readyzHandler(deps.Health))
	r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if deps.Tokens != nil {
			r.Use(APITokenMiddleware(deps.Tokens, logger))
		} else {
			logger.Warn("API token authentication disabled")
		}

		// =============================================
		// 1. NFe
		// =============================================
		r.Post("/nfe/emitir", emitHandler(deps.Emission, logger))
		r.Post("/nfe/consultar", consultHandler(deps.Events, logger))
		r.Post("/nfe/cancelar", cancelHandler(deps.Events, logger))
		r.Post("/nfe/corrigir", correctHandler(deps.Events, logger))
		r.Post("/nfe/inutilizar", voidRangeHandler(deps.Events, logger))
		r.Get("/nfe/metrics", nfeMetricsHandler(deps.Metrics))

		// =============================================
		// 2. Cadastro (SEFAZ)
		// =============================================
		r.Post("/cadastro/consultar", registryHandler(deps.Events, logger))

		// =============================================
		// 3. Certificado digital
		// =============================================
		r.Post("/certificado/upload", uploadCertificateHandler(deps.Certificates, logger))
		r.Post("/certificado/validar", validateCertificateHandler(deps.Certificates, logger))
		r.Delete("/certificado/remover", removeCertificateHandler(deps.Certificates, logger))
		r.Get("/certificado/info", certificateInfoHandler(deps.Certificates, logger))
	})

	return r
}
