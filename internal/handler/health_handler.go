package handler

import (
	"net/http"

	"github.com/boddenberg/livefy-nfe-go/internal/infra/observability"
	"github.com/boddenberg/livefy-nfe-go/internal/service"
)

// ============================================================
// Operational Handlers
// ============================================================

func healthHandler(h *service.HealthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.Health())
	}
}

func readyzHandler(h *service.HealthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.Ready(r.Context())
		code := http.StatusOK
		if status.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

func nfeMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, "", metrics.GetEmissionSnapshot())
	}
}
