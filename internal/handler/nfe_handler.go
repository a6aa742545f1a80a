package handler

import (
	"context"
	"net/http"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// NFe Handlers
// ============================================================

// Emitter issues NFe documents.
type Emitter interface {
	Emit(ctx context.Context, req *domain.EmissionRequest) (*domain.EmissionResult, error)
}

// EventOperations are the post-emission operations.
type EventOperations interface {
	Consult(ctx context.Context, req *domain.ConsultRequest) (*domain.ConsultResult, error)
	Cancel(ctx context.Context, req *domain.CancelRequest) (*domain.EventResult, error)
	Correct(ctx context.Context, req *domain.CorrectionRequest) (*domain.EventResult, error)
	VoidRange(ctx context.Context, req *domain.VoidRangeRequest) (*domain.EventResult, error)
	LookupRegistry(ctx context.Context, req *domain.RegistryRequest) (*domain.RegistryResult, error)
}

func emitHandler(svc Emitter, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /nfe/emitir")
		defer span.End()

		const action = "Erro ao emitir NFe"
		var req domain.EmissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		req.MerchantID = scopedMerchant(ctx)
		span.SetAttributes(attribute.Int64("sale.id", req.SaleID))

		result, err := svc.Emit(ctx, &req)
		if err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		writeSuccess(w, "NFe emitida com sucesso", result)
	}
}

func consultHandler(svc EventOperations, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /nfe/consultar")
		defer span.End()

		const action = "Erro ao consultar NFe"
		var req domain.ConsultRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		if err := authorizeMerchant(ctx, req.MerchantID); err != nil {
			handleServiceError(w, err, action, logger)
			return
		}

		result, err := svc.Consult(ctx, &req)
		if err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		writeSuccess(w, "", result)
	}
}

func cancelHandler(svc EventOperations, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /nfe/cancelar")
		defer span.End()

		const action = "Erro ao cancelar NFe"
		var req domain.CancelRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		if err := authorizeMerchant(ctx, req.MerchantID); err != nil {
			handleServiceError(w, err, action, logger)
			return
		}

		result, err := svc.Cancel(ctx, &req)
		if err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		writeSuccess(w, "NFe cancelada com sucesso", result)
	}
}

func correctHandler(svc EventOperations, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /nfe/corrigir")
		defer span.End()

		const action = "Erro ao enviar carta de correção"
		var req domain.CorrectionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		if err := authorizeMerchant(ctx, req.MerchantID); err != nil {
			handleServiceError(w, err, action, logger)
			return
		}

		result, err := svc.Correct(ctx, &req)
		if err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		writeSuccess(w, "Carta de correção registrada com sucesso", result)
	}
}

func voidRangeHandler(svc EventOperations, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /nfe/inutilizar")
		defer span.End()

		const action = "Erro ao inutilizar numeração"
		var req domain.VoidRangeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		if err := authorizeMerchant(ctx, req.MerchantID); err != nil {
			handleServiceError(w, err, action, logger)
			return
		}

		result, err := svc.VoidRange(ctx, &req)
		if err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		writeSuccess(w, "Numeração inutilizada com sucesso", result)
	}
}

func registryHandler(svc EventOperations, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /cadastro/consultar")
		defer span.End()

		const action = "Erro ao consultar cadastro"
		var req domain.RegistryRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		if err := authorizeMerchant(ctx, req.MerchantID); err != nil {
			handleServiceError(w, err, action, logger)
			return
		}

		result, err := svc.LookupRegistry(ctx, &req)
		if err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		writeSuccess(w, "", result)
	}
}
