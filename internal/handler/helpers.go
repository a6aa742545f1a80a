package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

const maxJSONBody = 1 << 20

// envelope is the response shape of every /v1 endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   any    `json:"error,omitempty"`
}

type fieldError struct {
	Field   string `json:"campo"`
	Message string `json:"mensagem"`
}

type authorityError struct {
	Code    int    `json:"cstat"`
	Message string `json:"xmotivo"`
	Receipt string `json:"recibo,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string, detail any) {
	writeJSON(w, status, envelope{Success: false, Message: message, Error: detail})
}

// decodeJSON reads a JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &domain.ErrValidation{Field: "body", Message: "corpo da requisição vazio"}
		}
		return &domain.ErrValidation{Field: "body", Message: "JSON inválido"}
	}
	return nil
}

// merchantParam reads user_id from the query string or a form field.
func merchantParam(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.FormValue("user_id"))
	if raw == "" {
		return 0, &domain.ErrValidation{Field: "user_id", Message: "user_id é obrigatório"}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ErrValidation{Field: "user_id", Message: "user_id deve ser um inteiro positivo"}
	}
	return id, nil
}

// handleServiceError maps domain errors to HTTP responses. action is the
// envelope message, e.g. "Erro ao emitir NFe".
func handleServiceError(w http.ResponseWriter, err error, action string, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var validation *domain.ErrValidation
	var credential *domain.ErrCredential
	var precondition *domain.ErrPrecondition
	var rejection *domain.ErrAuthorityRejection
	var asyncTimeout *domain.ErrAsyncTimeout
	var authorityStatus *domain.ErrAuthorityStatus
	var transport *domain.ErrAuthorityTransport
	var circuitOpen *domain.ErrCircuitOpen
	var external *domain.ErrExternalService
	var duplicate *domain.ErrDuplicate
	var forbidden *domain.ErrForbidden
	var unauthorized *domain.ErrUnauthorized

	switch {
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "Dados inválidos", fieldError{Field: validation.Field, Message: validation.Message})
	case errors.As(err, &credential):
		status := credentialStatus(credential.Reason)
		if status >= 500 {
			logger.Error("certificate error", zap.String("reason", string(credential.Reason)), zap.Error(err))
		} else {
			logger.Warn("certificate error", zap.String("reason", string(credential.Reason)), zap.String("error", err.Error()))
		}
		writeError(w, status, action, credential.Message)
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error(), nil)
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("error", err.Error()))
		writeError(w, http.StatusForbidden, action, err.Error())
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, action, err.Error())
	case errors.As(err, &duplicate):
		logger.Warn("duplicate resource", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, action, err.Error())
	case errors.As(err, &precondition):
		logger.Warn("precondition failed", zap.String("error", err.Error()))
		writeError(w, http.StatusUnprocessableEntity, action, precondition.Condition)
	case errors.As(err, &rejection):
		logger.Warn("authority rejection", zap.Int("cstat", rejection.Code), zap.String("xmotivo", rejection.Message))
		writeError(w, http.StatusUnprocessableEntity, action, authorityError{Code: rejection.Code, Message: rejection.Message})
	case errors.As(err, &asyncTimeout):
		logger.Warn("batch still processing", zap.String("recibo", asyncTimeout.Receipt))
		writeError(w, http.StatusGatewayTimeout, action, authorityError{
			Code:    asyncTimeout.Code,
			Message: asyncTimeout.Message,
			Receipt: asyncTimeout.Receipt,
		})
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, action, err.Error())
	case errors.As(err, &authorityStatus):
		logger.Error("unexpected authority status", zap.Error(err))
		writeError(w, http.StatusBadGateway, action, authorityError{Code: authorityStatus.Code, Message: authorityStatus.Message})
	case errors.As(err, &transport), errors.As(err, &external):
		logger.Error("upstream failure", zap.Error(err))
		writeError(w, http.StatusBadGateway, action, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, action, "tempo limite excedido")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, action, "internal server error")
	}
}

func credentialStatus(reason domain.CredentialReason) int {
	switch reason {
	case domain.CredentialMissingFile:
		return http.StatusNotFound
	case domain.CredentialExpired, domain.CredentialNotYetValid:
		return http.StatusUnprocessableEntity
	case domain.CredentialStorageFailure, domain.CredentialPasswordUnsealed:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}
