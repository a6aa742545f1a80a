package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/boddenberg/livefy-nfe-go/internal/certificate"
	"github.com/boddenberg/livefy-nfe-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Certificate Handlers
// ============================================================

// CertificateOperations manage merchants' A1 certificates.
type CertificateOperations interface {
	Validate(ctx context.Context, fileName string, content []byte, password string) (*domain.CertificateSummary, error)
	Upload(ctx context.Context, merchantID int64, fileName string, content []byte, password string) (*domain.CertificateUploadResult, error)
	Remove(ctx context.Context, merchantID int64) error
	Info(ctx context.Context, merchantID int64) (*domain.CertificateSummary, error)
}

// multipart overhead allowed on top of the container itself
const formOverhead = 1 << 20

// readContainer parses the multipart form and returns the "certificado" file.
func readContainer(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, certificate.MaxUploadSize+formOverhead)
	if err := r.ParseMultipartForm(2 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return "", nil, &domain.ErrCredential{Reason: domain.CredentialTooLarge, Message: "O arquivo não pode exceder 5MB"}
		}
		return "", nil, &domain.ErrValidation{Field: "certificado", Message: "formulário multipart inválido"}
	}

	file, header, err := r.FormFile("certificado")
	if err != nil {
		return "", nil, &domain.ErrValidation{Field: "certificado", Message: "O arquivo de certificado é obrigatório"}
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, certificate.MaxUploadSize+1))
	if err != nil {
		return "", nil, &domain.ErrValidation{Field: "certificado", Message: "falha ao ler o arquivo"}
	}
	return header.Filename, content, nil
}

func uploadCertificateHandler(svc CertificateOperations, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /certificado/upload")
		defer span.End()

		const action = "Erro ao salvar certificado"
		fileName, content, err := readContainer(w, r)
		if err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		merchantID, err := merchantParam(r)
		if err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		if err := authorizeMerchant(ctx, merchantID); err != nil {
			handleServiceError(w, err, action, logger)
			return
		}

		result, err := svc.Upload(ctx, merchantID, fileName, content, r.FormValue("senha"))
		if err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		writeSuccess(w, "Certificado digital salvo com sucesso", result)
	}
}

func validateCertificateHandler(svc CertificateOperations, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /certificado/validar")
		defer span.End()

		const action = "Erro ao validar certificado"
		fileName, content, err := readContainer(w, r)
		if err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		password := r.FormValue("senha")
		if password == "" {
			handleServiceError(w, &domain.ErrValidation{Field: "senha", Message: "obrigatório"}, action, logger)
			return
		}

		summary, err := svc.Validate(ctx, fileName, content, password)
		if err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		writeSuccess(w, "Certificado válido", summary)
	}
}

func removeCertificateHandler(svc CertificateOperations, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /certificado/remover")
		defer span.End()

		const action = "Erro ao remover certificado"
		merchantID, err := removalMerchant(w, r)
		if err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		if err := authorizeMerchant(ctx, merchantID); err != nil {
			handleServiceError(w, err, action, logger)
			return
		}

		if err := svc.Remove(ctx, merchantID); err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		writeSuccess(w, "Certificado removido com sucesso", nil)
	}
}

// removalMerchant accepts user_id in the query string or a JSON body.
func removalMerchant(w http.ResponseWriter, r *http.Request) (int64, error) {
	if r.URL.Query().Get("user_id") != "" {
		return merchantParam(r)
	}
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/json" {
		var body struct {
			MerchantID json.Number `json:"user_id"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			return 0, err
		}
		if id, err := strconv.ParseInt(body.MerchantID.String(), 10, 64); err == nil && id > 0 {
			return id, nil
		}
	}
	return 0, &domain.ErrValidation{Field: "user_id", Message: "user_id é obrigatório"}
}

func certificateInfoHandler(svc CertificateOperations, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /certificado/info")
		defer span.End()

		const action = "Erro ao buscar informações do certificado"
		merchantID, err := merchantParam(r)
		if err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		if err := authorizeMerchant(ctx, merchantID); err != nil {
			handleServiceError(w, err, action, logger)
			return
		}

		info, err := svc.Info(ctx, merchantID)
		if err != nil {
			handleServiceError(w, err, action, logger)
			return
		}
		writeSuccess(w, info.Message, info)
	}
}
