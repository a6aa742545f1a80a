package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/handler"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/observability"
	"github.com/boddenberg/livefy-nfe-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Stubs
// ============================================================

type stubEmitter struct {
	fn      func(req *domain.EmissionRequest) (*domain.EmissionResult, error)
	lastReq *domain.EmissionRequest
}

func (s *stubEmitter) Emit(_ context.Context, req *domain.EmissionRequest) (*domain.EmissionResult, error) {
	s.lastReq = req
	if s.fn != nil {
		return s.fn(req)
	}
	return &domain.EmissionResult{DocumentID: "nf-1", Number: 1, Series: "1", Status: "autorizada"}, nil
}

type stubEvents struct {
	err        error
	lastCancel *domain.CancelRequest
}

func (s *stubEvents) Consult(_ context.Context, req *domain.ConsultRequest) (*domain.ConsultResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.ConsultResult{AccessKey: req.AccessKey, Code: 100, Message: "Autorizado o uso da NF-e"}, nil
}

func (s *stubEvents) Cancel(_ context.Context, req *domain.CancelRequest) (*domain.EventResult, error) {
	s.lastCancel = req
	if s.err != nil {
		return nil, s.err
	}
	return &domain.EventResult{Code: 135, Message: "Evento registrado e vinculado a NF-e", Sequence: 1}, nil
}

func (s *stubEvents) Correct(_ context.Context, _ *domain.CorrectionRequest) (*domain.EventResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.EventResult{Code: 135, Sequence: 1}, nil
}

func (s *stubEvents) VoidRange(_ context.Context, _ *domain.VoidRangeRequest) (*domain.EventResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.EventResult{Code: 102, Message: "Inutilização de número homologado"}, nil
}

func (s *stubEvents) LookupRegistry(_ context.Context, _ *domain.RegistryRequest) (*domain.RegistryResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.RegistryResult{Status: domain.AuthorityStatus{Code: 111}}, nil
}

type stubCertificates struct {
	err          error
	lastFile     string
	lastContent  []byte
	lastPassword string
	lastMerchant int64
}

func (s *stubCertificates) Validate(_ context.Context, fileName string, content []byte, password string) (*domain.CertificateSummary, error) {
	s.lastFile, s.lastContent, s.lastPassword = fileName, content, password
	if s.err != nil {
		return nil, s.err
	}
	return &domain.CertificateSummary{Configured: true, Valid: true, Name: "LOJA TESTE LTDA"}, nil
}

func (s *stubCertificates) Upload(_ context.Context, merchantID int64, fileName string, content []byte, password string) (*domain.CertificateUploadResult, error) {
	s.lastMerchant, s.lastFile, s.lastContent, s.lastPassword = merchantID, fileName, content, password
	if s.err != nil {
		return nil, s.err
	}
	return &domain.CertificateUploadResult{FileName: fileName, RemainingDays: 300}, nil
}

func (s *stubCertificates) Remove(_ context.Context, merchantID int64) error {
	s.lastMerchant = merchantID
	return s.err
}

func (s *stubCertificates) Info(_ context.Context, merchantID int64) (*domain.CertificateSummary, error) {
	s.lastMerchant = merchantID
	if s.err != nil {
		return nil, s.err
	}
	return &domain.CertificateSummary{Configured: true, Message: "Certificado configurado"}, nil
}

// ============================================================
// Helpers
// ============================================================

type fixture struct {
	emitter *stubEmitter
	events  *stubEvents
	certs   *stubCertificates
	tokens  *service.TokenService
	metrics *observability.Metrics
	router  http.Handler
}

func newFixture(t *testing.T, withAuth bool, probes ...service.Probe) *fixture {
	t.Helper()
	f := &fixture{
		emitter: &stubEmitter{},
		events:  &stubEvents{},
		certs:   &stubCertificates{},
		tokens:  service.NewTokenService("test-secret"),
		metrics: observability.NewMetrics(),
	}
	deps := handler.Deps{
		Emission:     f.emitter,
		Events:       f.events,
		Certificates: f.certs,
		Health:       service.NewHealthService("livefy-nfe", "test", time.Second, probes...),
		Metrics:      f.metrics,
	}
	if withAuth {
		deps.Tokens = f.tokens
	}
	f.router = handler.NewRouter(deps, zap.NewNop())
	return f
}

func (f *fixture) token(t *testing.T, merchantID int64) string {
	t.Helper()
	tok, err := f.tokens.Issue("integration", merchantID, time.Hour)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return tok
}

func doJSON(router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("expected JSON envelope, got %q: %v", rec.Body.String(), err)
	}
	return env
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, content []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("certificado", fileName)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		fw.Write(content)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

// ============================================================
// Operational endpoints
// ============================================================

func TestHealth(t *testing.T) {
	f := newFixture(t, true)

	for _, path := range []string{"/health", "/healthz"} {
		rec := doJSON(f.router, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		var status domain.HealthStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if status.Service != "livefy-nfe" || status.Status != "healthy" {
			t.Errorf("%s: unexpected health %+v", path, status)
		}
		if !status.Capabilities["sha1"] {
			t.Errorf("%s: expected sha1 capability", path)
		}
	}
}

func TestReadyz(t *testing.T) {
	f := newFixture(t, true, service.Probe{Name: "database", Check: func(context.Context) error { return nil }})

	rec := doJSON(f.router, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz_ProbeDown(t *testing.T) {
	f := newFixture(t, true, service.Probe{Name: "database", Check: func(context.Context) error {
		return errors.New("connection refused")
	}})

	rec := doJSON(f.router, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var status domain.ReadinessStatus
	json.Unmarshal(rec.Body.Bytes(), &status)
	if status.Status != "not_ready" || len(status.Components) != 1 || status.Components[0].Error == "" {
		t.Errorf("unexpected readiness %+v", status)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, true)
	f.metrics.IncrEmission("authorized")

	rec := doJSON(f.router, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "nfe_emissions_total") {
		t.Errorf("expected nfe metrics in exposition, got %q", rec.Body.String())
	}
}

func TestNFeMetricsSnapshot(t *testing.T) {
	f := newFixture(t, false)
	f.metrics.IncrEmission("authorized")
	f.metrics.IncrEmission("rejected")

	rec := doJSON(f.router, http.MethodGet, "/v1/nfe/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	var snap domain.EmissionMetrics
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if snap.Authorized != 1 || snap.Rejected != 1 || snap.RejectionRate != 0.5 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

// ============================================================
// Authentication
// ============================================================

func TestAuth_MissingToken(t *testing.T) {
	f := newFixture(t, true)

	rec := doJSON(f.router, http.MethodPost, "/v1/nfe/emitir", `{"sale_id":1}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Success || env.Message != "Unauthorized - Invalid API Token" {
		t.Errorf("unexpected envelope %+v", env)
	}
	if f.emitter.lastReq != nil {
		t.Error("expected emitter not to be called")
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	f := newFixture(t, true)

	rec := doJSON(f.router, http.MethodPost, "/v1/nfe/emitir", `{"sale_id":1}`, map[string]string{
		"X-API-Token": "not-a-token",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuth_BearerToken(t *testing.T) {
	f := newFixture(t, true)

	rec := doJSON(f.router, http.MethodPost, "/v1/nfe/emitir", `{"sale_id":10,"nota_config":{"natureza":"Venda","cfop":"5102"}}`, map[string]string{
		"Authorization": "Bearer " + f.token(t, 0),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.emitter.lastReq.MerchantID != 0 {
		t.Errorf("expected unscoped emission, got merchant %d", f.emitter.lastReq.MerchantID)
	}
}

func TestAuth_ScopedTokenForcesMerchant(t *testing.T) {
	f := newFixture(t, true)

	rec := doJSON(f.router, http.MethodPost, "/v1/nfe/emitir", `{"sale_id":10,"nota_config":{"natureza":"Venda","cfop":"5102"}}`, map[string]string{
		"X-API-Token": f.token(t, 7),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if f.emitter.lastReq.MerchantID != 7 {
		t.Errorf("expected merchant 7, got %d", f.emitter.lastReq.MerchantID)
	}
}

func TestAuth_ScopedTokenOtherMerchant(t *testing.T) {
	f := newFixture(t, true)

	body := `{"user_id":8,"chave":"35240112345678000195550010000000011000000011","protocolo":"135240000000001","motivo":"Cancelamento por erro de digitação"}`
	rec := doJSON(f.router, http.MethodPost, "/v1/nfe/cancelar", body, map[string]string{
		"X-API-Token": f.token(t, 7),
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if f.events.lastCancel != nil {
		t.Error("expected cancel not to be called")
	}
}

func TestAuth_OperationalRoutesArePublic(t *testing.T) {
	f := newFixture(t, true)

	for _, path := range []string{"/health", "/readyz", "/metrics", "/ping"} {
		rec := doJSON(f.router, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

// ============================================================
// NFe routes
// ============================================================

func TestEmit_Success(t *testing.T) {
	f := newFixture(t, false)
	f.emitter.fn = func(req *domain.EmissionRequest) (*domain.EmissionResult, error) {
		return &domain.EmissionResult{
			DocumentID: "nf-9",
			AccessKey:  "35240112345678000195550010000000091000000091",
			Protocol:   "135240000000009",
			Number:     9,
			Series:     "1",
			Status:     "autorizada",
		}, nil
	}

	rec := doJSON(f.router, http.MethodPost, "/v1/nfe/emitir", `{"sale_id":42,"nota_config":{"natureza":"Venda","cfop":"5102","numero":9}}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if !env.Success || env.Message != "NFe emitida com sucesso" {
		t.Errorf("unexpected envelope %+v", env)
	}
	var result domain.EmissionResult
	json.Unmarshal(env.Data, &result)
	if result.Number != 9 || result.Protocol != "135240000000009" {
		t.Errorf("unexpected result %+v", result)
	}
	if f.emitter.lastReq.SaleID != 42 || *f.emitter.lastReq.Config.Number != 9 {
		t.Errorf("unexpected request %+v", f.emitter.lastReq)
	}
}

func TestEmit_InvalidJSON(t *testing.T) {
	f := newFixture(t, false)

	rec := doJSON(f.router, http.MethodPost, "/v1/nfe/emitir", `{"sale_id":`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Message != "Dados inválidos" || !strings.Contains(string(env.Error), `"campo":"body"`) {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestEmit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"validation", &domain.ErrValidation{Field: "sale_id", Message: "obrigatório"}, http.StatusBadRequest, `"campo":"sale_id"`},
		{"not found", &domain.ErrNotFound{Resource: "venda", ID: "42"}, http.StatusNotFound, "venda"},
		{"forbidden", &domain.ErrForbidden{Action: "emitir"}, http.StatusForbidden, ""},
		{"precondition", &domain.ErrPrecondition{Condition: "Venda não está paga"}, http.StatusUnprocessableEntity, "Venda não está paga"},
		{"rejection", &domain.ErrAuthorityRejection{Code: 539, Message: "Duplicidade de NF-e"}, http.StatusUnprocessableEntity, `"cstat":539`},
		{"async timeout", &domain.ErrAsyncTimeout{Receipt: "351000000000001", Code: 105, Message: "Lote em processamento"}, http.StatusGatewayTimeout, `"recibo":"351000000000001"`},
		{"circuit open", &domain.ErrCircuitOpen{Service: "sefaz"}, http.StatusServiceUnavailable, ""},
		{"authority status", &domain.ErrAuthorityStatus{Operation: "autorizacao", Code: 999, Message: "?"}, http.StatusBadGateway, `"cstat":999`},
		{"transport", &domain.ErrAuthorityTransport{Operation: "autorizacao", Err: errors.New("tls handshake")}, http.StatusBadGateway, ""},
		{"external", &domain.ErrExternalService{Service: "supabase/sales", Err: errors.New("boom")}, http.StatusBadGateway, ""},
		{"duplicate", &domain.ErrDuplicate{Key: "NFe 1/42"}, http.StatusConflict, ""},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "tempo limite excedido"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.emitter.fn = func(*domain.EmissionRequest) (*domain.EmissionResult, error) { return nil, tt.err }

			rec := doJSON(f.router, http.MethodPost, "/v1/nfe/emitir", `{"sale_id":42}`, nil)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			env := decodeEnvelope(t, rec)
			if env.Success {
				t.Error("expected success=false")
			}
			if tt.detail != "" && !strings.Contains(string(env.Error), tt.detail) {
				t.Errorf("expected error detail to contain %q, got %s", tt.detail, env.Error)
			}
		})
	}
}

func TestEventRoutes(t *testing.T) {
	key := "35240112345678000195550010000000011000000011"
	tests := []struct {
		path    string
		body    string
		message string
	}{
		{"/v1/nfe/consultar", `{"user_id":1,"chave":"` + key + `"}`, ""},
		{"/v1/nfe/cancelar", `{"user_id":1,"chave":"` + key + `","protocolo":"135240000000001","motivo":"Cancelamento por erro de digitação"}`, "NFe cancelada com sucesso"},
		{"/v1/nfe/corrigir", `{"user_id":1,"chave":"` + key + `","correcao":"Correção do endereço do destinatário"}`, "Carta de correção registrada com sucesso"},
		{"/v1/nfe/inutilizar", `{"user_id":1,"serie":"1","numero_inicial":5,"numero_final":7,"justificativa":"Numeração pulada por falha"}`, "Numeração inutilizada com sucesso"},
		{"/v1/cadastro/consultar", `{"user_id":1,"uf":"SP","cnpj":"12345678000195"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f := newFixture(t, false)
			rec := doJSON(f.router, http.MethodPost, tt.path, tt.body, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			env := decodeEnvelope(t, rec)
			if !env.Success || env.Message != tt.message {
				t.Errorf("unexpected envelope %+v", env)
			}
		})
	}
}

func TestCancel_Rejected(t *testing.T) {
	f := newFixture(t, false)
	f.events.err = &domain.ErrAuthorityRejection{Code: 501, Message: "Prazo de cancelamento superior ao previsto"}

	rec := doJSON(f.router, http.MethodPost, "/v1/nfe/cancelar", `{"user_id":1}`, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Message != "Erro ao cancelar NFe" || !strings.Contains(string(env.Error), `"cstat":501`) {
		t.Errorf("unexpected envelope %+v", env)
	}
}

// ============================================================
// Certificate routes
// ============================================================

func TestUploadCertificate(t *testing.T) {
	f := newFixture(t, false)
	body, ct := multipartBody(t, map[string]string{"user_id": "3", "senha": "1234"}, "loja.pfx", []byte("pfx-bytes"))

	req := httptest.NewRequest(http.MethodPost, "/v1/certificado/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.certs.lastMerchant != 3 || f.certs.lastFile != "loja.pfx" || f.certs.lastPassword != "1234" {
		t.Errorf("unexpected upload call: merchant=%d file=%q password=%q", f.certs.lastMerchant, f.certs.lastFile, f.certs.lastPassword)
	}
	if string(f.certs.lastContent) != "pfx-bytes" {
		t.Errorf("unexpected content %q", f.certs.lastContent)
	}
	env := decodeEnvelope(t, rec)
	if env.Message != "Certificado digital salvo com sucesso" {
		t.Errorf("unexpected message %q", env.Message)
	}
}

func TestUploadCertificate_MissingFile(t *testing.T) {
	f := newFixture(t, false)
	body, ct := multipartBody(t, map[string]string{"user_id": "3", "senha": "1234"}, "", nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/certificado/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if f.certs.lastFile != "" {
		t.Error("expected service not to be called")
	}
}

func TestUploadCertificate_ScopedTokenOtherMerchant(t *testing.T) {
	f := newFixture(t, true)
	body, ct := multipartBody(t, map[string]string{"user_id": "3", "senha": "1234"}, "loja.pfx", []byte("pfx"))

	req := httptest.NewRequest(http.MethodPost, "/v1/certificado/upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-API-Token", f.token(t, 4))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestValidateCertificate_CredentialErrors(t *testing.T) {
	tests := []struct {
		reason domain.CredentialReason
		status int
	}{
		{domain.CredentialWrongPassword, http.StatusBadRequest},
		{domain.CredentialBadExtension, http.StatusBadRequest},
		{domain.CredentialExpired, http.StatusUnprocessableEntity},
		{domain.CredentialMissingFile, http.StatusNotFound},
		{domain.CredentialStorageFailure, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			f := newFixture(t, false)
			f.certs.err = &domain.ErrCredential{Reason: tt.reason, Message: "falha no certificado"}
			body, ct := multipartBody(t, map[string]string{"senha": "x"}, "a.pfx", []byte("pfx"))

			req := httptest.NewRequest(http.MethodPost, "/v1/certificado/validar", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			env := decodeEnvelope(t, rec)
			if env.Message != "Erro ao validar certificado" || !strings.Contains(string(env.Error), "falha no certificado") {
				t.Errorf("unexpected envelope %+v", env)
			}
		})
	}
}

func TestValidateCertificate_MissingPassword(t *testing.T) {
	f := newFixture(t, false)
	body, ct := multipartBody(t, nil, "a.pfx", []byte("pfx"))

	req := httptest.NewRequest(http.MethodPost, "/v1/certificado/validar", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestRemoveCertificate(t *testing.T) {
	t.Run("query", func(t *testing.T) {
		f := newFixture(t, false)
		rec := doJSON(f.router, http.MethodDelete, "/v1/certificado/remover?user_id=5", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if f.certs.lastMerchant != 5 {
			t.Errorf("expected merchant 5, got %d", f.certs.lastMerchant)
		}
	})

	t.Run("json body", func(t *testing.T) {
		f := newFixture(t, false)
		rec := doJSON(f.router, http.MethodDelete, "/v1/certificado/remover", `{"user_id":6}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if f.certs.lastMerchant != 6 {
			t.Errorf("expected merchant 6, got %d", f.certs.lastMerchant)
		}
	})

	t.Run("missing merchant", func(t *testing.T) {
		f := newFixture(t, false)
		rec := doJSON(f.router, http.MethodDelete, "/v1/certificado/remover", "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestCertificateInfo(t *testing.T) {
	f := newFixture(t, false)

	rec := doJSON(f.router, http.MethodGet, "/v1/certificado/info?user_id=9", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Message != "Certificado configurado" {
		t.Errorf("unexpected message %q", env.Message)
	}
	if f.certs.lastMerchant != 9 {
		t.Errorf("expected merchant 9, got %d", f.certs.lastMerchant)
	}
}

func TestCertificateInfo_InvalidMerchant(t *testing.T) {
	f := newFixture(t, false)

	rec := doJSON(f.router, http.MethodGet, "/v1/certificado/info?user_id=abc", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
