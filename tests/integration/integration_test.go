package integration_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/certificate"
	"github.com/boddenberg/livefy-nfe-go/internal/certificate/certtest"
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

const merchantID = 10

// ============================================================
// In-memory store
// ============================================================

type memoryStore struct {
	mu      sync.Mutex
	sales   map[int64]*domain.Sale
	profile *domain.FiscalProfile
	docs    []*domain.IssuedDocument
	events  []*domain.FiscalEvent
}

func (m *memoryStore) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "venda", ID: fmt.Sprint(id)}
	}
	return s, nil
}

func (m *memoryStore) GetFiscalProfile(_ context.Context, id int64) (*domain.FiscalProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil || m.profile.MerchantID != id {
		return nil, &domain.ErrNotFound{Resource: "dados fiscais", ID: fmt.Sprint(id)}
	}
	p := *m.profile
	return &p, nil
}

func (m *memoryStore) GetActiveFiscalProfile(ctx context.Context, id int64) (*domain.FiscalProfile, error) {
	return m.GetFiscalProfile(ctx, id)
}

func (m *memoryStore) UpdateCertificate(_ context.Context, _ int64, upd domain.CertificateUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile.CertificateFile = upd.FileName
	m.profile.CertificatePassword = upd.SealedPassword
	m.profile.CertificateValidUntil = upd.ValidUntil
	return nil
}

func (m *memoryStore) MaxNumber(_ context.Context, merchant int64, docType domain.DocumentType, series string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, d := range m.docs {
		if d.MerchantID == merchant && d.Type == docType && d.Series == series && d.Status.HoldsNumber() && d.Number > max {
			max = d.Number
		}
	}
	return max, nil
}

func (m *memoryStore) CreateIssuedDocument(_ context.Context, doc *domain.IssuedDocument) (*domain.IssuedDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if doc.Status.HoldsNumber() && d.Status.HoldsNumber() &&
			d.MerchantID == doc.MerchantID && d.Type == doc.Type && d.Series == doc.Series && d.Number == doc.Number {
			return nil, &domain.ErrDuplicate{Key: fmt.Sprintf("NFe %s/%d", doc.Series, doc.Number)}
		}
	}
	stored := *doc
	stored.ID = fmt.Sprintf("nf-%d", len(m.docs)+1)
	m.docs = append(m.docs, &stored)
	return &stored, nil
}

func (m *memoryStore) GetIssuedDocumentByKey(_ context.Context, merchant int64, key string) (*domain.IssuedDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.MerchantID == merchant && d.AccessKey == key {
			return d, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "nota fiscal", ID: key}
}

func (m *memoryStore) CreateFiscalEvent(_ context.Context, ev *domain.FiscalEvent) (*domain.FiscalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return ev, nil
}

func (m *memoryStore) CountEvents(_ context.Context, key string, eventType domain.EventType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.AccessKey == key && ev.Type == eventType {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) Ping(context.Context) error { return nil }

// ============================================================
// Fake SEFAZ
// ============================================================

var (
	nfeKey   = regexp.MustCompile(`Id="NFe(\d{44})"`)
	eventKey = regexp.MustCompile(`<chNFe>(\d{44})</chNFe>`)
	eventTp  = regexp.MustCompile(`<tpEvento>(\d{6})</tpEvento>`)
	eventSeq = regexp.MustCompile(`<nSeqEvento>(\d+)</nSeqEvento>`)
)

func soap(service, inner string) string {
	return `<?xml version="1.0" encoding="utf-8"?><soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>` +
		`<nfeResultMsg xmlns="http://www.portalfiscal.inf.br/nfe/wsdl/` + service + `">` + inner + `</nfeResultMsg></soap:Body></soap:Envelope>`
}

func protNFe(key string) string {
	return `<protNFe versao="4.00"><infProt><tpAmb>2</tpAmb><verAplic>SP_NFE_PL009_V4</verAplic><chNFe>` + key + `</chNFe>` +
		`<dhRecbto>2026-10-14T12:00:02-03:00</dhRecbto><nProt>135260000000001</nProt><digVal>abc=</digVal>` +
		`<cStat>100</cStat><xMotivo>Autorizado o uso da NF-e</xMotivo></infProt></protNFe>`
}

type fakeSEFAZ struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeSEFAZ) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeSEFAZ) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls[r.URL.Path]++
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
	switch r.URL.Path {
	case "/autorizacao":
		key := string(nfeKey.FindSubmatch(body)[1])
		io.WriteString(w, soap("NFeAutorizacao4", `<retEnviNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00"><tpAmb>2</tpAmb>`+
			`<cStat>104</cStat><xMotivo>Lote processado</xMotivo>`+protNFe(key)+`</retEnviNFe>`))
	case "/protocolo":
		key := string(eventKey.FindSubmatch(body)[1])
		io.WriteString(w, soap("NFeConsultaProtocolo4", `<retConsSitNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00"><cStat>100</cStat>`+
			`<xMotivo>Autorizado o uso da NF-e</xMotivo><chNFe>`+key+`</chNFe>`+protNFe(key)+`</retConsSitNFe>`))
	case "/evento":
		key := string(eventKey.FindSubmatch(body)[1])
		tp := string(eventTp.FindSubmatch(body)[1])
		seq := string(eventSeq.FindSubmatch(body)[1])
		io.WriteString(w, soap("NFeRecepcaoEvento4", `<retEnvEvento xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.00"><idLote>1</idLote>`+
			`<cStat>128</cStat><xMotivo>Lote de Evento Processado</xMotivo><retEvento versao="1.00"><infEvento><cStat>135</cStat>`+
			`<xMotivo>Evento registrado e vinculado a NF-e</xMotivo><chNFe>`+key+`</chNFe><tpEvento>`+tp+`</tpEvento>`+
			`<nSeqEvento>`+seq+`</nSeqEvento><dhRegEvento>2026-10-14T13:00:00-03:00</dhRegEvento><nProt>135260000000002</nProt>`+
			`</infEvento></retEvento></retEnvEvento>`))
	default:
		http.Error(w, "unexpected service", http.StatusNotFound)
	}
}

// ============================================================
// Wiring
// ============================================================

type app struct {
	server *httptest.Server
	store  *memoryStore
	sefaz  *fakeSEFAZ
	token  string
}

func newApp(t *testing.T) *app {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	fake := &fakeSEFAZ{calls: map[string]int{}}
	authoritySrv := httptest.NewTLSServer(fake)
	t.Cleanup(authoritySrv.Close)

	endpoints, err := sefaz.LoadEndpoints("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	endpoints.WithOverrides(map[string]string{
		"NFeAutorizacao4":       authoritySrv.URL + "/autorizacao",
		"NFeRetAutorizacao4":    authoritySrv.URL + "/retautorizacao",
		"NFeRecepcaoEvento4":    authoritySrv.URL + "/evento",
		"NFeConsultaProtocolo4": authoritySrv.URL + "/protocolo",
		"NFeInutilizacao4":      authoritySrv.URL + "/inutilizacao",
		"CadConsultaCadastro4":  authoritySrv.URL + "/cadastro",
	})
	authority := sefaz.NewClient(
		endpoints,
		resilience.NewCircuitBreaker("sefaz-integration", logger),
		resilience.NewBulkhead(4),
		metrics,
		logger,
		sefaz.Options{
			Timeout: 5 * time.Second,
			RootCAs: authoritySrv.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs,
		},
	)
	t.Cleanup(authority.Close)

	store := &memoryStore{
		sales:   map[int64]*domain.Sale{555: paidSale()},
		profile: fiscalProfile(),
	}

	sealer, err := certificate.NewSealer("integration-key")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	credentialCache := cache.New[*domain.Credential](time.Minute)
	t.Cleanup(credentialCache.Close)
	certs := service.NewCertificateService(store, certificate.NewVault(t.TempDir()), sealer, credentialCache, metrics, logger)

	defaults := nfe.StandardDefaults()
	xmlSigner := signer.New()
	emission := service.NewEmissionService(
		store,
		store,
		certs,
		numbering.NewSequencer(store, logger),
		nfe.NewAssembler(defaults),
		xmlSigner,
		service.NewProtocolProcessor(authority, time.Millisecond, logger),
		service.NewEmissionRecorder(store, logger),
		service.EmissionOptions{RecordRejections: true},
		metrics,
		logger,
	)
	events := service.NewEventService(store, store, store, certs, nfe.NewEventBuilder(defaults), xmlSigner, authority,
		domain.EnvironmentHomologation, metrics, logger)

	tokens := service.NewTokenService("integration-secret")
	token, err := tokens.Issue("loja-10", merchantID, time.Hour)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	router := handler.NewRouter(handler.Deps{
		Emission:     emission,
		Events:       events,
		Certificates: certs,
		Health:       service.NewHealthService("livefy-nfe", "test", time.Second, service.Probe{Name: "store", Check: store.Ping}),
		Metrics:      metrics,
		Tokens:       tokens,
	}, logger)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &app{server: server, store: store, sefaz: fake, token: token}
}

func fiscalProfile() *domain.FiscalProfile {
	return &domain.FiscalProfile{
		ID:         7,
		MerchantID: merchantID,
		CNPJ:       "12.345.678/0001-95",
		LegalName:  "EMPRESA TESTE LTDA",
		TaxRegime:  domain.RegimeSimplesNacional,
		Address: domain.Address{
			Street:           "Rua Augusta",
			Number:           "100",
			Neighborhood:     "Consolação",
			City:             "São Paulo",
			State:            "SP",
			ZipCode:          "01305-000",
			MunicipalityCode: "3550308",
		},
		Environment: domain.EnvironmentHomologation,
		Active:      true,
	}
}

func paidSale() *domain.Sale {
	return &domain.Sale{
		ID:         555,
		MerchantID: merchantID,
		Customer: domain.Customer{
			Name:     "Maria Silva",
			Email:    "maria@example.com",
			Document: "123.456.789-09",
		},
		Items: []domain.SaleItem{{
			ID:          1,
			ProductID:   99,
			SKU:         "ANEL-001",
			ProductName: "Anel de prata",
			Quantity:    decimal.NewFromInt(2),
			UnitPrice:   decimal.RequireFromString("50.00"),
		}},
		TotalAmount:    decimal.RequireFromString("100.00"),
		FinalAmount:    decimal.RequireFromString("100.00"),
		PaymentStatus:  domain.PaymentStatusPaid,
		ShippingAddress: &domain.Address{
			Street: "Av Paulista", Number: "1000", Neighborhood: "Bela Vista",
			City: "São Paulo", State: "SP", ZipCode: "01310-100",
		},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func (a *app) do(t *testing.T, method, path string, body io.Reader, contentType string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, a.server.URL+path, body)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Token", a.token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.StatusCode, env
}

func (a *app) postJSON(t *testing.T, path string, payload any) (int, envelope) {
	t.Helper()
	b, _ := json.Marshal(payload)
	return a.do(t, http.MethodPost, path, bytes.NewReader(b), "application/json")
}

func (a *app) uploadCertificate(t *testing.T, fx *certtest.Fixture) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("user_id", fmt.Sprint(merchantID))
	mw.WriteField("senha", fx.Password)
	fw, _ := mw.CreateFormFile("certificado", "empresa.pfx")
	fw.Write(fx.PFX)
	mw.Close()

	status, env := a.do(t, http.MethodPost, "/v1/certificado/upload", &buf, mw.FormDataContentType())
	if status != http.StatusOK || !env.Success {
		t.Fatalf("upload: expected 200, got %d: %s %s", status, env.Message, env.Error)
	}
}

// ============================================================
// Tests
// ============================================================

// TestIntegration_FullFlow uploads a certificate, emits an NFe against a
// fake SEFAZ, queries it, cancels it and checks the ledger.
func TestIntegration_FullFlow(t *testing.T) {
	a := newApp(t)
	a.uploadCertificate(t, certtest.New(t, certtest.Options{}))

	// --- Certificate info ---
	status, env := a.do(t, http.MethodGet, fmt.Sprintf("/v1/certificado/info?user_id=%d", merchantID), nil, "")
	if status != http.StatusOK {
		t.Fatalf("info: expected 200, got %d", status)
	}
	var info domain.CertificateSummary
	json.Unmarshal(env.Data, &info)
	if !info.Configured || !info.Valid {
		t.Errorf("info: unexpected summary %+v", info)
	}

	// --- Emission ---
	status, env = a.postJSON(t, "/v1/nfe/emitir", map[string]any{
		"sale_id":     555,
		"nota_config": map[string]any{"natureza": "Venda de mercadoria", "cfop": "5102"},
	})
	if status != http.StatusOK {
		t.Fatalf("emit: expected 200, got %d: %s", status, env.Error)
	}
	var result domain.EmissionResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Number != 1 || result.Protocol != "135260000000001" || len(result.AccessKey) != 44 {
		t.Errorf("emit: unexpected result %+v", result)
	}
	proc, err := base64.StdEncoding.DecodeString(result.XML)
	if err != nil {
		t.Fatalf("expected base64 xml, got %v", err)
	}
	if !strings.Contains(string(proc), "<nfeProc") || !strings.Contains(string(proc), "<Signature") {
		t.Error("emit: expected the distribution document with signature")
	}

	if len(a.store.docs) != 1 || a.store.docs[0].Status != domain.StatusAuthorized {
		t.Fatalf("expected one authorized document in the ledger, got %+v", a.store.docs)
	}

	// --- Second emission takes the next number ---
	_, env = a.postJSON(t, "/v1/nfe/emitir", map[string]any{
		"sale_id":     555,
		"nota_config": map[string]any{"natureza": "Venda de mercadoria", "cfop": "5102"},
	})
	var second domain.EmissionResult
	json.Unmarshal(env.Data, &second)
	if second.Number != 2 {
		t.Errorf("expected second document to take number 2, got %d", second.Number)
	}

	// --- Consult ---
	status, env = a.postJSON(t, "/v1/nfe/consultar", map[string]any{"user_id": merchantID, "chave": result.AccessKey})
	if status != http.StatusOK {
		t.Fatalf("consult: expected 200, got %d: %s", status, env.Error)
	}
	var consult domain.ConsultResult
	json.Unmarshal(env.Data, &consult)
	if consult.Code != 100 || consult.Protocol != "135260000000001" {
		t.Errorf("consult: unexpected result %+v", consult)
	}

	// --- Cancel using the ledger protocol ---
	status, env = a.postJSON(t, "/v1/nfe/cancelar", map[string]any{
		"user_id": merchantID,
		"chave":   result.AccessKey,
		"motivo":  "Cancelamento por erro na digitação do pedido",
	})
	if status != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", status, env.Error)
	}
	var cancel domain.EventResult
	json.Unmarshal(env.Data, &cancel)
	if cancel.Code != 135 || cancel.Protocol != "135260000000002" {
		t.Errorf("cancel: unexpected result %+v", cancel)
	}
	if len(a.store.events) != 1 || a.store.events[0].Type != domain.EventCancellation {
		t.Errorf("expected one cancellation in the event ledger, got %+v", a.store.events)
	}

	if a.sefaz.count("/autorizacao") != 2 || a.sefaz.count("/evento") != 1 {
		t.Errorf("unexpected SEFAZ calls %v", a.sefaz.calls)
	}

	// --- Metrics snapshot ---
	status, env = a.do(t, http.MethodGet, "/v1/nfe/metrics", nil, "")
	if status != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", status)
	}
	var snap domain.EmissionMetrics
	json.Unmarshal(env.Data, &snap)
	if snap.Authorized != 2 {
		t.Errorf("expected 2 authorized emissions, got %+v", snap)
	}
}

func TestIntegration_EmitWithoutCertificate(t *testing.T) {
	a := newApp(t)

	status, env := a.postJSON(t, "/v1/nfe/emitir", map[string]any{
		"sale_id":     555,
		"nota_config": map[string]any{"natureza": "Venda de mercadoria", "cfop": "5102"},
	})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", status, env.Error)
	}
	if a.sefaz.count("/autorizacao") != 0 {
		t.Error("expected SEFAZ not to be called")
	}
	if len(a.store.docs) != 0 {
		t.Error("expected nothing recorded")
	}
}

func TestIntegration_UnknownSale(t *testing.T) {
	a := newApp(t)
	a.uploadCertificate(t, certtest.New(t, certtest.Options{}))

	status, _ := a.postJSON(t, "/v1/nfe/emitir", map[string]any{
		"sale_id":     999,
		"nota_config": map[string]any{"natureza": "Venda de mercadoria", "cfop": "5102"},
	})
	if status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}
}

func TestIntegration_RemoveCertificate(t *testing.T) {
	a := newApp(t)
	a.uploadCertificate(t, certtest.New(t, certtest.Options{}))

	status, env := a.do(t, http.MethodDelete, fmt.Sprintf("/v1/certificado/remover?user_id=%d", merchantID), nil, "")
	if status != http.StatusOK {
		t.Fatalf("remove: expected 200, got %d: %s", status, env.Error)
	}
	if a.store.profile.CertificateFile != "" {
		t.Errorf("expected certificate reference cleared, got %q", a.store.profile.CertificateFile)
	}

	_, env = a.do(t, http.MethodGet, fmt.Sprintf("/v1/certificado/info?user_id=%d", merchantID), nil, "")
	var info domain.CertificateSummary
	json.Unmarshal(env.Data, &info)
	if info.Configured {
		t.Errorf("expected no certificate configured, got %+v", info)
	}
}
