package supabase_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/resilience"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/supabase"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newClient(t *testing.T, h http.HandlerFunc) *supabase.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond}
	cb := resilience.NewCircuitBreaker("supabase-test", zap.NewNop())
	return supabase.NewClient(srv.Client(), srv.URL+"/", "anon", "service", cb, cfg, zap.NewNop())
}

func TestGetActiveFiscalProfile(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/fiscal_data" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("apikey") != "anon" || r.Header.Get("Authorization") != "Bearer service" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		q := r.URL.Query()
		if q.Get("user_id") != "eq.10" || q.Get("ativo") != "eq.true" {
			t.Errorf("unexpected filters %s", r.URL.RawQuery)
		}
		io.WriteString(w, `[{"id":7,"user_id":10,"cnpj":"12345678000195","razao_social":"JOIAS TESTE LTDA",
			"nome_fantasia":null,"regime_tributario":1,"uf":"SP","codigo_municipio":"3550308",
			"certificado_digital":null,"certificado_nome":"certificado_x.pfx","certificado_senha":"v1:abc",
			"certificado_validade_ate":"2027-01-01T00:00:00+00:00","ambiente_nfe":2,"serie_nfe":"1",
			"ativo":true,"updated_at":"2026-10-01T10:00:00.123456+00:00"}]`)
	})

	p, err := c.GetActiveFiscalProfile(context.Background(), 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.ID != 7 || p.Environment != domain.EnvironmentHomologation || p.CertificateFile != "certificado_x.pfx" {
		t.Errorf("unexpected profile %+v", p)
	}
	if p.HasLegacyCertificate {
		t.Error("null certificado_digital must not count as legacy certificate")
	}
	if p.CertificateValidUntil == nil || p.CertificateValidUntil.Year() != 2027 {
		t.Errorf("unexpected validity %v", p.CertificateValidUntil)
	}
}

func TestGetFiscalProfile_NotFound(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[]`)
	})

	_, err := c.GetFiscalProfile(context.Background(), 10)
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetSale(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/v1/sales":
			io.WriteString(w, `[{"id":555,"user_id":10,"total_amount":100,"discount_amount":null,
				"shipping_amount":15.5,"final_amount":115.5,"payment_status":"paid","payment_method":"pix",
				"created_at":"2026-10-14T12:00:00+00:00",
				"customer":{"id":3,"name":"Maria Silva","document":"12345678909"},
				"sale_items":[{"id":1,"product_id":99,"quantity":2,"unit_price":50,"product":{"sku":"ANEL-001","name":"Anel de prata"}}],
				"shippings":[{"shipping_address":{"street":"Av Paulista","number":"1000","city":"São Paulo","state":"SP","zip_code":"01310-100"}}]}]`)
		case "/rest/v1/shipping_addresses":
			if r.URL.Query().Get("customer_id") != "eq.3" {
				t.Errorf("unexpected filter %s", r.URL.RawQuery)
			}
			io.WriteString(w, `[{"street":"Rua B","number":"2","city":"Campinas","state":"SP","zip_code":"13010-000"}]`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	sale, err := c.GetSale(context.Background(), 555)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !sale.IsPaid() || !sale.FinalAmount.Equal(decimal.RequireFromString("115.5")) || !sale.DiscountAmount.IsZero() {
		t.Errorf("unexpected sale amounts %+v", sale)
	}
	if len(sale.Items) != 1 || sale.Items[0].SKU != "ANEL-001" || sale.Items[0].ProductName != "Anel de prata" {
		t.Errorf("unexpected items %+v", sale.Items)
	}
	if sale.ShippingAddress == nil || sale.ShippingAddress.Street != "Av Paulista" {
		t.Errorf("unexpected shipping address %+v", sale.ShippingAddress)
	}
	if len(sale.Customer.Addresses) != 1 || sale.Customer.Addresses[0].City != "Campinas" {
		t.Errorf("unexpected customer addresses %+v", sale.Customer.Addresses)
	}
}

func TestMaxNumber(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("tipo") != "eq.NFe" || q.Get("serie") != "eq.1" || q.Get("order") != "numero.desc" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("status") != "neq.rejeitada" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		io.WriteString(w, `[{"numero":41}]`)
	})

	n, err := c.MaxNumber(context.Background(), 10, domain.DocumentNFe, "1")
	if err != nil || n != 41 {
		t.Fatalf("expected 41, got %d, %v", n, err)
	}
}

func TestCreateIssuedDocument(t *testing.T) {
	var got map[string]any
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Prefer") != "return=representation" {
			t.Errorf("unexpected request %s %v", r.Method, r.Header)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `[{}]`)
	})

	doc := &domain.IssuedDocument{
		ID: "6f1c9a52-0000-4000-8000-000000000001", MerchantID: 10, Type: domain.DocumentNFe,
		Number: 42, Series: "1", AccessKey: "35261012345678000195550010000000421123456784",
		Status: domain.StatusAuthorized, TotalAmount: decimal.NewFromInt(100),
	}
	if _, err := c.CreateIssuedDocument(context.Background(), doc); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got["chave_acesso"] != doc.AccessKey || got["status"] != "autorizada" {
		t.Errorf("unexpected body %v", got)
	}
	if items, ok := got["itens_json"].([]any); !ok || len(items) != 0 {
		t.Errorf("expected empty items array, got %v", got["itens_json"])
	}
}

func TestCreateIssuedDocument_Conflict(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"code":"23505","message":"duplicate key value violates unique constraint \"uq_notas_fiscais_numero\""}`)
	})

	_, err := c.CreateIssuedDocument(context.Background(), &domain.IssuedDocument{Type: domain.DocumentNFe, Series: "1", Number: 42})
	var dup *domain.ErrDuplicate
	if !errors.As(err, &dup) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("conflicts must not be retried, got %d calls", calls.Load())
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `[{"id":"a"},{"id":"b"}]`)
	})

	n, err := c.CountEvents(context.Background(), "35261012345678000195550010000000421123456784", domain.EventCorrection)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 events, got %d, %v", n, err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected one retry, got %d calls", calls.Load())
	}
}

func TestUpdateCertificate(t *testing.T) {
	var body map[string]any
	rows := `[{"id":7}]`
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Query().Get("id") != "eq.7" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.RawQuery)
		}
		body = nil
		json.NewDecoder(r.Body).Decode(&body)
		io.WriteString(w, rows)
	})

	if err := c.UpdateCertificate(context.Background(), 7, domain.CertificateUpdate{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, col := range []string{"certificado_nome", "certificado_senha", "certificado_validade_ate", "certificado_digital"} {
		if v, ok := body[col]; !ok || v != nil {
			t.Errorf("expected %s cleared, got %v", col, v)
		}
	}

	rows = `[]`
	err := c.UpdateCertificate(context.Background(), 7, domain.CertificateUpdate{FileName: "x.pfx", SealedPassword: "v1:s"})
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if body["certificado_nome"] != "x.pfx" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestClientErrorIsExternalService(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"message":"column does not exist"}`)
	})

	_, err := c.GetIssuedDocumentByKey(context.Background(), 10, "35261012345678000195550010000000421123456784")
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) || !strings.Contains(ext.Service, "notas_fiscais") {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
}
