package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/certificate/certtest"
	"github.com/boddenberg/livefy-nfe-go/internal/config"
	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/service"
)

func run(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{DefaultEnvironment: 2}
	}
	root := RootCommand(cfg)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCertInspect(t *testing.T) {
	fx := certtest.New(t, certtest.Options{})
	path := filepath.Join(t.TempDir(), "loja.pfx")
	if err := os.WriteFile(path, fx.PFX, 0o600); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	out, err := run(t, nil, "cert", "inspect", path, "--password", fx.Password)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	var summary domain.CertificateSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("expected JSON summary, got %q: %v", out, err)
	}
	if summary.CNPJ != "12345678000195" || !summary.Valid {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestCertInspect_WrongPassword(t *testing.T) {
	fx := certtest.New(t, certtest.Options{})
	path := filepath.Join(t.TempDir(), "loja.pfx")
	os.WriteFile(path, fx.PFX, 0o600)

	if _, err := run(t, nil, "cert", "inspect", path, "--password", "errada"); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestCertInspect_BadExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loja.txt")
	os.WriteFile(path, []byte("x"), 0o600)

	if _, err := run(t, nil, "cert", "inspect", path, "--password", "x"); err == nil {
		t.Fatal("expected error for .txt container")
	}
}

func TestSchemaPrint(t *testing.T) {
	out, err := run(t, nil, "schema", "print")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, table := range []string{"fiscal_data", "notas_fiscais", "eventos_fiscais"} {
		if !strings.Contains(out, table) {
			t.Errorf("expected schema to mention %s", table)
		}
	}
}

func TestSchemaApply_RequiresDSN(t *testing.T) {
	if _, err := run(t, nil, "schema", "apply"); err == nil {
		t.Fatal("expected error without --db")
	}
}

func TestTokenIssue(t *testing.T) {
	cfg := &config.Config{APITokenSecret: "cli-secret"}

	out, err := run(t, cfg, "token", "issue", "--subject", "loja-7", "--merchant", "7", "--ttl", "1h")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	claims, err := service.NewTokenService("cli-secret").Validate(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("expected issued token to validate, got %v", err)
	}
	if claims.Subject != "loja-7" || claims.MerchantID != 7 {
		t.Errorf("unexpected claims %+v", claims)
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > time.Hour {
		t.Errorf("expected expiry within 1h, got %v", claims.ExpiresAt)
	}
}

func TestTokenIssue_RequiresSubject(t *testing.T) {
	if _, err := run(t, &config.Config{APITokenSecret: "s"}, "token", "issue"); err == nil {
		t.Fatal("expected error without --subject")
	}
}

func TestEndpoints(t *testing.T) {
	out, err := run(t, nil, "endpoints", "--uf", "sp", "--ambiente", "2")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "autorizador: SP (homologacao)") {
		t.Errorf("unexpected header in %q", out)
	}
	if !strings.Contains(out, "https://homologacao.nfe.fazenda.sp.gov.br/ws/nfeautorizacao4.asmx") {
		t.Errorf("expected SP authorization URL in %q", out)
	}
}

func TestEndpoints_Overrides(t *testing.T) {
	cfg := &config.Config{
		DefaultEnvironment:     2,
		SEFAZEndpointOverrides: map[string]string{"NFeAutorizacao4": "http://localhost:9999/autorizacao"},
	}
	out, err := run(t, cfg, "endpoints", "--uf", "MG")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "http://localhost:9999/autorizacao") {
		t.Errorf("expected override in %q", out)
	}
}
