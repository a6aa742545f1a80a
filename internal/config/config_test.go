package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "SEFAZ_TIMEOUT", "NFE_AMBIENTE", "USE_SUPABASE", "NFE_RECORD_REJECTIONS"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.SEFAZTimeout != 30*time.Second {
		t.Errorf("expected 30s SEFAZ timeout, got %s", cfg.SEFAZTimeout)
	}
	if cfg.SEFAZPollDelay != 2*time.Second {
		t.Errorf("expected 2s poll delay, got %s", cfg.SEFAZPollDelay)
	}
	if cfg.DefaultEnvironment != 2 {
		t.Errorf("expected homologation default, got %d", cfg.DefaultEnvironment)
	}
	if cfg.UseSupabase {
		t.Error("expected postgres backend by default")
	}
	if !cfg.RecordRejections {
		t.Error("expected rejections to be recorded by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SEFAZ_TIMEOUT", "5s")
	t.Setenv("USE_SUPABASE", "true")
	t.Setenv("NFE_RECORD_REJECTIONS", "false")
	t.Setenv("MAX_RETRIES", "not-a-number")

	cfg := Load()
	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.SEFAZTimeout != 5*time.Second {
		t.Errorf("expected 5s, got %s", cfg.SEFAZTimeout)
	}
	if !cfg.UseSupabase {
		t.Error("expected supabase backend")
	}
	if cfg.RecordRejections {
		t.Error("expected rejections recording disabled")
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("invalid int must fall back to default, got %d", cfg.MaxRetries)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\n" +
		"export NFE_TEST_A=alpha\n" +
		"NFE_TEST_B=\"quoted # not a comment\"\n" +
		"NFE_TEST_C=value # trailing\n" +
		"NFE_TEST_KEEP=from-file\n" +
		"malformed line\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NFE_TEST_KEEP", "from-env")
	for _, k := range []string{"NFE_TEST_A", "NFE_TEST_B", "NFE_TEST_C"} {
		os.Unsetenv(k)
		k := k
		t.Cleanup(func() { os.Unsetenv(k) })
	}

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]string{
		"NFE_TEST_A":    "alpha",
		"NFE_TEST_B":    "quoted # not a comment",
		"NFE_TEST_C":    "value",
		"NFE_TEST_KEEP": "from-env",
	}
	for k, want := range cases {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: expected %q, got %q", k, want, got)
		}
	}
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_EndpointOverrides(t *testing.T) {
	t.Setenv("SEFAZ_AUTHORIZATION_URL", "https://sefaz.local/autorizacao")
	t.Setenv("SEFAZ_EVENT_URL", "")

	cfg := Load()
	if got := cfg.SEFAZEndpointOverrides["NFeAutorizacao4"]; got != "https://sefaz.local/autorizacao" {
		t.Errorf("expected authorization override, got %q", got)
	}
	if _, ok := cfg.SEFAZEndpointOverrides["NFeRecepcaoEvento4"]; ok {
		t.Error("expected empty variable to be ignored")
	}
}
