package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port       int
	LogLevel   string
	AppVersion string

	// SEFAZ transport
	SEFAZTimeout            time.Duration
	SEFAZPollDelay          time.Duration
	SEFAZEndpointsFile      string // YAML overriding the embedded endpoint table
	SEFAZInsecureSkipVerify bool
	SEFAZEndpointOverrides  map[string]string // service name -> URL, applied to every state
	DefaultEnvironment      int // ambiente used when a profile has none
	RecordRejections        bool

	// Document defaults
	Timezone      string
	NFeAppVersion string // verProc
	NCMDefault    string
	ApproxTaxRate string

	// Resilience (store reads + SEFAZ bulkhead)
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache (parsed certificates)
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Storage backend
	DatabaseURL        string
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	UseSupabase        bool

	// Certificates
	CertStoragePath string
	CertPasswordKey string // secret the stored-password sealing key is derived from

	// API token (HS256 JWT sent in X-API-Token)
	APITokenSecret string
	AuthDisabled   bool
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:       getEnvInt("PORT", 8080),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		AppVersion: getEnv("APP_VERSION", "1.0.0"),

		SEFAZTimeout:            getEnvDuration("SEFAZ_TIMEOUT", 30*time.Second),
		SEFAZPollDelay:          getEnvDuration("SEFAZ_POLL_DELAY", 2*time.Second),
		SEFAZEndpointsFile:      getEnv("SEFAZ_ENDPOINTS_FILE", ""),
		SEFAZInsecureSkipVerify: getEnvBool("SEFAZ_INSECURE_SKIP_VERIFY", false),
		SEFAZEndpointOverrides:  endpointOverrides(),
		DefaultEnvironment:      getEnvInt("NFE_AMBIENTE", 2),
		RecordRejections:        getEnvBool("NFE_RECORD_REJECTIONS", true),

		Timezone:      getEnv("NFE_TIMEZONE", "America/Sao_Paulo"),
		NFeAppVersion: getEnv("NFE_APP_VERSION", "1.0"),
		NCMDefault:    getEnv("NFE_NCM_DEFAULT", "71131900"),
		ApproxTaxRate: getEnv("NFE_APPROX_TAX_RATE", "0.18"),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 20),

		CacheTTL: getEnvDuration("CACHE_TTL", 10*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		DatabaseURL:        getEnv("DATABASE_URL", ""),
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		UseSupabase:        getEnvBool("USE_SUPABASE", false),

		CertStoragePath: getEnv("CERT_STORAGE_PATH", "storage/certificados"),
		CertPasswordKey: getEnv("CERT_PASSWORD_KEY", "livefy-nfe-dev-key-change-me"),

		APITokenSecret: getEnv("API_TOKEN_SECRET", "livefy-nfe-dev-secret-change-me"),
		AuthDisabled:   getEnvBool("AUTH_DISABLED", false),
	}
}

// endpointOverrides reads the single-endpoint SEFAZ_*_URL variables.
func endpointOverrides() map[string]string {
	vars := map[string]string{
		"NFeAutorizacao4":       "SEFAZ_AUTHORIZATION_URL",
		"NFeRetAutorizacao4":    "SEFAZ_RET_AUTHORIZATION_URL",
		"NFeRecepcaoEvento4":    "SEFAZ_EVENT_URL",
		"NFeConsultaProtocolo4": "SEFAZ_PROTOCOL_URL",
		"NFeInutilizacao4":      "SEFAZ_VOID_URL",
		"CadConsultaCadastro4":  "SEFAZ_REGISTRY_URL",
	}
	out := make(map[string]string)
	for service, key := range vars {
		if v := os.Getenv(key); v != "" {
			out[service] = v
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
