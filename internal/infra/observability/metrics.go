package observability

import (
	"strconv"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the NFe API.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	emissions       *prometheus.CounterVec
	authorityCalls  *prometheus.CounterVec
	authorityStatus *prometheus.CounterVec
	authorityTime   *prometheus.HistogramVec
	certificateOps  *prometheus.CounterVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nfe_request_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		emissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfe_emissions_total",
				Help: "Emission attempts by final outcome.",
			},
			[]string{"outcome"},
		),
		authorityCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfe_sefaz_requests_total",
				Help: "SEFAZ web service calls by service and result.",
			},
			[]string{"service", "result"},
		),
		authorityStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfe_sefaz_status_total",
				Help: "cStat codes returned by SEFAZ.",
			},
			[]string{"cstat"},
		),
		authorityTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nfe_sefaz_request_duration_seconds",
				Help:    "Latency of SEFAZ web service calls.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"service"},
		),
		certificateOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfe_certificate_operations_total",
				Help: "Certificate operations by kind and result.",
			},
			[]string{"operation", "result"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfe_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfe_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfe_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrEmission counts an emission by outcome (authorized, rejected, pending, failed).
func (m *Metrics) IncrEmission(outcome string) {
	m.emissions.WithLabelValues(outcome).Inc()
}

// ObserveAuthorityCall records one SEFAZ round trip.
func (m *Metrics) ObserveAuthorityCall(service, result string, d time.Duration) {
	m.authorityCalls.WithLabelValues(service, result).Inc()
	m.authorityTime.WithLabelValues(service).Observe(d.Seconds())
}

// IncrAuthorityStatus counts a cStat returned by SEFAZ.
func (m *Metrics) IncrAuthorityStatus(code int) {
	m.authorityStatus.WithLabelValues(strconv.Itoa(code)).Inc()
}

// IncrCertificateOp counts a certificate operation.
func (m *Metrics) IncrCertificateOp(operation, result string) {
	m.certificateOps.WithLabelValues(operation, result).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// GetEmissionSnapshot returns cumulative emission counters for the
// GET /v1/nfe/metrics endpoint.
func (m *Metrics) GetEmissionSnapshot() *domain.EmissionMetrics {
	authorized := getCounterValue(m.emissions, "authorized")
	rejected := getCounterValue(m.emissions, "rejected")
	pending := getCounterValue(m.emissions, "pending")
	failed := getCounterValue(m.emissions, "failed")

	var calls, errs float64
	for _, svc := range authorityServiceLabels {
		calls += getCounterValue(m.authorityCalls, svc, "ok") + getCounterValue(m.authorityCalls, svc, "error")
		errs += getCounterValue(m.authorityCalls, svc, "error")
	}

	hits := getCounterValue(m.cacheHits, "certificate")
	misses := getCounterValue(m.cacheMisses, "certificate")

	rejectionRate := float64(0)
	if decided := authorized + rejected; decided > 0 {
		rejectionRate = rejected / decided
	}
	cacheHitRate := float64(0)
	if hits+misses > 0 {
		cacheHitRate = hits / (hits + misses)
	}

	return &domain.EmissionMetrics{
		Authorized:      int64(authorized),
		Rejected:        int64(rejected),
		Pending:         int64(pending),
		Failed:          int64(failed),
		AuthorityCalls:  int64(calls),
		AuthorityErrors: int64(errs),
		RejectionRate:   rejectionRate,
		CacheHitRate:    cacheHitRate,
		Period:          "all_time",
	}
}

// authorityServiceLabels mirrors the SEFAZ service names used as labels.
var authorityServiceLabels = []string{
	"NFeAutorizacao4",
	"NFeRetAutorizacao4",
	"NFeConsultaProtocolo4",
	"NFeRecepcaoEvento4",
	"NFeInutilizacao4",
	"CadConsultaCadastro4",
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
