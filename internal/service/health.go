package service

import (
	"context"
	"crypto"
	"runtime"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"

	"golang.org/x/sync/errgroup"
)

// Probe is one readiness check.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthService answers liveness and readiness.
type HealthService struct {
	service string
	version string
	probes  []Probe
	timeout time.Duration
}

// NewHealthService creates the health service. Each probe gets timeout.
func NewHealthService(service, version string, timeout time.Duration, probes ...Probe) *HealthService {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthService{service: service, version: version, probes: probes, timeout: timeout}
}

// Health reports the process and the crypto primitives signing depends on.
func (h *HealthService) Health() domain.HealthStatus {
	caps := map[string]bool{
		"sha1":    crypto.SHA1.Available(),
		"sha256":  crypto.SHA256.Available(),
		"xmldsig": true,
		"pkcs12":  true,
	}
	status := "healthy"
	if !caps["sha1"] || !caps["sha256"] {
		status = "degraded"
	}
	return domain.HealthStatus{
		Status:       status,
		Service:      h.service,
		Version:      h.version,
		Timestamp:    time.Now().Format(time.RFC3339),
		GoVersion:    runtime.Version(),
		Capabilities: caps,
	}
}

// Ready runs every probe concurrently.
func (h *HealthService) Ready(ctx context.Context) domain.ReadinessStatus {
	results := make([]domain.ComponentHealth, len(h.probes))

	g, gCtx := errgroup.WithContext(ctx)
	for i, p := range h.probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gCtx, h.timeout)
			defer cancel()

			start := time.Now()
			err := p.Check(pctx)
			res := domain.ComponentHealth{
				Name:      p.Name,
				Status:    "up",
				LatencyMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				res.Status = "down"
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()

	status := "ready"
	for _, r := range results {
		if r.Status != "up" {
			status = "not_ready"
			break
		}
	}
	return domain.ReadinessStatus{Status: status, Components: results}
}
