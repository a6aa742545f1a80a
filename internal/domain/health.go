package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /health.
type HealthStatus struct {
	Status       string          `json:"status"`
	Service      string          `json:"service"`
	Version      string          `json:"version"`
	Timestamp    string          `json:"timestamp"`
	GoVersion    string          `json:"go_version"`
	Capabilities map[string]bool `json:"capabilities"`
}

// ReadinessStatus is returned by GET /readyz.
type ReadinessStatus struct {
	Status     string            `json:"status"` // ready, not_ready
	Components []ComponentHealth `json:"components"`
}

// ComponentHealth is the result of one readiness probe.
type ComponentHealth struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// EmissionMetrics is returned by GET /v1/nfe/metrics.
type EmissionMetrics struct {
	Authorized      int64   `json:"authorized"`
	Rejected        int64   `json:"rejected"`
	Pending         int64   `json:"pending"`
	Failed          int64   `json:"failed"`
	AuthorityCalls  int64   `json:"authorityCalls"`
	AuthorityErrors int64   `json:"authorityErrors"`
	RejectionRate   float64 `json:"rejectionRate"`
	CacheHitRate    float64 `json:"cacheHitRate"`
	Period          string  `json:"period"`
}
