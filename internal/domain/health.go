package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual service.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// SessionMetrics is returned by GET /v1/metrics/session.
type SessionMetrics struct {
	SignIns              int64   `json:"signIns"`
	SignOuts             int64   `json:"signOuts"`
	TokenRefreshes       int64   `json:"tokenRefreshes"`
	ProfileLookups       int64   `json:"profileLookups"`
	ProfileLookupErrors  int64   `json:"profileLookupErrors"`
	ProfileNotFound      int64   `json:"profileNotFound"`
	StaleResolutions     int64   `json:"staleResolutions"`
	ProfileErrorRate     float64 `json:"profileErrorRate"`
	OverviewCacheHitRate float64 `json:"overviewCacheHitRate"`
	Period               string  `json:"period"`
}

// ============================================================
// Generic API Response wrappers
// ============================================================

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}
