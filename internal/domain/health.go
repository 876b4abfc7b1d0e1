package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// AssignmentMetrics is returned by GET /v1/metrics/assignment.
type AssignmentMetrics struct {
	Assigned           int64   `json:"assigned"`
	Unassigned         int64   `json:"unassigned"`
	Activations        int64   `json:"activations"`
	NoBorrower         int64   `json:"noBorrower"`
	ResolutionFailures int64   `json:"resolutionFailures"`
	RepairFailures     int64   `json:"repairFailures"`
	AssignmentRate     float64 `json:"assignmentRate"`
}
