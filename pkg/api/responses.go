package api

import (
	"time"

	"github.com/hearthhq/hearth/pkg/events"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version"`
	Checks      map[string]HealthCheck `json:"checks"`
	Connections int                    `json:"connections"`
}

// HealthCheck is the status of one component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StatsResponse is returned by GET /api/v1/realtime/stats.
type StatsResponse struct {
	Hub           events.HubStats `json:"hub"`
	Fanout        string          `json:"fanout"`
	Rules         []string        `json:"rules"`
	UptimeSeconds int64           `json:"uptime_seconds"`
}

// AuditResponse is returned by GET /api/v1/realtime/audit.
type AuditResponse struct {
	Entries []AuditEntry `json:"entries"`
}

// AuditEntry is one audit record as exposed to a tenant.
type AuditEntry struct {
	Source    string         `json:"source"`
	Action    string         `json:"action"`
	SubjectID string         `json:"subject_id,omitempty"`
	EventType string         `json:"event_type,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// RunRuleResponse is returned by a manual scanner run.
type RunRuleResponse struct {
	Rule          string `json:"rule"`
	Matched       int    `json:"matched"`
	Emitted       int    `json:"emitted"`
	Skipped       int    `json:"skipped"`
	PublishErrors int    `json:"publish_errors"`
	Error         string `json:"error,omitempty"`
}
