package events

// Severity levels carried by incident_alert payloads.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// IsHighSeverity reports whether an incident severity warrants an intrusive alert.
func IsHighSeverity(severity string) bool {
	return severity == SeverityHigh || severity == SeverityCritical
}

// AuthPayload is the data of the client's first frame.
type AuthPayload struct {
	Token string `json:"token"`
}

// EstablishedPayload is the data of connection_established.
type EstablishedPayload struct {
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId"`
	Role     string `json:"role"`
}

// ErrorPayload is the data of an error frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// UpdatePayload tells clients that an entity changed and cached reads of it are stale.
type UpdatePayload struct {
	Entity   string `json:"entity"`             // e.g. "properties", "tenancies", "repairs"
	EntityID string `json:"entityId,omitempty"` // empty means the whole collection
	Action   string `json:"action,omitempty"`   // created, updated, deleted
}

// NotificationPayload is a user-facing notice.
type NotificationPayload struct {
	Kind       string         `json:"kind"` // overdue_review, certificate_expiring, ...
	Title      string         `json:"title"`
	Message    string         `json:"message,omitempty"`
	EntityType string         `json:"entityType,omitempty"`
	EntityID   string         `json:"entityId,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// MetricChangePayload signals a dashboard metric moved.
type MetricChangePayload struct {
	Metric   string  `json:"metric"`
	Value    float64 `json:"value"`
	Previous float64 `json:"previous,omitempty"`
}

// IncidentAlertPayload describes an incident needing attention.
type IncidentAlertPayload struct {
	IncidentID string         `json:"incidentId,omitempty"`
	Severity   string         `json:"severity"`
	Title      string         `json:"title"`
	PropertyID string         `json:"propertyId,omitempty"`
	ReportedAt string         `json:"reportedAt,omitempty"` // RFC3339
	Escalated  bool           `json:"escalated,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}
