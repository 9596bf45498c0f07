package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hearthhq/hearth/pkg/api"
	"github.com/hearthhq/hearth/pkg/auth"
)

// ────────────────────────────────────────────────────────────
// Identity Helpers
// ────────────────────────────────────────────────────────────

// UniqueTenant returns a tenant ID no other test uses. NOTIFY channels are
// database-wide, so tests sharing the container must not share tenants.
func UniqueTenant(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// Token mints an access token the app's JWT provider accepts.
func (app *TestApp) Token(t *testing.T, tenantID, userID, role string) string {
	t.Helper()
	token, err := auth.IssueToken(app.Config.Auth.JWTSecret, app.Config.Auth.Issuer,
		auth.Identity{UserID: userID, TenantID: tenantID, Role: role}, time.Hour)
	require.NoError(t, err)
	return token
}

// Connect opens a raw channel and waits for connection_established.
func (app *TestApp) Connect(t *testing.T, token string) *WSClient {
	t.Helper()
	ws, err := WSConnect(context.Background(), app.WSURL, token)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	_, err = ws.WaitForEventType("connection_established", 5*time.Second)
	require.NoError(t, err)
	return ws
}

// ────────────────────────────────────────────────────────────
// HTTP Client Helpers
// ────────────────────────────────────────────────────────────

// RunRule triggers a scanner rule through the admin endpoint.
func (app *TestApp) RunRule(t *testing.T, adminToken, rule string) api.RunRuleResponse {
	t.Helper()
	var out api.RunRuleResponse
	app.doJSON(t, http.MethodPost, "/api/v1/realtime/scanner/rules/"+rule+"/run", adminToken, http.StatusOK, &out)
	return out
}

// TryRunRule is RunRule for use off the test goroutine.
func (app *TestApp) TryRunRule(adminToken, rule string) (api.RunRuleResponse, error) {
	var out api.RunRuleResponse
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
		app.BaseURL+"/api/v1/realtime/scanner/rules/"+rule+"/run", nil)
	if err != nil {
		return out, err
	}
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return out, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("run %s: unexpected status %d", rule, resp.StatusCode)
	}
	return out, json.NewDecoder(resp.Body).Decode(&out)
}

// GetAudit reads the caller's tenant audit trail.
func (app *TestApp) GetAudit(t *testing.T, token string) api.AuditResponse {
	t.Helper()
	var out api.AuditResponse
	app.doJSON(t, http.MethodGet, "/api/v1/realtime/audit", token, http.StatusOK, &out)
	return out
}

// GetStats calls GET /api/v1/realtime/stats.
func (app *TestApp) GetStats(t *testing.T) api.StatsResponse {
	t.Helper()
	var out api.StatsResponse
	app.doJSON(t, http.MethodGet, "/api/v1/realtime/stats", "", http.StatusOK, &out)
	return out
}

// GetHealth calls GET /health.
func (app *TestApp) GetHealth(t *testing.T) api.HealthResponse {
	t.Helper()
	var out api.HealthResponse
	app.doJSON(t, http.MethodGet, "/health", "", http.StatusOK, &out)
	return out
}

func (app *TestApp) doJSON(t *testing.T, method, path, token string, expectedStatus int, out any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "%s %s: unexpected status", method, path)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// ────────────────────────────────────────────────────────────
// Seed Helpers
// The main application owns these tables; tests insert rows the way it would.
// ────────────────────────────────────────────────────────────

// SeedIncident inserts an open, unacknowledged incident.
func (app *TestApp) SeedIncident(t *testing.T, tenantID, id, severity string, reportedAt time.Time) {
	t.Helper()
	app.insert(t, "incidents",
		[]string{"id", "tenant_id", "property_id", "title", "severity", "reported_at"},
		id, tenantID, "prop-1", "Fire alarm triggered", severity, reportedAt)
}

// AcknowledgeIncident marks an incident acknowledged.
func (app *TestApp) AcknowledgeIncident(t *testing.T, id string) {
	t.Helper()
	query, args := entsql.Dialect(dialect.Postgres).
		Update("incidents").
		Set("acknowledged_at", time.Now()).
		Where(entsql.EQ("id", id)).
		Query()
	_, err := app.DBClient.DB().ExecContext(context.Background(), query, args...)
	require.NoError(t, err)
}

// SeedReview inserts an incomplete property review.
func (app *TestApp) SeedReview(t *testing.T, tenantID, id, title string, dueAt time.Time) {
	t.Helper()
	app.insert(t, "property_reviews",
		[]string{"id", "tenant_id", "property_id", "title", "due_at"},
		id, tenantID, "prop-1", title, dueAt)
}

// SeedCertificate inserts a compliance certificate.
func (app *TestApp) SeedCertificate(t *testing.T, tenantID, id, kind string, expiresAt time.Time) {
	t.Helper()
	app.insert(t, "compliance_certificates",
		[]string{"id", "tenant_id", "property_id", "kind", "expires_at"},
		id, tenantID, "prop-1", kind, expiresAt)
}

func (app *TestApp) insert(t *testing.T, table string, columns []string, values ...any) {
	t.Helper()
	query, args := entsql.Dialect(dialect.Postgres).
		Insert(table).
		Columns(columns...).
		Values(values...).
		Query()
	_, err := app.DBClient.DB().ExecContext(context.Background(), query, args...)
	require.NoError(t, err)
}
