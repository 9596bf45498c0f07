package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhq/hearth/pkg/audit"
	"github.com/hearthhq/hearth/pkg/auth"
	"github.com/hearthhq/hearth/pkg/config"
	"github.com/hearthhq/hearth/pkg/database"
	"github.com/hearthhq/hearth/pkg/events"
	"github.com/hearthhq/hearth/pkg/scanner"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

var testIdentities = auth.StaticProvider{
	"user-token":  {UserID: "u1", TenantID: "acme", Role: "member"},
	"admin-token": {UserID: "u2", TenantID: "acme", Role: "admin"},
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Defaults()
	hub := events.NewHub(cfg.Hub, testIdentities, nil)
	return NewServer(cfg, hub, testIdentities)
}

func do(t *testing.T, s *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestSecurityHeaders(t *testing.T) {
	e := gin.New()
	e.Use(securityHeaders())
	e.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "camera=(), microphone=(), geolocation=()", rec.Header().Get("Permissions-Policy"))
}

func TestHealth(t *testing.T) {
	t.Run("without database", func(t *testing.T) {
		rec := do(t, newTestServer(t), http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[HealthResponse](t, rec)
		assert.Equal(t, healthStatusHealthy, body.Status)
		assert.NotEmpty(t, body.Version)
		assert.Contains(t, body.Checks, "hub")
		assert.NotContains(t, body.Checks, "database")
	})

	t.Run("database down", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		s := newTestServer(t)
		s.SetDatabase(database.NewClientFromDB(db))

		rec := do(t, s, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decodeBody[HealthResponse](t, rec)
		assert.Equal(t, healthStatusUnhealthy, body.Status)
		assert.Equal(t, "connection refused", body.Checks["database"].Message)
	})

	t.Run("database up", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectPing()

		s := newTestServer(t)
		s.SetDatabase(database.NewClientFromDB(db))

		rec := do(t, s, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, healthStatusHealthy, decodeBody[HealthResponse](t, rec).Checks["database"].Status)
	})
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, string, events.Envelope) error { return nil }

func oneRowRule() scanner.Rule {
	return scanner.Rule{
		Name:     "open_repairs",
		Schedule: "@hourly",
		Query: func(context.Context, time.Time) ([]scanner.Row, error) {
			return []scanner.Row{{ID: "r1", TenantID: "acme"}}, nil
		},
		Emit: func(row scanner.Row) (string, events.Envelope, error) {
			return row.TenantID, events.MustEnvelope(events.TypeMetricChange, events.MetricChangePayload{Metric: "open_repairs"}), nil
		},
	}
}

func TestStats(t *testing.T) {
	s := newTestServer(t)
	s.SetScanner(scanner.New([]scanner.Rule{oneRowRule()}, discardPublisher{}, nil))

	rec := do(t, s, http.MethodGet, "/api/v1/realtime/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[StatsResponse](t, rec)
	assert.Equal(t, config.FanoutLocal, body.Fanout)
	assert.Equal(t, []string{"open_repairs"}, body.Rules)
	assert.Equal(t, 0, body.Hub.Connections)
}

func TestAudit(t *testing.T) {
	t.Run("requires a valid bearer token", func(t *testing.T) {
		s := newTestServer(t)
		assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/v1/realtime/audit", "").Code)
		assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/v1/realtime/audit", "forged").Code)
	})

	t.Run("unavailable without a store", func(t *testing.T) {
		rec := do(t, newTestServer(t), http.MethodGet, "/api/v1/realtime/audit", "user-token")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("rejects a bad limit", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		s := newTestServer(t)
		s.SetAuditStore(database.NewAuditStore(db))

		rec := do(t, s, http.MethodGet, "/api/v1/realtime/audit?limit=0", "user-token")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("scoped to the caller's tenant", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
		mock.ExpectQuery(`SELECT .* FROM "audit_events" WHERE "tenant_id" = \$1 ORDER BY .* LIMIT 10`).
			WithArgs("acme").
			WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "source", "action", "subject_id", "event_type", "detail", "created_at"}).
				AddRow("acme", "scanner:unacknowledged_incidents", audit.ActionEventEmitted, "inc-1", "incident_alert", []byte(`{"published":true}`), at))

		s := newTestServer(t)
		s.SetAuditStore(database.NewAuditStore(db))

		rec := do(t, s, http.MethodGet, "/api/v1/realtime/audit?limit=10", "user-token")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody[AuditResponse](t, rec)
		require.Len(t, body.Entries, 1)
		assert.Equal(t, "inc-1", body.Entries[0].SubjectID)
		assert.Equal(t, true, body.Entries[0].Detail["published"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRunRule(t *testing.T) {
	s := newTestServer(t)
	s.SetScanner(scanner.New([]scanner.Rule{oneRowRule()}, discardPublisher{}, nil))

	assert.Equal(t, http.StatusForbidden,
		do(t, s, http.MethodPost, "/api/v1/realtime/scanner/rules/open_repairs/run", "user-token").Code)
	assert.Equal(t, http.StatusNotFound,
		do(t, s, http.MethodPost, "/api/v1/realtime/scanner/rules/missing/run", "admin-token").Code)

	rec := do(t, s, http.MethodPost, "/api/v1/realtime/scanner/rules/open_repairs/run", "admin-token")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[RunRuleResponse](t, rec)
	assert.Equal(t, 1, body.Matched)
	assert.Equal(t, 1, body.Emitted)
	assert.Empty(t, body.Error)
}

func TestRunRule_ScannerDisabled(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodPost, "/api/v1/realtime/scanner/rules/x/run", "admin-token")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebSocket(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	t.Run("authenticates through the hub", func(t *testing.T) {
		conn, _, err := websocket.Dial(t.Context(), wsURL, nil)
		require.NoError(t, err)
		defer conn.CloseNow()

		frame, err := events.MustEnvelope(events.TypeAuth, events.AuthPayload{Token: "user-token"}).Encode()
		require.NoError(t, err)
		require.NoError(t, conn.Write(t.Context(), websocket.MessageText, frame))

		_, data, err := conn.Read(t.Context())
		require.NoError(t, err)
		env, err := events.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, events.TypeConnectionEstablished, env.Type)
		assert.NotEmpty(t, env.ClientID)
	})

	t.Run("rejects a foreign origin", func(t *testing.T) {
		_, resp, err := websocket.Dial(t.Context(), wsURL, &websocket.DialOptions{
			HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
		})
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestShutdownBeforeStart(t *testing.T) {
	assert.NoError(t, newTestServer(t).Shutdown(t.Context()))
}
