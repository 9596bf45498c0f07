package e2e

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhq/hearth/pkg/audit"
	"github.com/hearthhq/hearth/pkg/client"
	"github.com/hearthhq/hearth/pkg/config"
	"github.com/hearthhq/hearth/pkg/events"
	"github.com/hearthhq/hearth/pkg/scanner"
	"github.com/hearthhq/hearth/pkg/subscriber"
	"github.com/hearthhq/hearth/test/e2e/testdata/configs"
)

// ────────────────────────────────────────────────────────────
// Scenario 1: Overdue review becomes a notification, once.
// ────────────────────────────────────────────────────────────

func TestE2E_OverdueReview(t *testing.T) {
	app := NewTestApp(t, WithConfig(configs.Load(t, "local")))
	tenant := UniqueTenant("acme")
	ws := app.Connect(t, app.Token(t, tenant, "u1", "member"))

	app.SeedReview(t, tenant, "rev-1", "Annual gas safety", time.Now().Add(-24*time.Hour))

	admin := app.Token(t, tenant, "admin", "admin")
	res := app.RunRule(t, admin, config.RuleOverdueReviews)
	require.Empty(t, res.Error)
	assert.Equal(t, 1, res.Emitted)

	evt, err := ws.WaitForEventType(events.TypeNotification, 5*time.Second)
	require.NoError(t, err)
	var p events.NotificationPayload
	require.NoError(t, evt.DecodeData(&p))
	assert.Equal(t, scanner.KindOverdueReview, p.Kind)
	assert.Equal(t, "rev-1", p.EntityID)
	assert.Contains(t, p.Message, "Annual gas safety")

	// The marker is set; the next pass finds nothing.
	res = app.RunRule(t, admin, config.RuleOverdueReviews)
	assert.Equal(t, 0, res.Matched)
	assert.Equal(t, 0, res.Emitted)

	trail := app.GetAudit(t, admin)
	require.NotEmpty(t, trail.Entries)
	assert.Equal(t, audit.ActionEventEmitted, trail.Entries[0].Action)
	assert.Equal(t, "scanner:"+config.RuleOverdueReviews, trail.Entries[0].Source)
	assert.Equal(t, "rev-1", trail.Entries[0].SubjectID)
}

// ────────────────────────────────────────────────────────────
// Scenario 2: Acknowledged incidents are never escalated.
// ────────────────────────────────────────────────────────────

func TestE2E_AcknowledgedIncidentNotEscalated(t *testing.T) {
	app := NewTestApp(t, WithConfig(configs.Load(t, "local")))
	tenant := UniqueTenant("acme")
	ws := app.Connect(t, app.Token(t, tenant, "u1", "member"))

	reported := time.Now().Add(-time.Hour)
	app.SeedIncident(t, tenant, "inc-ack", events.SeverityCritical, reported)
	app.SeedIncident(t, tenant, "inc-open", events.SeverityCritical, reported)
	app.SeedIncident(t, tenant, "inc-low", events.SeverityLow, reported)
	app.AcknowledgeIncident(t, "inc-ack")

	res := app.RunRule(t, app.Token(t, tenant, "admin", "admin"), config.RuleUnacknowledgedIncidents)
	assert.Equal(t, 1, res.Emitted)

	evt, err := ws.WaitForEventType(events.TypeIncidentAlert, 5*time.Second)
	require.NoError(t, err)
	var p events.IncidentAlertPayload
	require.NoError(t, evt.DecodeData(&p))
	assert.Equal(t, "inc-open", p.IncidentID)

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, ws.EventsByType(events.TypeIncidentAlert), 1)
}

// ────────────────────────────────────────────────────────────
// Scenario 3: Certificates expiring inside the horizon.
// ────────────────────────────────────────────────────────────

func TestE2E_ExpiringCertificate(t *testing.T) {
	app := NewTestApp(t, WithConfig(configs.Load(t, "local")))
	tenant := UniqueTenant("acme")
	ws := app.Connect(t, app.Token(t, tenant, "u1", "member"))

	app.SeedCertificate(t, tenant, "cert-soon", "EICR", time.Now().Add(10*24*time.Hour))
	app.SeedCertificate(t, tenant, "cert-later", "EPC", time.Now().Add(90*24*time.Hour))

	res := app.RunRule(t, app.Token(t, tenant, "admin", "admin"), config.RuleExpiringCertificates)
	assert.Equal(t, 1, res.Emitted)

	evt, err := ws.WaitForEventType(events.TypeNotification, 5*time.Second)
	require.NoError(t, err)
	var p events.NotificationPayload
	require.NoError(t, evt.DecodeData(&p))
	assert.Equal(t, scanner.KindCertificateExpiring, p.Kind)
	assert.Equal(t, "cert-soon", p.EntityID)
}

// ────────────────────────────────────────────────────────────
// Scenario 4: Rejected credentials.
// ────────────────────────────────────────────────────────────

func TestE2E_AuthRejected(t *testing.T) {
	app := NewTestApp(t, WithConfig(configs.Load(t, "local")))

	ws, err := WSConnect(context.Background(), app.WSURL, "not-a-jwt")
	require.NoError(t, err)
	defer ws.Close()

	code, err := ws.WaitForClose(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, code)
	assert.Len(t, ws.EventsByType(events.TypeError), 1)
	assert.Empty(t, ws.EventsByType(events.TypeConnectionEstablished))

	assert.Equal(t, 0, app.GetStats(t).Hub.Connections)
}

// ────────────────────────────────────────────────────────────
// Scenario 5: A Go client with subscriber adapters.
// ────────────────────────────────────────────────────────────

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []subscriber.Alert
}

func (r *recordingAlerter) Alert(a subscriber.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func TestE2E_ClientAdapters(t *testing.T) {
	app := NewTestApp(t, WithConfig(configs.Load(t, "local")))
	tenant := UniqueTenant("acme")

	clientCfg := config.DefaultClientConfig()
	clientCfg.URL = app.WSURL
	reg := client.NewRegistry(clientCfg, &client.WebSocketDialer{})
	t.Cleanup(reg.Close)

	id := client.Identity{Key: "u1", Token: app.Token(t, tenant, "u1", "member")}
	cache := subscriber.NewMemoryCache()
	cache.Set(subscriber.KeyIncidents, []string{"stale"})
	alerter := &recordingAlerter{}
	counter := subscriber.NewCounterAdapter(nil)
	subscriber.Register(reg, id,
		subscriber.NewInvalidationAdapter(cache),
		subscriber.NewAlertAdapter(alerter),
		counter,
	)

	require.NoError(t, reg.Connect(context.Background(), id))
	require.Equal(t, client.StatusConnected, reg.Status(id))
	require.Eventually(t, func() bool {
		return app.GetStats(t).Hub.Tenants[tenant] == 1
	}, 5*time.Second, 25*time.Millisecond)

	app.SeedIncident(t, tenant, "inc-fire", events.SeverityCritical, time.Now().Add(-time.Hour))
	app.RunRule(t, app.Token(t, tenant, "admin", "admin"), config.RuleUnacknowledgedIncidents)

	require.Eventually(t, func() bool { return alerter.count() == 1 }, 5*time.Second, 25*time.Millisecond)
	assert.Equal(t, int64(1), counter.Count())
	_, ok := cache.Get(subscriber.KeyIncidents)
	assert.False(t, ok, "incident list cache should be invalidated")

	reg.Disconnect(id)
	assert.Equal(t, client.StatusDisconnected, reg.Status(id))
}

func TestE2E_Health(t *testing.T) {
	app := NewTestApp(t, WithConfig(configs.Load(t, "local")))
	health := app.GetHealth(t)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "healthy", health.Checks["database"].Status)
}
