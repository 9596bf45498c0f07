package subscriber

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhq/hearth/pkg/auth"
	"github.com/hearthhq/hearth/pkg/client"
	"github.com/hearthhq/hearth/pkg/config"
	"github.com/hearthhq/hearth/pkg/events"
)

// A critical incident broadcast to the tenant reaches the listener exactly
// once and raises exactly one alert.
func TestFireAlarmReachesListenerAndAlerter(t *testing.T) {
	hub := events.NewHub(config.DefaultHubConfig(), auth.StaticProvider{
		"tok-alice": {UserID: "alice", TenantID: "acme", Role: "manager"},
	}, nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		hub.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(server.Close)

	cfg := config.DefaultClientConfig()
	cfg.URL = "ws" + strings.TrimPrefix(server.URL, "http")
	reg := client.NewRegistry(cfg, &client.WebSocketDialer{})
	t.Cleanup(reg.Close)

	alice := client.Identity{Key: "alice", Token: "tok-alice"}
	var calls atomic.Int32
	reg.AddListener(alice, func(e events.Envelope) {
		if e.Type == events.TypeIncidentAlert {
			calls.Add(1)
		}
	})
	alerter := &recordingAlerter{}
	cache := NewMemoryCache()
	Register(reg, alice, NewAlertAdapter(alerter), NewInvalidationAdapter(cache))

	require.NoError(t, reg.Connect(t.Context(), alice))
	hub.Broadcast("acme", events.MustEnvelope(events.TypeIncidentAlert, events.IncidentAlertPayload{
		Severity: events.SeverityCritical,
		Title:    "Fire alarm",
	}))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return cache.Invalidations(KeyIncidents) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), calls.Load())
	alerter.mu.Lock()
	defer alerter.mu.Unlock()
	require.Len(t, alerter.alerts, 1)
	assert.Equal(t, "Fire alarm", alerter.alerts[0].Title)
}
