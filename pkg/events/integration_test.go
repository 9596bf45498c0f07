package events_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhq/hearth/pkg/audit"
	"github.com/hearthhq/hearth/pkg/auth"
	"github.com/hearthhq/hearth/pkg/config"
	"github.com/hearthhq/hearth/pkg/events"
	testdb "github.com/hearthhq/hearth/test/database"
	"github.com/hearthhq/hearth/test/util"
)

var replicaIdentities = auth.StaticProvider{
	"tok-alice": {UserID: "alice", TenantID: "acme", Role: "manager"},
	"tok-carol": {UserID: "carol", TenantID: "globex", Role: "manager"},
}

// replica is one process's hub plus its LISTEN connection.
type replica struct {
	hub      *events.Hub
	listener *events.NotifyListener
	server   *httptest.Server
}

func startReplica(t *testing.T, connStr string) *replica {
	t.Helper()

	hub := events.NewHub(config.DefaultHubConfig(), replicaIdentities, audit.Multi{})
	listener := events.NewNotifyListener(connStr, hub)
	require.NoError(t, listener.Start(context.Background()))
	hub.SetListener(listener)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		hub.HandleConnection(r.Context(), conn)
	}))

	t.Cleanup(func() {
		hub.Stop()
		server.Close()
		listener.Stop(context.Background())
	})
	return &replica{hub: hub, listener: listener, server: server}
}

func (r *replica) login(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+r.server.URL[len("http"):], nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	frame, err := events.MustEnvelope(events.TypeAuth, events.AuthPayload{Token: token}).Encode()
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, frame))

	env := read(t, conn)
	require.Equal(t, events.TypeConnectionEstablished, env.Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) events.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	env, err := events.Decode(data)
	require.NoError(t, err)
	return env
}

// An event published from any process reaches the tenant's members on every
// replica, and no other tenant's.
func TestCrossReplicaDelivery(t *testing.T) {
	util.SkipIfShort(t)
	db := testdb.NewTestDB(t)
	base := util.GetBaseConnectionString(t)

	a := startReplica(t, base)
	b := startReplica(t, base)

	aliceOnA := a.login(t, "tok-alice")
	aliceOnB := b.login(t, "tok-alice")
	carolOnB := b.login(t, "tok-carol")

	publisher := events.NewPostgresPublisher(db.NewClient(t).DB())
	env := events.MustEnvelope(events.TypeIncidentAlert, events.IncidentAlertPayload{
		Severity: events.SeverityCritical,
		Title:    "Fire alarm triggered",
	})
	require.NoError(t, publisher.Publish(context.Background(), "acme", env))

	for _, conn := range []*websocket.Conn{aliceOnA, aliceOnB} {
		got := read(t, conn)
		assert.Equal(t, events.TypeIncidentAlert, got.Type)
		var p events.IncidentAlertPayload
		require.NoError(t, got.DecodeData(&p))
		assert.Equal(t, "Fire alarm triggered", p.Title)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, _, err := carolOnB.Read(ctx)
	assert.Error(t, err, "globex member must not receive acme events")
}

func TestOversizedNotificationIsTruncated(t *testing.T) {
	util.SkipIfShort(t)
	db := testdb.NewTestDB(t)
	r := startReplica(t, util.GetBaseConnectionString(t))
	conn := r.login(t, "tok-alice")

	big := make(map[string]any)
	for i := range 400 {
		big[time.Duration(i).String()] = "a fairly long value that pads the payload well past the limit"
	}
	env := events.MustEnvelope(events.TypeNotification, events.NotificationPayload{
		Kind:    "bulk_import",
		Title:   "Import finished",
		Context: big,
	})

	publisher := events.NewPostgresPublisher(db.NewClient(t).DB())
	require.NoError(t, publisher.Publish(context.Background(), "acme", env))

	got := read(t, conn)
	assert.Equal(t, events.TypeNotification, got.Type)
	var data map[string]any
	require.NoError(t, got.DecodeData(&data))
	assert.Equal(t, true, data["truncated"])
}
