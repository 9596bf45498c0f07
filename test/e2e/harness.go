// Package e2e provides end-to-end test infrastructure for a complete hearth
// process: database, hub, NOTIFY listener, scanner and HTTP server.
package e2e

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/hearthhq/hearth/pkg/api"
	"github.com/hearthhq/hearth/pkg/audit"
	"github.com/hearthhq/hearth/pkg/auth"
	"github.com/hearthhq/hearth/pkg/config"
	"github.com/hearthhq/hearth/pkg/database"
	"github.com/hearthhq/hearth/pkg/events"
	"github.com/hearthhq/hearth/pkg/scanner"
	testdb "github.com/hearthhq/hearth/test/database"
	"github.com/hearthhq/hearth/test/util"
)

// TestApp is one running hearth process.
type TestApp struct {
	Config   *config.Config
	DBClient *database.Client

	Hub            *events.Hub
	NotifyListener *events.NotifyListener // nil with local fanout
	Scanner        *scanner.Scanner
	AuditStore     *database.AuditStore
	Server         *api.Server

	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321/ws"

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	cfg      *config.Config
	dbClient *database.Client // injected DB client (for multi-replica tests)
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithDBClient injects a pre-created database client, skipping the default
// per-test schema creation. Used for multi-replica tests where multiple
// TestApp instances share the same database schema.
func WithDBClient(client *database.Client) TestAppOption {
	return func(c *testAppConfig) { c.dbClient = client }
}

// NewTestApp boots a hearth instance wired the way cmd/hearth wires it.
// The scanner is built but not started; tests trigger rules through the
// HTTP run endpoint so every pass is deterministic.
// Shutdown is registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	require.NotNil(t, tc.cfg, "WithConfig is required")

	// 1. Database
	dbClient := tc.dbClient
	if dbClient == nil {
		dbClient = testdb.NewTestClient(t)
	}
	auditStore := database.NewAuditStore(dbClient.DB())
	auditSink := audit.Multi{audit.NewLogSink(), auditStore}

	// 2. Hub
	identity := auth.NewJWTProvider(tc.cfg.Auth.JWTSecret, tc.cfg.Auth.Issuer)
	hub := events.NewHub(tc.cfg.Hub, identity, auditSink)
	ctx := context.Background()
	hub.Start(ctx)

	// 3. Fan-out
	var publisher scanner.Publisher = hub
	var notifyListener *events.NotifyListener
	if tc.cfg.Fanout == config.FanoutPostgres {
		// LISTEN/NOTIFY is database-wide, so the listener uses the base
		// connection string rather than the per-test schema.
		notifyListener = events.NewNotifyListener(util.GetBaseConnectionString(t), hub)
		require.NoError(t, notifyListener.Start(ctx))
		hub.SetListener(notifyListener)
		publisher = events.NewPostgresPublisher(dbClient.DB())
	}

	// 4. Scanner
	sc := scanner.New(
		scanner.DefaultRules(database.NewStore(dbClient.DB()), tc.cfg.Scanner),
		publisher,
		auditSink,
		scanner.WithRunTimeout(tc.cfg.Scanner.RunTimeout),
	)

	// 5. HTTP server
	server := api.NewServer(tc.cfg, hub, identity)
	server.SetDatabase(dbClient)
	server.SetAuditStore(auditStore)
	server.SetScanner(sc)
	ts := httptest.NewServer(server.Handler())

	app := &TestApp{
		Config:         tc.cfg,
		DBClient:       dbClient,
		Hub:            hub,
		NotifyListener: notifyListener,
		Scanner:        sc,
		AuditStore:     auditStore,
		Server:         server,
		BaseURL:        ts.URL,
		WSURL:          "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		t:              t,
	}

	// Register cleanup in reverse-creation order.
	t.Cleanup(func() {
		hub.Stop()
		ts.Close()
		if notifyListener != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			notifyListener.Stop(stopCtx)
		}
		// DB cleanup handled by testdb.NewTestClient / NewTestDB
	})

	return app
}
