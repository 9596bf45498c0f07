// Package api serves the hub's WebSocket endpoint and its operational HTTP
// surface.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearthhq/hearth/pkg/auth"
	"github.com/hearthhq/hearth/pkg/config"
	"github.com/hearthhq/hearth/pkg/database"
	"github.com/hearthhq/hearth/pkg/events"
	"github.com/hearthhq/hearth/pkg/scanner"
)

// Server wires the gin router to the hub and its optional collaborators.
type Server struct {
	cfg        *config.Config
	engine     *gin.Engine
	httpServer *http.Server
	hub        *events.Hub
	identity   auth.IdentityProvider
	startedAt  time.Time

	dbClient   *database.Client     // nil when running without a database
	auditStore *database.AuditStore // nil when running without a database
	scanner    *scanner.Scanner     // nil when the scanner is disabled
}

// NewServer creates the server and registers its routes.
func NewServer(cfg *config.Config, hub *events.Hub, identity auth.IdentityProvider) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), securityHeaders())

	s := &Server{
		cfg:       cfg,
		engine:    engine,
		hub:       hub,
		identity:  identity,
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

// SetDatabase enables the database health check.
func (s *Server) SetDatabase(db *database.Client) {
	s.dbClient = db
}

// SetAuditStore enables the tenant audit endpoint.
func (s *Server) SetAuditStore(store *database.AuditStore) {
	s.auditStore = store
}

// SetScanner enables scanner rule listing and manual runs.
func (s *Server) SetScanner(sc *scanner.Scanner) {
	s.scanner = sc
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)
	s.engine.GET("/ws", s.wsHandler)

	v1 := s.engine.Group("/api/v1/realtime")
	v1.GET("/stats", s.statsHandler)

	authed := v1.Group("", s.requireIdentity())
	authed.GET("/audit", s.auditHandler)
	authed.POST("/scanner/rules/:name/run", requireRole(roleAdmin), s.runRuleHandler)
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves HTTP on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting new requests and waits for in-flight ones.
// Hijacked WebSocket connections are not tracked by http.Server; the hub
// closes them on Stop.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
