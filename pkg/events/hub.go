package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/hearthhq/hearth/pkg/audit"
	"github.com/hearthhq/hearth/pkg/auth"
	"github.com/hearthhq/hearth/pkg/config"
	"github.com/hearthhq/hearth/pkg/telemetry"
)

var (
	// ErrAuthenticationFailed is returned when a credential is rejected or the
	// first frame is not an auth frame.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrAlreadyAuthenticated is returned for a second auth frame on a channel.
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")

	// ErrNotAuthenticated is returned when sending on a pending connection.
	ErrNotAuthenticated = errors.New("connection not authenticated")
)

// listenTimeout bounds how long a LISTEN command may block when the first
// member of a tenant joins.
const listenTimeout = 10 * time.Second

// Eviction reasons, used for logs and the evictions metric.
const (
	ReasonClosed      = "closed"
	ReasonAuthFailed  = "auth_failed"
	ReasonAuthTimeout = "auth_timeout"
	ReasonLiveness    = "liveness"
	ReasonWriteFailed = "write_failed"
	ReasonShutdown    = "shutdown"
)

// ChannelListener starts and stops cross-process delivery for a tenant
// channel. Implemented by NotifyListener.
type ChannelListener interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
}

// Hub owns every open channel in this process and relays envelopes to the
// members of a tenant.
type Hub struct {
	// Every accepted connection, pending or authenticated: id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Authenticated members per tenant: tenant_id → set of connection ids
	tenants  map[string]map[string]bool
	tenantMu sync.RWMutex

	listener   ChannelListener
	listenerMu sync.RWMutex

	// Serializes LISTEN/UNLISTEN so the membership check before an UNLISTEN
	// and the UNLISTEN itself are atomic with respect to a rejoin's LISTEN.
	listenMu sync.Mutex

	identity auth.IdentityProvider
	audit    audit.Sink
	cfg      *config.HubConfig
	metrics  *telemetry.Instruments

	generation atomic.Uint64

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// Connection is one physical channel. Identity fields are written once,
// before the connection is indexed under its tenant, and never change.
type Connection struct {
	ID          string
	Conn        *websocket.Conn
	UserID      string
	TenantID    string
	Role        string
	ConnectedAt time.Time

	generation    uint64
	lastActivity  atomic.Int64 // unix nanos
	authenticated atomic.Bool
	closed        atomic.Bool
	authTimer     *time.Timer
	evictOnce     sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// Authenticated reports whether the handshake completed.
func (c *Connection) Authenticated() bool {
	return c.authenticated.Load()
}

// LastActivityAt returns the time of the last inbound frame.
func (c *Connection) LastActivityAt() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) touch(now time.Time) {
	c.lastActivity.Store(now.UnixNano())
}

// NewHub creates a Hub. A nil sink records nothing.
func NewHub(cfg *config.HubConfig, identity auth.IdentityProvider, sink audit.Sink) *Hub {
	if cfg == nil {
		cfg = config.DefaultHubConfig()
	}
	if sink == nil {
		sink = audit.Multi{}
	}
	return &Hub{
		connections: make(map[string]*Connection),
		tenants:     make(map[string]map[string]bool),
		identity:    identity,
		audit:       sink,
		cfg:         cfg,
		metrics:     telemetry.Metrics(),
	}
}

// SetListener sets the NotifyListener for dynamic LISTEN/UNLISTEN.
// Called once during startup, before any connection is accepted.
func (h *Hub) SetListener(l ChannelListener) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listener = l
}

func (h *Hub) getListener() ChannelListener {
	h.listenerMu.RLock()
	defer h.listenerMu.RUnlock()
	return h.listener
}

// Accept registers an unauthenticated connection and arms its auth deadline.
// The connection is not a member of any tenant until Authenticate succeeds.
func (h *Hub) Accept(parentCtx context.Context, conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:         uuid.New().String(),
		Conn:       conn,
		generation: h.generation.Add(1),
		ctx:        ctx,
		cancel:     cancel,
	}
	c.touch(time.Now())

	h.mu.Lock()
	h.connections[c.ID] = c
	h.mu.Unlock()

	gen := c.generation
	c.authTimer = time.AfterFunc(h.cfg.AuthTimeout, func() {
		h.authDeadline(c.ID, gen)
	})
	return c
}

// authDeadline evicts the connection if it is still the same generation and
// has not completed the handshake.
func (h *Hub) authDeadline(id string, gen uint64) {
	h.mu.RLock()
	c, ok := h.connections[id]
	h.mu.RUnlock()
	if !ok || c.generation != gen || c.Authenticated() {
		return
	}
	slog.Warn("WebSocket auth deadline exceeded", "connection_id", id)
	h.recordAuthFailure(c, "auth timeout")
	h.Evict(c, ReasonAuthTimeout)
}

// Authenticate validates credential and, on success, indexes the connection
// under its tenant and replies connection_established. On failure an error
// frame is written and ErrAuthenticationFailed returned; the caller closes
// the transport.
func (h *Hub) Authenticate(ctx context.Context, c *Connection, credential string) error {
	if c.Authenticated() {
		h.sendError(c, "already authenticated")
		return ErrAlreadyAuthenticated
	}

	id, err := h.identity.Authenticate(ctx, credential)
	if err != nil {
		h.sendError(c, "authentication failed")
		h.recordAuthFailure(c, err.Error())
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	c.UserID = id.UserID
	c.TenantID = id.TenantID
	c.Role = id.Role
	c.ConnectedAt = time.Now()
	c.authTimer.Stop()
	c.authenticated.Store(true)

	h.join(c)
	if c.closed.Load() {
		// Evicted while authenticating; Evict may have missed the tenant index.
		h.leave(c)
		return fmt.Errorf("%w: connection closed during handshake", ErrAuthenticationFailed)
	}

	slog.Info("WebSocket client authenticated",
		"connection_id", c.ID, "user_id", c.UserID, "tenant_id", c.TenantID)

	env := MustEnvelope(TypeConnectionEstablished, EstablishedPayload{
		UserID:   c.UserID,
		TenantID: c.TenantID,
		Role:     c.Role,
	})
	env.ClientID = c.ID
	if err := h.send(c, env); err != nil {
		slog.Warn("Failed to send connection_established", "connection_id", c.ID, "error", err)
		h.Evict(c, ReasonWriteFailed)
	}
	return nil
}

func (h *Hub) recordAuthFailure(c *Connection, reason string) {
	h.metrics.HubAuthFailures.Add(context.Background(), 1)
	err := h.audit.Record(context.Background(), audit.Entry{
		Source:    "hub",
		Action:    audit.ActionAuthFailed,
		SubjectID: c.ID,
		Detail:    map[string]any{"reason": reason},
		CreatedAt: time.Now(),
	})
	if err != nil {
		slog.Error("Failed to record auth failure", "connection_id", c.ID, "error", err)
	}
}

// join adds c to its tenant and starts LISTEN when it is the first member.
// LISTEN is synchronous so the member receives cross-process events as soon
// as connection_established is sent.
func (h *Hub) join(c *Connection) {
	h.tenantMu.Lock()
	first := false
	if _, ok := h.tenants[c.TenantID]; !ok {
		h.tenants[c.TenantID] = make(map[string]bool)
		first = true
	}
	h.tenants[c.TenantID][c.ID] = true
	h.tenantMu.Unlock()
	h.metrics.HubConnections.Add(context.Background(), 1)

	if !first {
		return
	}
	l := h.getListener()
	if l == nil {
		return
	}
	h.listenMu.Lock()
	defer h.listenMu.Unlock()
	listenCtx, cancel := context.WithTimeout(context.Background(), listenTimeout)
	defer cancel()
	channel := TenantChannel(c.TenantID)
	if err := l.Subscribe(listenCtx, channel); err != nil {
		// Local broadcasts still reach the tenant; only cross-process delivery is lost.
		slog.Error("Failed to LISTEN on tenant channel", "channel", channel, "error", err)
	}
}

// leave removes c from its tenant. When the last member leaves, UNLISTEN runs
// in the background after re-checking that nobody rejoined meanwhile.
func (h *Hub) leave(c *Connection) {
	h.tenantMu.Lock()
	defer h.tenantMu.Unlock()

	members, ok := h.tenants[c.TenantID]
	if !ok || !members[c.ID] {
		return
	}
	delete(members, c.ID)
	h.metrics.HubConnections.Add(context.Background(), -1)
	if len(members) > 0 {
		return
	}
	delete(h.tenants, c.TenantID)

	l := h.getListener()
	if l == nil {
		return
	}
	tenantID := c.TenantID
	go func() {
		// A rejoin adds the member before taking listenMu, so it either
		// shows up here or LISTENs again after this UNLISTEN.
		h.listenMu.Lock()
		defer h.listenMu.Unlock()

		h.tenantMu.RLock()
		_, rejoined := h.tenants[tenantID]
		h.tenantMu.RUnlock()
		if rejoined {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), listenTimeout)
		defer cancel()
		if err := l.Unsubscribe(ctx, TenantChannel(tenantID)); err != nil {
			slog.Error("Failed to UNLISTEN tenant channel", "tenant_id", tenantID, "error", err)
		}
	}()
}

// Evict removes c from both indexes and closes its transport. Safe to call
// any number of times from any goroutine.
func (h *Hub) Evict(c *Connection, reason string) {
	c.evictOnce.Do(func() {
		c.closed.Store(true)
		if c.authTimer != nil {
			c.authTimer.Stop()
		}

		h.mu.Lock()
		delete(h.connections, c.ID)
		h.mu.Unlock()

		tenantID := ""
		if c.Authenticated() {
			tenantID = c.TenantID
			h.leave(c)
		}
		h.metrics.HubEvictions.Add(context.Background(), 1, telemetry.Attr("reason", reason))

		if reason != ReasonClosed {
			slog.Info("WebSocket connection evicted",
				"connection_id", c.ID, "tenant_id", tenantID, "reason", reason)
		}

		// Close before cancel: cancelling the context first would make the
		// library close with its own status code.
		go func() {
			_ = c.Conn.Close(closeStatus(reason), reason)
			c.cancel()
		}()
	})
}

func closeStatus(reason string) websocket.StatusCode {
	switch reason {
	case ReasonAuthFailed, ReasonAuthTimeout:
		return websocket.StatusPolicyViolation
	case ReasonClosed:
		return websocket.StatusNormalClosure
	default:
		return websocket.StatusGoingAway
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the HTTP handler after upgrade. Blocks until the connection closes.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	c := h.Accept(parentCtx, conn)
	defer h.Evict(c, ReasonClosed)

	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return
		}
		c.touch(time.Now())

		env, err := Decode(data)
		if err != nil {
			slog.Warn("Dropping malformed WebSocket frame", "connection_id", c.ID, "error", err)
			continue
		}

		if !c.Authenticated() {
			if !h.handshake(c, env) {
				h.Evict(c, ReasonAuthFailed)
				return
			}
			continue
		}

		switch env.Type {
		case TypeHeartbeat:
			if err := h.send(c, MustEnvelope(TypePong, nil)); err != nil {
				slog.Warn("Failed to send pong", "connection_id", c.ID, "error", err)
				h.Evict(c, ReasonWriteFailed)
				return
			}
		case TypePong:
			// activity only
		case TypeAuth:
			_ = h.Authenticate(c.ctx, c, "")
		default:
			slog.Debug("Ignoring client frame", "connection_id", c.ID, "type", env.Type)
		}
	}
}

// handshake processes the first well-formed frame. Returns false when the
// connection must be closed.
func (h *Hub) handshake(c *Connection, env Envelope) bool {
	if env.Type != TypeAuth {
		h.sendError(c, "first message must be auth")
		h.recordAuthFailure(c, fmt.Sprintf("unexpected first frame %q", env.Type))
		return false
	}
	var p AuthPayload
	if err := env.DecodeData(&p); err != nil || p.Token == "" {
		h.sendError(c, "authentication failed")
		h.recordAuthFailure(c, "missing token")
		return false
	}
	return h.Authenticate(c.ctx, c, p.Token) == nil
}

// Broadcast writes env to every authenticated connection of tenantID and
// returns how many writes succeeded. A failed write evicts that connection only.
func (h *Hub) Broadcast(tenantID string, env Envelope) int {
	data, err := env.Encode()
	if err != nil {
		slog.Error("Failed to encode broadcast envelope", "tenant_id", tenantID, "type", env.Type, "error", err)
		return 0
	}

	conns := h.members(tenantID)
	delivered := 0
	for _, c := range conns {
		if err := h.sendRaw(c, data); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", c.ID, "tenant_id", tenantID, "error", err)
			h.Evict(c, ReasonWriteFailed)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		h.metrics.HubDelivered.Add(context.Background(), int64(delivered), telemetry.Attr("type", string(env.Type)))
	}
	return delivered
}

// Publish delivers env to the local members of tenantID. It lets the Hub act
// as the scanner's publisher when fan-out is local; it never fails.
func (h *Hub) Publish(_ context.Context, tenantID string, env Envelope) error {
	h.Broadcast(tenantID, env)
	return nil
}

// HandleNotification relays a NOTIFY payload received on a tenant channel.
func (h *Hub) HandleNotification(channel string, payload []byte) {
	tenantID, ok := TenantFromChannel(channel)
	if !ok {
		slog.Warn("Ignoring NOTIFY on unknown channel", "channel", channel)
		return
	}
	env, err := Decode(payload)
	if err != nil {
		slog.Warn("Dropping malformed NOTIFY payload", "channel", channel, "error", err)
		return
	}
	h.Broadcast(tenantID, env)
}

// members snapshots the tenant's connections. Locks are released before
// any write so slow peers cannot stall joins and evictions.
func (h *Hub) members(tenantID string) []*Connection {
	h.tenantMu.RLock()
	ids := make([]string, 0, len(h.tenants[tenantID]))
	for id := range h.tenants[tenantID] {
		ids = append(ids, id)
	}
	h.tenantMu.RUnlock()

	h.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	return conns
}

// Send writes env to a single authenticated connection.
func (h *Hub) Send(c *Connection, env Envelope) error {
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}
	return h.send(c, env)
}

func (h *Hub) send(c *Connection, env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", env.Type, err)
	}
	return h.sendRaw(c, data)
}

func (h *Hub) sendError(c *Connection, message string) {
	if err := h.send(c, MustEnvelope(TypeError, ErrorPayload{Message: message})); err != nil {
		slog.Warn("Failed to send error frame", "connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (h *Hub) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, h.cfg.WriteTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}

// Start launches the liveness loop.
func (h *Hub) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	h.cancelLoop = cancel
	h.loopDone = make(chan struct{})

	go h.run(loopCtx)

	slog.Info("Hub liveness loop started",
		"heartbeat_interval", h.cfg.HeartbeatInterval,
		"liveness_timeout", h.cfg.LivenessTimeout)
}

// Stop signals the liveness loop to exit, waits for it, then closes every
// open connection.
func (h *Hub) Stop() {
	if h.cancelLoop != nil {
		h.cancelLoop()
		<-h.loopDone
	}

	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.Evict(c, ReasonShutdown)
	}
	slog.Info("Hub stopped", "closed_connections", len(conns))
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.loopDone)

	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.sweep(now)
		}
	}
}

// sweep evicts silent connections and heartbeats the rest. Pending
// connections are governed by their auth deadline instead.
func (h *Hub) sweep(now time.Time) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		if c.Authenticated() {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	heartbeat, err := MustEnvelope(TypeHeartbeat, nil).Encode()
	if err != nil {
		return
	}
	for _, c := range conns {
		if now.Sub(c.LastActivityAt()) > h.cfg.LivenessTimeout {
			h.Evict(c, ReasonLiveness)
			continue
		}
		if err := h.sendRaw(c, heartbeat); err != nil {
			slog.Warn("Failed to send heartbeat", "connection_id", c.ID, "error", err)
			h.Evict(c, ReasonWriteFailed)
		}
	}
}

// HubStats is a point-in-time view of the hub's indexes.
type HubStats struct {
	Connections int            `json:"connections"`
	Pending     int            `json:"pending"`
	Tenants     map[string]int `json:"tenants"`
}

// Stats returns connection counts.
func (h *Hub) Stats() HubStats {
	s := HubStats{Tenants: make(map[string]int)}

	h.mu.RLock()
	for _, c := range h.connections {
		if c.Authenticated() {
			s.Connections++
		} else {
			s.Pending++
		}
	}
	h.mu.RUnlock()

	h.tenantMu.RLock()
	for tenantID, members := range h.tenants {
		s.Tenants[tenantID] = len(members)
	}
	h.tenantMu.RUnlock()
	return s
}

// memberCount returns the number of members of a tenant.
// Unexported; used by tests to poll instead of sleeping.
func (h *Hub) memberCount(tenantID string) int {
	h.tenantMu.RLock()
	defer h.tenantMu.RUnlock()
	return len(h.tenants[tenantID])
}
