// Package client keeps one live channel to the hub per signed-in identity,
// reconnects it with backoff, and fans inbound envelopes out to listeners.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/hearthhq/hearth/pkg/config"
	"github.com/hearthhq/hearth/pkg/events"
	"github.com/hearthhq/hearth/pkg/telemetry"
)

// ErrAuthRejected is returned by Connect when the hub refuses the credential.
// Rejected identities are not retried automatically.
var ErrAuthRejected = errors.New("authentication rejected")

// writeTimeout bounds heartbeat, pong and Send writes.
const writeTimeout = 10 * time.Second

// Status is the manager's connection state.
type Status string

// Connection states.
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Identity is a signed-in principal. Key groups managers; Token is sent in
// the auth frame.
type Identity struct {
	Key   string
	Token string
}

// Listener receives every inbound envelope on the manager's read goroutine.
type Listener func(events.Envelope)

// ListenerID identifies a registered listener.
type ListenerID uint64

type listenerEntry struct {
	id      ListenerID
	fn      Listener
	removed atomic.Bool
}

// Timer is the part of *time.Timer the manager uses.
type Timer interface {
	Stop() bool
}

// afterFunc schedules f after d. Replaced in tests.
type afterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option customises a Manager or every Manager of a Registry.
type Option func(*Manager)

// WithAfterFunc replaces time.AfterFunc for heartbeat and reconnect timers.
func WithAfterFunc(fn func(d time.Duration, f func()) Timer) Option {
	return func(m *Manager) { m.afterFunc = fn }
}

// Manager owns the channel for one identity. All state transitions happen
// under mu; every timer and read loop carries the generation it was started
// with and does nothing once the generation has moved on.
type Manager struct {
	cfg       *config.ClientConfig
	dialer    Dialer
	backoff   Backoff
	afterFunc afterFunc
	metrics   *telemetry.Instruments
	log       *slog.Logger

	mu         sync.Mutex
	identity   Identity
	status     Status
	attempts   int
	generation uint64
	transport  Transport
	clientID   string
	cancelRead context.CancelFunc
	heartbeat  Timer
	reconnect  Timer

	lastActivity atomic.Int64 // unix nanos

	// Copy-on-write; fan-out iterates a snapshot without locking.
	listeners  atomic.Pointer[[]*listenerEntry]
	listenerMu sync.Mutex
	nextID     ListenerID
}

// NewManager creates a disconnected manager.
func NewManager(identity Identity, cfg *config.ClientConfig, dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		dialer: dialer,
		backoff: Backoff{
			Base:        cfg.ReconnectBaseDelay,
			Max:         cfg.ReconnectMaxDelay,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		afterFunc: realAfterFunc,
		metrics:   telemetry.Metrics(),
		log:       slog.With("identity", identity.Key),
		identity:  identity,
		status:    StatusDisconnected,
	}
	empty := []*listenerEntry{}
	m.listeners.Store(&empty)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status returns the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Attempts returns the consecutive reconnects scheduled since the last
// successful connection.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// ClientID returns the id the hub assigned to the current channel.
func (m *Manager) ClientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientID
}

// LastActivityAt returns when the last frame arrived.
func (m *Manager) LastActivityAt() time.Time {
	n := m.lastActivity.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Connect opens the channel. It is a no-op while connecting or connected.
// An explicit Connect re-arms the reconnect policy. A non-empty token
// replaces the stored one.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.status == StatusConnecting || m.status == StatusConnected {
		m.mu.Unlock()
		return nil
	}
	if token != "" {
		m.identity.Token = token
	}
	m.attempts = 0
	m.stopTimersLocked()
	m.mu.Unlock()

	return m.open(ctx)
}

// open dials, authenticates and starts the read loop and heartbeat.
func (m *Manager) open(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusConnecting || m.status == StatusConnected {
		m.mu.Unlock()
		return nil
	}
	m.generation++
	gen := m.generation
	m.status = StatusConnecting
	token := m.identity.Token
	m.mu.Unlock()

	hsCtx, cancel := context.WithTimeout(ctx, m.cfg.AuthTimeout)
	defer cancel()

	t, err := m.dialer.Dial(hsCtx, m.cfg.URL)
	if err != nil {
		m.failed(gen, true, err)
		return fmt.Errorf("failed to dial %s: %w", m.cfg.URL, err)
	}

	clientID, err := m.handshake(hsCtx, t, token)
	if err != nil {
		_ = t.Close(websocket.StatusNormalClosure, "handshake failed")
		m.failed(gen, !errors.Is(err, ErrAuthRejected), err)
		return err
	}

	m.mu.Lock()
	if m.generation != gen {
		// Disconnected while the handshake was in flight.
		m.mu.Unlock()
		_ = t.Close(websocket.StatusNormalClosure, "disconnected")
		return nil
	}
	readCtx, cancelRead := context.WithCancel(context.Background())
	m.status = StatusConnected
	m.attempts = 0
	m.transport = t
	m.clientID = clientID
	m.cancelRead = cancelRead
	m.armHeartbeatLocked(gen)
	m.mu.Unlock()

	m.touch()
	m.log.Info("Connected to hub", "client_id", clientID)
	go m.readLoop(readCtx, gen, t)
	return nil
}

// handshake sends the credential and waits for the hub's verdict.
func (m *Manager) handshake(ctx context.Context, t Transport, token string) (string, error) {
	frame, err := events.MustEnvelope(events.TypeAuth, events.AuthPayload{Token: token}).Encode()
	if err != nil {
		return "", err
	}
	if err := t.Write(ctx, frame); err != nil {
		return "", fmt.Errorf("failed to send auth frame: %w", err)
	}

	for {
		data, err := t.Read(ctx)
		if err != nil {
			if closeCode(err) == websocket.StatusPolicyViolation {
				return "", fmt.Errorf("%w: %v", ErrAuthRejected, err)
			}
			return "", fmt.Errorf("failed to read auth reply: %w", err)
		}
		m.touch()

		env, err := events.Decode(data)
		if err != nil {
			m.log.Warn("Dropping malformed frame during handshake", "error", err)
			continue
		}
		switch env.Type {
		case events.TypeConnectionEstablished:
			return env.ClientID, nil
		case events.TypeError:
			var p events.ErrorPayload
			_ = env.DecodeData(&p)
			return "", fmt.Errorf("%w: %s", ErrAuthRejected, p.Message)
		}
	}
}

// failed records a failed open. retry schedules a reconnect under the policy.
func (m *Manager) failed(gen uint64, retry bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return
	}
	m.status = StatusError
	if !retry {
		m.log.Error("Hub rejected credential; not retrying", "error", err)
		return
	}
	m.log.Warn("Failed to connect to hub", "error", err)
	m.scheduleReconnectLocked()
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, t Transport) {
	for {
		data, err := t.Read(ctx)
		if err != nil {
			m.closed(gen, closeCode(err), err)
			return
		}
		m.touch()

		env, err := events.Decode(data)
		if err != nil {
			m.log.Warn("Dropping malformed frame", "error", err)
			continue
		}

		switch env.Type {
		case events.TypeHeartbeat:
			m.reply(ctx, t, events.TypePong)
		case events.TypePong:
			// activity only
		default:
			m.dispatch(env)
		}
	}
}

// closed handles the end of a connected channel.
func (m *Manager) closed(gen uint64, code websocket.StatusCode, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return
	}
	m.teardownLocked()
	m.status = StatusDisconnected

	if code == websocket.StatusNormalClosure {
		m.log.Info("Hub closed channel normally")
		return
	}
	m.log.Warn("Channel closed abnormally", "code", int(code), "error", err)
	m.scheduleReconnectLocked()
}

func (m *Manager) scheduleReconnectLocked() {
	if m.backoff.Exhausted(m.attempts) {
		m.status = StatusDisconnected
		m.log.Warn("Reconnect attempts exhausted; waiting for explicit connect", "attempts", m.attempts)
		return
	}
	delay := m.backoff.Delay(m.attempts)
	m.attempts++
	gen := m.generation
	m.reconnect = m.afterFunc(delay, func() { m.reconnectTick(gen) })
	m.metrics.ClientReconnects.Add(context.Background(), 1)
	m.log.Info("Reconnect scheduled", "delay", delay, "attempt", m.attempts)
}

func (m *Manager) reconnectTick(gen uint64) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.reconnect = nil
	m.mu.Unlock()

	if err := m.open(context.Background()); err != nil {
		m.log.Debug("Reconnect failed", "error", err)
	}
}

func (m *Manager) armHeartbeatLocked(gen uint64) {
	m.heartbeat = m.afterFunc(m.cfg.HeartbeatInterval, func() { m.heartbeatTick(gen) })
}

func (m *Manager) heartbeatTick(gen uint64) {
	m.mu.Lock()
	if m.generation != gen || m.status != StatusConnected {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.armHeartbeatLocked(gen)
	m.mu.Unlock()

	m.reply(context.Background(), t, events.TypeHeartbeat)
}

func (m *Manager) reply(ctx context.Context, t Transport, typ events.Type) {
	data, err := events.MustEnvelope(typ, nil).Encode()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := t.Write(ctx, data); err != nil {
		m.log.Debug("Failed to write control frame", "type", typ, "error", err)
	}
}

// Disconnect closes the channel cleanly and cancels pending timers. Timers
// that already fired see a new generation and do nothing.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	m.stopTimersLocked()
	t := m.transport
	cancel := m.cancelRead
	m.transport = nil
	m.cancelRead = nil
	m.clientID = ""
	m.status = StatusDisconnected
	m.mu.Unlock()

	if t != nil {
		_ = t.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if cancel != nil {
		cancel()
	}
}

// Send writes env when connected and silently drops it otherwise.
func (m *Manager) Send(ctx context.Context, env events.Envelope) error {
	m.mu.Lock()
	if m.status != StatusConnected {
		m.mu.Unlock()
		return nil
	}
	t := m.transport
	m.mu.Unlock()

	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := t.Write(ctx, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Type, err)
	}
	return nil
}

func (m *Manager) stopTimersLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) teardownLocked() {
	m.stopTimersLocked()
	if m.cancelRead != nil {
		m.cancelRead()
		m.cancelRead = nil
	}
	m.transport = nil
	m.clientID = ""
}

func (m *Manager) touch() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// AddListener registers fn. It does not open the channel.
func (m *Manager) AddListener(fn Listener) ListenerID {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	m.nextID++
	entry := &listenerEntry{id: m.nextID, fn: fn}
	cur := *m.listeners.Load()
	next := make([]*listenerEntry, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, entry)
	m.listeners.Store(&next)
	return entry.id
}

// RemoveListener unregisters id and returns how many listeners remain.
// Removing the last one disconnects.
func (m *Manager) RemoveListener(id ListenerID) int {
	m.listenerMu.Lock()
	cur := *m.listeners.Load()
	next := make([]*listenerEntry, 0, len(cur))
	for _, e := range cur {
		if e.id == id {
			e.removed.Store(true)
			continue
		}
		next = append(next, e)
	}
	m.listeners.Store(&next)
	remaining := len(next)
	m.listenerMu.Unlock()

	if remaining == 0 && len(cur) > 0 {
		m.Disconnect()
	}
	return remaining
}

// ListenerCount returns the number of registered listeners.
func (m *Manager) ListenerCount() int {
	return len(*m.listeners.Load())
}

// dispatch delivers env to a snapshot of the listeners in registration
// order. A listener removed mid-delivery is skipped; a panicking listener
// does not stop the rest.
func (m *Manager) dispatch(env events.Envelope) {
	for _, e := range *m.listeners.Load() {
		if e.removed.Load() {
			continue
		}
		m.invoke(e, env)
	}
}

func (m *Manager) invoke(e *listenerEntry, env events.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Listener panicked", "listener_id", e.id, "type", env.Type,
				"panic", r, "stack", string(debug.Stack()))
		}
	}()
	e.fn(env)
}
