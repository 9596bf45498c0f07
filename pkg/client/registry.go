package client

import (
	"context"
	"errors"
	"sync"

	"github.com/hearthhq/hearth/pkg/config"
	"github.com/hearthhq/hearth/pkg/events"
)

// ErrIdentityReleased is returned by Connect when the identity's last
// listener was removed, or the registry closed, while the connect was in
// flight. The channel it opened has been closed again.
var ErrIdentityReleased = errors.New("identity released while connecting")

// Registry maps identities to their single Manager. A process creates one
// Registry and hands it to every feature that needs live updates.
type Registry struct {
	cfg    *config.ClientConfig
	dialer Dialer
	opts   []Option

	mu       sync.Mutex
	managers map[string]*Manager

	// beforeConnect runs between the manager lookup and its Connect; tests
	// use it to interleave a release.
	beforeConnect func()
}

// NewRegistry creates an empty registry. opts apply to every Manager it creates.
func NewRegistry(cfg *config.ClientConfig, dialer Dialer, opts ...Option) *Registry {
	return &Registry{
		cfg:      cfg,
		dialer:   dialer,
		opts:     opts,
		managers: make(map[string]*Manager),
	}
}

func (r *Registry) manager(id Identity) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[id.Key]
	if !ok {
		m = NewManager(id, r.cfg, r.dialer, r.opts...)
		r.managers[id.Key] = m
	}
	return m
}

func (r *Registry) lookup(id Identity) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.managers[id.Key]
}

// Manager returns the manager for id, or nil if none exists.
func (r *Registry) Manager(id Identity) *Manager {
	return r.lookup(id)
}

// Connect opens the identity's channel unless one is already open or opening.
// A manager released meanwhile is disconnected again so no channel outlives
// its registry entry.
func (r *Registry) Connect(ctx context.Context, id Identity) error {
	m := r.manager(id)
	if r.beforeConnect != nil {
		r.beforeConnect()
	}
	err := m.Connect(ctx, id.Token)

	r.mu.Lock()
	current := r.managers[id.Key] == m
	r.mu.Unlock()
	if !current {
		m.Disconnect()
		return ErrIdentityReleased
	}
	return err
}

// Disconnect closes the identity's channel cleanly. Listeners stay registered.
func (r *Registry) Disconnect(id Identity) {
	if m := r.lookup(id); m != nil {
		m.Disconnect()
	}
}

// Send writes env on the identity's channel; a no-op unless connected.
func (r *Registry) Send(ctx context.Context, id Identity, env events.Envelope) error {
	if m := r.lookup(id); m != nil {
		return m.Send(ctx, env)
	}
	return nil
}

// AddListener registers fn for the identity. It does not connect.
func (r *Registry) AddListener(id Identity, fn Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[id.Key]
	if !ok {
		m = NewManager(id, r.cfg, r.dialer, r.opts...)
		r.managers[id.Key] = m
	}
	return m.AddListener(fn)
}

// RemoveListener unregisters a listener. Removing the identity's last
// listener disconnects it and drops its manager.
func (r *Registry) RemoveListener(id Identity, lid ListenerID) {
	m := r.lookup(id)
	if m == nil || m.RemoveListener(lid) > 0 {
		return
	}
	r.mu.Lock()
	// A listener may have been added since; keep the manager then.
	if r.managers[id.Key] != m || m.ListenerCount() != 0 {
		r.mu.Unlock()
		return
	}
	delete(r.managers, id.Key)
	r.mu.Unlock()

	// A Connect that passed its ownership check before the delete may have
	// reopened the channel.
	m.Disconnect()
}

// Status returns the identity's connection state.
func (r *Registry) Status(id Identity) Status {
	if m := r.lookup(id); m != nil {
		return m.Status()
	}
	return StatusDisconnected
}

// Len returns the number of identities with a manager.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

// Close disconnects every identity and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*Manager)
	r.mu.Unlock()

	for _, m := range managers {
		m.Disconnect()
	}
}
