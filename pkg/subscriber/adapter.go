// Package subscriber turns envelopes into local effects: cache
// invalidation, user-facing alerts and unread counters. Adapters hold no
// connection state; each registers as its own listener.
package subscriber

import (
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/hearthhq/hearth/pkg/client"
	"github.com/hearthhq/hearth/pkg/events"
)

// Cache keys for event types that do not name their entity.
const (
	KeyIncidents     = "incidents"
	KeyMetrics       = "dashboard_metrics"
	KeyNotifications = "notifications"
)

// Adapter reacts to envelopes.
type Adapter interface {
	Handle(env events.Envelope)
}

// Register adds every adapter to the identity as an independent listener
// and returns their ids in order.
func Register(reg *client.Registry, id client.Identity, adapters ...Adapter) []client.ListenerID {
	ids := make([]client.ListenerID, len(adapters))
	for i, a := range adapters {
		ids[i] = reg.AddListener(id, a.Handle)
	}
	return ids
}

// Cache is the query cache an InvalidationAdapter clears.
type Cache interface {
	Invalidate(key string)
}

// InvalidationAdapter invalidates cached reads made stale by an envelope.
type InvalidationAdapter struct {
	cache Cache
}

// NewInvalidationAdapter creates an adapter over cache.
func NewInvalidationAdapter(cache Cache) *InvalidationAdapter {
	return &InvalidationAdapter{cache: cache}
}

// Handle implements Adapter.
func (a *InvalidationAdapter) Handle(env events.Envelope) {
	for _, key := range Keys(env) {
		a.cache.Invalidate(key)
	}
}

// Keys returns the distinct cache keys env invalidates, most general first.
func Keys(env events.Envelope) []string {
	var keys []string
	add := func(k string) {
		if k != "" && !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}

	switch env.Type {
	case events.TypeUpdate:
		var p events.UpdatePayload
		if err := env.DecodeData(&p); err != nil {
			slog.Warn("Ignoring update with unreadable data", "error", err)
			return nil
		}
		add(p.Entity)
		if p.Entity != "" && p.EntityID != "" {
			add(p.Entity + "/" + p.EntityID)
		}
	case events.TypeNotification:
		add(KeyNotifications)
		var p events.NotificationPayload
		if err := env.DecodeData(&p); err == nil {
			add(p.EntityType)
		}
	case events.TypeIncidentAlert:
		add(KeyIncidents)
	case events.TypeMetricChange:
		add(KeyMetrics)
	}
	return keys
}

// Alert is what an Alerter shows the user.
type Alert struct {
	IncidentID string
	Severity   string
	Title      string
	PropertyID string
	Escalated  bool
}

// Alerter raises user-facing alerts.
type Alerter interface {
	Alert(a Alert)
}

// AlertAdapter raises an alert for high and critical incidents.
type AlertAdapter struct {
	alerter Alerter
}

// NewAlertAdapter creates an adapter over alerter.
func NewAlertAdapter(alerter Alerter) *AlertAdapter {
	return &AlertAdapter{alerter: alerter}
}

// Handle implements Adapter.
func (a *AlertAdapter) Handle(env events.Envelope) {
	if env.Type != events.TypeIncidentAlert {
		return
	}
	var p events.IncidentAlertPayload
	if err := env.DecodeData(&p); err != nil {
		slog.Warn("Ignoring incident alert with unreadable data", "error", err)
		return
	}
	if !events.IsHighSeverity(p.Severity) {
		return
	}
	a.alerter.Alert(Alert{
		IncidentID: p.IncidentID,
		Severity:   p.Severity,
		Title:      p.Title,
		PropertyID: p.PropertyID,
		Escalated:  p.Escalated,
	})
}

// LogAlerter writes alerts to slog.
type LogAlerter struct{}

// Alert implements Alerter.
func (LogAlerter) Alert(a Alert) {
	slog.Warn("Incident alert",
		"severity", a.Severity,
		"title", a.Title,
		"incident_id", a.IncidentID,
		"property_id", a.PropertyID,
		"escalated", a.Escalated)
}

// CounterAdapter counts notifications and incident alerts for a badge.
type CounterAdapter struct {
	n        atomic.Int64
	onChange func(int64)
}

// NewCounterAdapter creates a counter. onChange, if set, runs after every
// increment with the new value.
func NewCounterAdapter(onChange func(int64)) *CounterAdapter {
	return &CounterAdapter{onChange: onChange}
}

// Handle implements Adapter.
func (c *CounterAdapter) Handle(env events.Envelope) {
	if env.Type != events.TypeNotification && env.Type != events.TypeIncidentAlert {
		return
	}
	v := c.n.Add(1)
	if c.onChange != nil {
		c.onChange(v)
	}
}

// Count returns the unread count.
func (c *CounterAdapter) Count() int64 {
	return c.n.Load()
}

// Reset clears the count, e.g. when the user opens the inbox.
func (c *CounterAdapter) Reset() {
	c.n.Store(0)
}
