// Package scanner runs scheduled scan rules over stored state and emits an
// envelope when a condition becomes newly true.
//
// Rules are plain descriptors; Scanner is the single interpreter. A rule's
// side-effect is a conditional update applied before the envelope goes out,
// so two overlapping runs cannot both emit for the same row.
package scanner

import (
	"context"
	"time"

	"github.com/hearthhq/hearth/pkg/events"
)

// Row is one record a rule matched.
type Row struct {
	ID       string
	TenantID string
	Fields   map[string]any
}

// String returns the field as a string, or "".
func (r Row) String(key string) string {
	s, _ := r.Fields[key].(string)
	return s
}

// Time returns the field as a time, or the zero time.
func (r Row) Time(key string) time.Time {
	t, _ := r.Fields[key].(time.Time)
	return t
}

// Rule describes one scheduled scan.
type Rule struct {
	Name string

	// Schedule is a cron expression or one of @hourly, @daily, @weekly.
	Schedule string

	// Query returns the rows for which the condition currently holds.
	Query func(ctx context.Context, now time.Time) ([]Row, error)

	// Emit builds the envelope for a row and names the tenant it goes to.
	Emit func(row Row) (tenantID string, env events.Envelope, err error)

	// SideEffect marks the row so it is not matched again. It must be a
	// conditional update: applied is false when the row was already
	// transitioned, in which case nothing is emitted. Optional.
	SideEffect func(ctx context.Context, row Row, now time.Time) (applied bool, err error)
}

// Publisher delivers an envelope to a tenant. Implemented by events.Hub for
// local fan-out and by events.PostgresPublisher for cross-process fan-out.
type Publisher interface {
	Publish(ctx context.Context, tenantID string, env events.Envelope) error
}

// Store is the stored state the built-in rules read and transition.
type Store interface {
	OverdueReviews(ctx context.Context, now time.Time) ([]Row, error)
	MarkReviewOverdueNotified(ctx context.Context, id string, now time.Time) (bool, error)

	UnacknowledgedIncidents(ctx context.Context, reportedBefore time.Time, severities []string) ([]Row, error)
	MarkIncidentEscalated(ctx context.Context, id string, now time.Time) (bool, error)

	ExpiringCertificates(ctx context.Context, now, horizon time.Time) ([]Row, error)
	MarkCertificateExpiryNotified(ctx context.Context, id string, now time.Time) (bool, error)
}
