// Package audit records an append-only trail of scanner emissions and hub
// authentication failures.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Actions recorded in the trail.
const (
	ActionEventEmitted = "event_emitted"
	ActionAuthFailed   = "auth_failed"
)

// Entry is one audit record.
type Entry struct {
	TenantID  string
	Source    string // "hub" or "scanner:<rule>"
	Action    string
	SubjectID string // row ID for scanner entries, connection ID for hub entries
	EventType string
	Detail    map[string]any
	CreatedAt time.Time
}

// Sink persists entries. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// LogSink writes entries to slog. Used when no database is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink on the default logger.
func NewLogSink() *LogSink {
	return &LogSink{logger: slog.Default().With("component", "audit")}
}

// Record logs the entry.
func (s *LogSink) Record(ctx context.Context, e Entry) error {
	s.logger.InfoContext(ctx, "Audit",
		"tenant_id", e.TenantID,
		"source", e.Source,
		"action", e.Action,
		"subject_id", e.SubjectID,
		"event_type", e.EventType,
		"detail", e.Detail)
	return nil
}

// Multi fans an entry out to several sinks and returns the first error.
type Multi []Sink

// Record writes to every sink even when an earlier one fails.
func (m Multi) Record(ctx context.Context, e Entry) error {
	var firstErr error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
