package database

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/hearthhq/hearth/pkg/audit"
)

// AuditStore persists audit entries in audit_events.
type AuditStore struct {
	db *stdsql.DB
}

var _ audit.Sink = (*AuditStore)(nil)

// NewAuditStore creates an AuditStore on db.
func NewAuditStore(db *stdsql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Record inserts one entry.
func (s *AuditStore) Record(ctx context.Context, e audit.Entry) error {
	detail := []byte("{}")
	if len(e.Detail) > 0 {
		var err error
		if detail, err = json.Marshal(e.Detail); err != nil {
			return fmt.Errorf("failed to marshal audit detail: %w", err)
		}
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query, args := builder().
		Insert("audit_events").
		Columns("tenant_id", "source", "action", "subject_id", "event_type", "detail", "created_at").
		Values(e.TenantID, e.Source, e.Action, e.SubjectID, e.EventType, string(detail), createdAt).
		Query()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries for a tenant, newest first.
func (s *AuditStore) Recent(ctx context.Context, tenantID string, limit int) ([]audit.Entry, error) {
	query, args := builder().
		Select("tenant_id", "source", "action", "subject_id", "event_type", "detail", "created_at").
		From(entsql.Table("audit_events")).
		Where(entsql.EQ("tenant_id", tenantID)).
		OrderBy(entsql.Desc("created_at")).
		Limit(limit).
		Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var detail []byte
		if err := rows.Scan(&e.TenantID, &e.Source, &e.Action, &e.SubjectID, &e.EventType, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("failed to decode audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteBefore removes entries older than cutoff and returns how many went.
func (s *AuditStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args := builder().
		Delete("audit_events").
		Where(entsql.LT("created_at", cutoff)).
		Query()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit entries: %w", err)
	}
	return res.RowsAffected()
}
