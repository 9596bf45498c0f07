package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/hearthhq/hearth/pkg/scanner"
)

// scanBatchSize caps the rows a single rule pass reads; the rest are picked
// up by the next pass.
const scanBatchSize = 500

// Store implements scanner.Store over the application's tables.
type Store struct {
	db *stdsql.DB
}

var _ scanner.Store = (*Store)(nil)

// NewStore creates a Store on db.
func NewStore(db *stdsql.DB) *Store {
	return &Store{db: db}
}

func builder() *entsql.DialectBuilder {
	return entsql.Dialect(dialect.Postgres)
}

// OverdueReviews returns incomplete reviews past their due date that have not
// been reported yet.
func (s *Store) OverdueReviews(ctx context.Context, now time.Time) ([]scanner.Row, error) {
	query, args := builder().
		Select("id", "tenant_id", "property_id", "title", "due_at").
		From(entsql.Table("property_reviews")).
		Where(entsql.And(
			entsql.IsNull("completed_at"),
			entsql.IsNull("overdue_notified_at"),
			entsql.LT("due_at", now),
		)).
		OrderBy("due_at").
		Limit(scanBatchSize).
		Query()

	return s.queryRows(ctx, "overdue reviews", query, args, func(r *stdsql.Rows) (scanner.Row, error) {
		var row scanner.Row
		var propertyID, title string
		var dueAt time.Time
		if err := r.Scan(&row.ID, &row.TenantID, &propertyID, &title, &dueAt); err != nil {
			return row, err
		}
		row.Fields = map[string]any{"property_id": propertyID, "title": title, "due_at": dueAt}
		return row, nil
	})
}

// MarkReviewOverdueNotified sets overdue_notified_at if it is still unset.
func (s *Store) MarkReviewOverdueNotified(ctx context.Context, id string, now time.Time) (bool, error) {
	return s.markOnce(ctx, "property_reviews", "overdue_notified_at", id, now)
}

// UnacknowledgedIncidents returns open, unacknowledged, not yet escalated
// incidents of the given severities reported before the cutoff.
func (s *Store) UnacknowledgedIncidents(ctx context.Context, reportedBefore time.Time, severities []string) ([]scanner.Row, error) {
	if len(severities) == 0 {
		return nil, nil
	}
	sev := make([]any, len(severities))
	for i, v := range severities {
		sev[i] = v
	}

	query, args := builder().
		Select("id", "tenant_id", "property_id", "title", "severity", "reported_at").
		From(entsql.Table("incidents")).
		Where(entsql.And(
			entsql.IsNull("acknowledged_at"),
			entsql.IsNull("resolved_at"),
			entsql.IsNull("escalated_at"),
			entsql.In("severity", sev...),
			entsql.LT("reported_at", reportedBefore),
		)).
		OrderBy("reported_at").
		Limit(scanBatchSize).
		Query()

	return s.queryRows(ctx, "unacknowledged incidents", query, args, func(r *stdsql.Rows) (scanner.Row, error) {
		var row scanner.Row
		var propertyID, title, severity string
		var reportedAt time.Time
		if err := r.Scan(&row.ID, &row.TenantID, &propertyID, &title, &severity, &reportedAt); err != nil {
			return row, err
		}
		row.Fields = map[string]any{
			"property_id": propertyID,
			"title":       title,
			"severity":    severity,
			"reported_at": reportedAt,
		}
		return row, nil
	})
}

// MarkIncidentEscalated sets escalated_at if the incident is still
// unacknowledged and not yet escalated.
func (s *Store) MarkIncidentEscalated(ctx context.Context, id string, now time.Time) (bool, error) {
	query, args := builder().
		Update("incidents").
		Set("escalated_at", now).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.IsNull("escalated_at"),
			entsql.IsNull("acknowledged_at"),
		)).
		Query()
	return s.execOnce(ctx, "escalate incident", query, args)
}

// ExpiringCertificates returns certificates expiring between now and horizon
// that have not been reported yet.
func (s *Store) ExpiringCertificates(ctx context.Context, now, horizon time.Time) ([]scanner.Row, error) {
	query, args := builder().
		Select("id", "tenant_id", "property_id", "kind", "expires_at").
		From(entsql.Table("compliance_certificates")).
		Where(entsql.And(
			entsql.IsNull("expiry_notified_at"),
			entsql.GTE("expires_at", now),
			entsql.LT("expires_at", horizon),
		)).
		OrderBy("expires_at").
		Limit(scanBatchSize).
		Query()

	return s.queryRows(ctx, "expiring certificates", query, args, func(r *stdsql.Rows) (scanner.Row, error) {
		var row scanner.Row
		var propertyID, kind string
		var expiresAt time.Time
		if err := r.Scan(&row.ID, &row.TenantID, &propertyID, &kind, &expiresAt); err != nil {
			return row, err
		}
		row.Fields = map[string]any{"property_id": propertyID, "kind": kind, "expires_at": expiresAt}
		return row, nil
	})
}

// MarkCertificateExpiryNotified sets expiry_notified_at if it is still unset.
func (s *Store) MarkCertificateExpiryNotified(ctx context.Context, id string, now time.Time) (bool, error) {
	return s.markOnce(ctx, "compliance_certificates", "expiry_notified_at", id, now)
}

// markOnce is the conditional update behind every side-effect: it only
// touches the row while column is still NULL, so exactly one caller wins.
func (s *Store) markOnce(ctx context.Context, table, column, id string, now time.Time) (bool, error) {
	query, args := builder().
		Update(table).
		Set(column, now).
		Where(entsql.And(entsql.EQ("id", id), entsql.IsNull(column))).
		Query()
	return s.execOnce(ctx, "mark "+table, query, args)
}

func (s *Store) execOnce(ctx context.Context, what, query string, args []any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", what, err)
	}
	return n == 1, nil
}

func (s *Store) queryRows(ctx context.Context, what, query string, args []any, scan func(*stdsql.Rows) (scanner.Row, error)) ([]scanner.Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", what, err)
	}
	defer func() { _ = rows.Close() }()

	var out []scanner.Row
	for rows.Next() {
		row, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", what, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", what, err)
	}
	return out, nil
}
