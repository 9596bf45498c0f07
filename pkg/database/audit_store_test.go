package database

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhq/hearth/pkg/audit"
)

func TestAuditStore_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO "audit_events" \("tenant_id", "source", "action", "subject_id", "event_type", "detail", "created_at"\) VALUES`).
		WithArgs("acme", "scanner:overdue_reviews", audit.ActionEventEmitted, "rev-1", "notification", `{"published":true}`, at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewAuditStore(db).Record(t.Context(), audit.Entry{
		TenantID:  "acme",
		Source:    "scanner:overdue_reviews",
		Action:    audit.ActionEventEmitted,
		SubjectID: "rev-1",
		EventType: "notification",
		Detail:    map[string]any{"published": true},
		CreatedAt: at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditStore_RecordEmptyDetail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO "audit_events"`).
		WithArgs("", "hub", audit.ActionAuthFailed, "conn-1", "", "{}", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewAuditStore(db).Record(t.Context(), audit.Entry{Source: "hub", Action: audit.ActionAuthFailed, SubjectID: "conn-1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditStore_Recent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .* FROM "audit_events" WHERE "tenant_id" = \$1 ORDER BY .* LIMIT 20`).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "source", "action", "subject_id", "event_type", "detail", "created_at"}).
			AddRow("acme", "hub", audit.ActionAuthFailed, "conn-1", "", []byte(`{"reason":"expired"}`), at))

	entries, err := NewAuditStore(db).Recent(t.Context(), "acme", 20)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "expired", entries[0].Detail["reason"])
	assert.Equal(t, at, entries[0].CreatedAt)
}

func TestAuditStore_DeleteBefore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM "audit_events" WHERE "created_at" < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := NewAuditStore(db).DeleteBefore(t.Context(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}
