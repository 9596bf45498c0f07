package database_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhq/hearth/pkg/audit"
	"github.com/hearthhq/hearth/pkg/database"
	testdb "github.com/hearthhq/hearth/test/database"
)

func TestStore_AgainstPostgres(t *testing.T) {
	client := testdb.NewTestClient(t)
	db := client.DB()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := db.ExecContext(ctx, `
		INSERT INTO property_reviews (id, tenant_id, property_id, title, due_at, completed_at) VALUES
			('rev-overdue', 'acme', 'prop-1', 'Gas safety', $1, NULL),
			('rev-done',    'acme', 'prop-1', 'Smoke alarms', $1, $2),
			('rev-future',  'acme', 'prop-2', 'Legionella', $3, NULL)`,
		now.Add(-24*time.Hour), now, now.Add(24*time.Hour))
	require.NoError(t, err)

	store := database.NewStore(db)
	rows, err := store.OverdueReviews(ctx, now)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "rev-overdue", rows[0].ID)

	// Concurrent marks: exactly one wins.
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.MarkReviewOverdueNotified(ctx, "rev-overdue", now)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	rows, err = store.OverdueReviews(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestIncidentEscalation_AgainstPostgres(t *testing.T) {
	client := testdb.NewTestClient(t)
	db := client.DB()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := db.ExecContext(ctx, `
		INSERT INTO incidents (id, tenant_id, property_id, title, severity, reported_at, acknowledged_at) VALUES
			('inc-1', 'acme', 'p', 'Flood',  'critical', $1, NULL),
			('inc-2', 'acme', 'p', 'Drip',   'low',      $1, NULL),
			('inc-3', 'acme', 'p', 'Fire',   'high',     $1, $2),
			('inc-4', 'acme', 'p', 'Sparks', 'high',     $2, NULL)`,
		now.Add(-time.Hour), now)
	require.NoError(t, err)

	store := database.NewStore(db)
	rows, err := store.UnacknowledgedIncidents(ctx, now.Add(-30*time.Minute), []string{"high", "critical"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "inc-1", rows[0].ID)

	// Acknowledged between query and mark: the update must not apply.
	_, err = db.ExecContext(ctx, `UPDATE incidents SET acknowledged_at = $1 WHERE id = 'inc-1'`, now)
	require.NoError(t, err)
	applied, err := store.MarkIncidentEscalated(ctx, "inc-1", now)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestAuditStore_AgainstPostgres(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	store := database.NewAuditStore(client.DB())
	old := time.Now().Add(-100 * 24 * time.Hour)

	require.NoError(t, store.Record(ctx, audit.Entry{TenantID: "acme", Source: "hub", Action: audit.ActionAuthFailed, CreatedAt: old}))
	require.NoError(t, store.Record(ctx, audit.Entry{
		TenantID: "acme", Source: "scanner:overdue_reviews", Action: audit.ActionEventEmitted,
		SubjectID: "rev-1", EventType: "notification", Detail: map[string]any{"published": true},
	}))

	entries, err := store.Recent(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "scanner:overdue_reviews", entries[0].Source)
	assert.Equal(t, true, entries[0].Detail["published"])

	n, err := store.DeleteBefore(ctx, time.Now().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testdb.NewTestDB(t)
	client := db.NewClient(t)
	assert.NoError(t, database.RunMigrations(client.DB(), db.Schema))
}
