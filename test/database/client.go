// Package database provides migrated PostgreSQL clients for integration tests.
package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hearthhq/hearth/pkg/database"
	"github.com/hearthhq/hearth/test/util"
)

// TestDB is one migrated schema. Several clients may share it, which is how
// cross-replica NOTIFY tests run two hubs against the same tables.
type TestDB struct {
	ConnStr string
	Schema  string
}

// NewTestDB creates a schema and applies the embedded migrations to it.
// Skipped under -short.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	util.SkipIfShort(t)

	connStr, schema := util.CreateSchema(t)
	db := util.OpenDB(t, connStr)
	require.NoError(t, database.RunMigrations(db, schema))
	return &TestDB{ConnStr: connStr, Schema: schema}
}

// NewClient opens an independent pool on the schema, closed on cleanup.
func (d *TestDB) NewClient(t *testing.T) *database.Client {
	t.Helper()
	return database.NewClientFromDB(util.OpenDB(t, d.ConnStr))
}

// NewTestClient is shorthand for NewTestDB(t).NewClient(t).
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	return NewTestDB(t).NewClient(t)
}
