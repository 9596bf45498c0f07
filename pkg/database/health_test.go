package database

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	status, err := Health(t.Context(), db)
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	require.NotNil(t, status.Pool)

	mock.ExpectPing().WillReturnError(assert.AnError)
	status, err = Health(t.Context(), db)
	require.Error(t, err)
	assert.Equal(t, "unhealthy", status.Status)
	assert.Nil(t, status.Pool)
}
