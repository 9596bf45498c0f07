package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddSearchPathToConnString(t *testing.T) {
	assert.Equal(t, "postgres://h/db?search_path=s1", AddSearchPathToConnString("postgres://h/db", "s1"))
	assert.Equal(t, "postgres://h/db?sslmode=disable&search_path=s1", AddSearchPathToConnString("postgres://h/db?sslmode=disable", "s1"))
}

func TestGenerateSchemaName(t *testing.T) {
	a := GenerateSchemaName(t)
	b := GenerateSchemaName(t)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "test_testgenerateschemaname_"))
	assert.LessOrEqual(t, len(a), 63)
}
