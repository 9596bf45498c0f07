package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveCommit(t *testing.T) {
	assert.Equal(t, "dev", resolveCommit("", ""))
	assert.Equal(t, "abc", resolveCommit("", "abc"))
	assert.Equal(t, "0123abcd", resolveCommit("", "0123abcdef987654"))
	assert.Equal(t, "override", resolveCommit("override", "0123abcdef"))
}

func TestFull(t *testing.T) {
	assert.True(t, strings.HasPrefix(Full(), "hearth/"))
}
