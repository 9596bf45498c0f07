// Package configs provides test configuration loading for e2e tests.
// Configs are stored as YAML files (the same format as production) and loaded
// through the production config.Initialize path, so env expansion, merge
// logic and validation are all exercised.
package configs

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hearthhq/hearth/pkg/config"
)

// TestJWTSecret is the signing secret every test config reads through
// {{.HEARTH_E2E_JWT_SECRET}}.
const TestJWTSecret = "e2e-signing-secret-0123456789"

// configsDir returns the absolute path to the configs testdata directory.
// Uses runtime.Caller so it works regardless of the working directory.
func configsDir() string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Dir(thisFile)
}

// Load loads a named test configuration using the production config.Initialize path.
// The name corresponds to a subdirectory under testdata/configs/ containing
// hearth.yaml.
//
// Available configs: local, replica.
func Load(t *testing.T, name string) *config.Config {
	t.Helper()
	t.Setenv("HEARTH_E2E_JWT_SECRET", TestJWTSecret)
	dir := filepath.Join(configsDir(), name)
	cfg, err := config.Initialize(context.Background(), dir)
	require.NoError(t, err, "failed to load test config %q from %s", name, dir)
	return cfg
}
