// Package config loads and validates hearth.yaml.
package config

import (
	"github.com/hearthhq/hearth/pkg/telemetry"
)

// Fan-out modes for scanner emissions.
const (
	// FanoutLocal delivers scanner envelopes straight into this process's hub.
	FanoutLocal = "local"
	// FanoutPostgres publishes via pg_notify so every hub process relays them.
	FanoutPostgres = "postgres"
)

// Config is the umbrella configuration returned by Initialize.
type Config struct {
	configDir string

	// AllowedWSOrigins are origin patterns accepted on the WebSocket upgrade.
	AllowedWSOrigins []string

	// Fanout is FanoutLocal or FanoutPostgres.
	Fanout string

	Auth      *AuthConfig
	Hub       *HubConfig
	Scanner   *ScannerConfig
	Client    *ClientConfig
	Retention *RetentionConfig
	Telemetry *telemetry.Config
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Rules        int
	EnabledRules int
}

// Stats returns configuration statistics for logging
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.Scanner == nil {
		return s
	}
	s.Rules = len(c.Scanner.Rules)
	for _, r := range c.Scanner.Rules {
		if r.IsEnabled() {
			s.EnabledRules++
		}
	}
	return s
}
