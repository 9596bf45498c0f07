package config

import "time"

// HubConfig controls the connection hub.
type HubConfig struct {
	// HeartbeatInterval is how often the hub sends heartbeat frames and
	// checks liveness.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// LivenessTimeout is how long an authenticated connection may stay silent
	// before it is evicted. Must exceed HeartbeatInterval.
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`

	// AuthTimeout bounds the time between transport open and a successful auth frame.
	AuthTimeout time.Duration `yaml:"auth_timeout"`

	// WriteTimeout bounds every frame write.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultHubConfig returns the built-in hub defaults.
func DefaultHubConfig() *HubConfig {
	return &HubConfig{
		HeartbeatInterval: 30 * time.Second,
		LivenessTimeout:   75 * time.Second,
		AuthTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// AuthConfig configures the JWT identity provider.
type AuthConfig struct {
	// JWTSecret is the HS256 signing secret shared with the main application.
	// Usually injected as {{.HEARTH_JWT_SECRET}}.
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}
