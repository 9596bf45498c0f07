package config

import "time"

// ClientConfig configures the connection manager used by hearth-watch and
// other Go clients.
type ClientConfig struct {
	URL                  string        `yaml:"url"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	AuthTimeout          time.Duration `yaml:"auth_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

// DefaultClientConfig returns the built-in client defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		URL:                  "ws://localhost:8080/ws",
		HeartbeatInterval:    30 * time.Second,
		AuthTimeout:          10 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
	}
}
