package config

import "time"

// RetentionConfig controls pruning of the audit trail.
type RetentionConfig struct {
	// AuditRetentionDays is how long audit entries are kept.
	AuditRetentionDays int `yaml:"audit_retention_days"`

	// CleanupInterval is how often the retention job runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		AuditRetentionDays: 90,
		CleanupInterval:    12 * time.Hour,
	}
}
