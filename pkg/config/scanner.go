package config

import "time"

// Names of the built-in scan rules.
const (
	RuleOverdueReviews          = "overdue_reviews"
	RuleUnacknowledgedIncidents = "unacknowledged_incidents"
	RuleExpiringCertificates    = "expiring_certificates"
)

// ScannerConfig controls the condition scanner.
type ScannerConfig struct {
	// Enabled turns the scanner off entirely (e.g. on read-only replicas).
	Enabled *bool `yaml:"enabled,omitempty"`

	// RunOnStart runs every enabled rule once at startup before waiting for
	// the first scheduled tick.
	RunOnStart bool `yaml:"run_on_start"`

	// RunTimeout bounds a single rule run.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// IncidentAckGrace is how long a high-severity incident may stay
	// unacknowledged before it is escalated.
	IncidentAckGrace time.Duration `yaml:"incident_ack_grace"`

	// CertificateHorizon is how far ahead expiring certificates are reported.
	CertificateHorizon time.Duration `yaml:"certificate_horizon"`

	// Rules overrides per-rule settings, keyed by rule name.
	Rules map[string]*RuleConfig `yaml:"rules"`
}

// RuleConfig is the per-rule override.
type RuleConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	Schedule string `yaml:"schedule,omitempty"` // cron expression or @hourly/@daily/@weekly
}

// IsEnabled defaults to true when unset.
func (r *RuleConfig) IsEnabled() bool {
	return r == nil || r.Enabled == nil || *r.Enabled
}

// IsEnabled defaults to true when unset.
func (s *ScannerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Rule returns the override for name, or nil.
func (s *ScannerConfig) Rule(name string) *RuleConfig {
	if s.Rules == nil {
		return nil
	}
	return s.Rules[name]
}

// DefaultScannerConfig returns the built-in scanner defaults.
func DefaultScannerConfig() *ScannerConfig {
	return &ScannerConfig{
		RunTimeout:         2 * time.Minute,
		IncidentAckGrace:   30 * time.Minute,
		CertificateHorizon: 30 * 24 * time.Hour,
		Rules: map[string]*RuleConfig{
			RuleOverdueReviews:          {Schedule: "@hourly"},
			RuleUnacknowledgedIncidents: {Schedule: "*/15 * * * *"},
			RuleExpiringCertificates:    {Schedule: "@daily"},
		},
	}
}
