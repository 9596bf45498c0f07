package config

import (
	"fmt"
	"slices"

	"github.com/adhocore/gronx"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateSystem(); err != nil {
		return fmt.Errorf("system validation failed: %w", err)
	}

	if err := v.validateAuth(); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}

	if err := v.validateHub(); err != nil {
		return fmt.Errorf("hub validation failed: %w", err)
	}

	if err := v.validateScanner(); err != nil {
		return fmt.Errorf("scanner validation failed: %w", err)
	}

	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}

	if err := v.validateClient(); err != nil {
		return fmt.Errorf("client validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateSystem() error {
	if !slices.Contains([]string{FanoutLocal, FanoutPostgres}, v.cfg.Fanout) {
		return NewValidationError("system", "", "fanout",
			fmt.Errorf("%w: %q (must be %s or %s)", ErrInvalidValue, v.cfg.Fanout, FanoutLocal, FanoutPostgres))
	}
	return nil
}

func (v *ConfigValidator) validateAuth() error {
	a := v.cfg.Auth
	if a == nil || a.JWTSecret == "" {
		return NewValidationError("auth", "", "jwt_secret", ErrMissingRequiredField)
	}
	if len(a.JWTSecret) < 16 {
		return NewValidationError("auth", "", "jwt_secret", fmt.Errorf("%w: must be at least 16 bytes", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateHub() error {
	h := v.cfg.Hub
	if h == nil {
		return NewValidationError("hub", "hub", "", ErrMissingRequiredField)
	}
	for field, d := range map[string]int64{
		"heartbeat_interval": int64(h.HeartbeatInterval),
		"liveness_timeout":   int64(h.LivenessTimeout),
		"auth_timeout":       int64(h.AuthTimeout),
		"write_timeout":      int64(h.WriteTimeout),
	} {
		if d <= 0 {
			return NewValidationError("hub", "hub", field, fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
	}
	if h.LivenessTimeout <= h.HeartbeatInterval {
		return NewValidationError("hub", "hub", "liveness_timeout",
			fmt.Errorf("%w: must exceed heartbeat_interval (%s)", ErrInvalidValue, h.HeartbeatInterval))
	}
	return nil
}

func (v *ConfigValidator) validateScanner() error {
	s := v.cfg.Scanner
	if s == nil {
		return NewValidationError("scanner", "scanner", "", ErrMissingRequiredField)
	}
	if s.RunTimeout <= 0 {
		return NewValidationError("scanner", "scanner", "run_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.IncidentAckGrace <= 0 {
		return NewValidationError("scanner", "scanner", "incident_ack_grace", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.CertificateHorizon <= 0 {
		return NewValidationError("scanner", "scanner", "certificate_horizon", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	known := []string{RuleOverdueReviews, RuleUnacknowledgedIncidents, RuleExpiringCertificates}
	cron := gronx.New()
	for name, rule := range s.Rules {
		if !slices.Contains(known, name) {
			return NewValidationError("rule", name, "", fmt.Errorf("%w: unknown rule", ErrInvalidReference))
		}
		if rule == nil || rule.Schedule == "" {
			return NewValidationError("rule", name, "schedule", ErrMissingRequiredField)
		}
		if !cron.IsValid(rule.Schedule) {
			return NewValidationError("rule", name, "schedule", fmt.Errorf("%w: invalid cron expression %q", ErrInvalidValue, rule.Schedule))
		}
	}
	return nil
}

func (v *ConfigValidator) validateClient() error {
	c := v.cfg.Client
	if c == nil {
		return NewValidationError("client", "client", "", ErrMissingRequiredField)
	}
	if c.URL == "" {
		return NewValidationError("client", "client", "url", ErrMissingRequiredField)
	}
	if c.HeartbeatInterval <= 0 {
		return NewValidationError("client", "client", "heartbeat_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.AuthTimeout <= 0 {
		return NewValidationError("client", "client", "auth_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.ReconnectBaseDelay <= 0 {
		return NewValidationError("client", "client", "reconnect_base_delay", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return NewValidationError("client", "client", "reconnect_max_delay",
			fmt.Errorf("%w: must be at least reconnect_base_delay", ErrInvalidValue))
	}
	if c.MaxReconnectAttempts < 0 {
		return NewValidationError("client", "client", "max_reconnect_attempts", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateRetention() error {
	r := v.cfg.Retention
	if r == nil {
		return NewValidationError("retention", "retention", "", ErrMissingRequiredField)
	}
	if r.AuditRetentionDays < 1 {
		return NewValidationError("retention", "retention", "audit_retention_days", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.CleanupInterval <= 0 {
		return NewValidationError("retention", "retention", "cleanup_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}
