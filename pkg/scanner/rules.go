package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/hearthhq/hearth/pkg/config"
	"github.com/hearthhq/hearth/pkg/events"
)

// Notification kinds emitted by the built-in rules.
const (
	KindOverdueReview       = "overdue_review"
	KindCertificateExpiring = "certificate_expiring"
)

// DefaultRules returns the built-in rules with schedules and enablement taken
// from cfg. Disabled rules are omitted.
func DefaultRules(store Store, cfg *config.ScannerConfig) []Rule {
	if cfg == nil {
		cfg = config.DefaultScannerConfig()
	}
	all := []Rule{
		overdueReviews(store),
		unacknowledgedIncidents(store, cfg.IncidentAckGrace),
		expiringCertificates(store, cfg.CertificateHorizon),
	}

	rules := make([]Rule, 0, len(all))
	for _, r := range all {
		override := cfg.Rule(r.Name)
		if !override.IsEnabled() {
			continue
		}
		if override != nil && override.Schedule != "" {
			r.Schedule = override.Schedule
		}
		rules = append(rules, r)
	}
	return rules
}

func overdueReviews(store Store) Rule {
	return Rule{
		Name:     config.RuleOverdueReviews,
		Schedule: "@hourly",
		Query:    store.OverdueReviews,
		SideEffect: func(ctx context.Context, row Row, now time.Time) (bool, error) {
			return store.MarkReviewOverdueNotified(ctx, row.ID, now)
		},
		Emit: func(row Row) (string, events.Envelope, error) {
			env, err := events.NewEnvelope(events.TypeNotification, events.NotificationPayload{
				Kind:       KindOverdueReview,
				Title:      "Property review overdue",
				Message:    fmt.Sprintf("%s was due %s", row.String("title"), row.Time("due_at").Format(time.DateOnly)),
				EntityType: "property_reviews",
				EntityID:   row.ID,
				Context: map[string]any{
					"propertyId": row.String("property_id"),
					"dueAt":      row.Time("due_at").Format(time.RFC3339),
				},
			})
			return row.TenantID, env, err
		},
	}
}

func unacknowledgedIncidents(store Store, grace time.Duration) Rule {
	return Rule{
		Name:     config.RuleUnacknowledgedIncidents,
		Schedule: "*/15 * * * *",
		Query: func(ctx context.Context, now time.Time) ([]Row, error) {
			return store.UnacknowledgedIncidents(ctx, now.Add(-grace),
				[]string{events.SeverityHigh, events.SeverityCritical})
		},
		SideEffect: func(ctx context.Context, row Row, now time.Time) (bool, error) {
			return store.MarkIncidentEscalated(ctx, row.ID, now)
		},
		Emit: func(row Row) (string, events.Envelope, error) {
			env, err := events.NewEnvelope(events.TypeIncidentAlert, events.IncidentAlertPayload{
				IncidentID: row.ID,
				Severity:   row.String("severity"),
				Title:      row.String("title"),
				PropertyID: row.String("property_id"),
				ReportedAt: row.Time("reported_at").Format(time.RFC3339),
				Escalated:  true,
				Context: map[string]any{
					"unacknowledgedFor": grace.String(),
				},
			})
			return row.TenantID, env, err
		},
	}
}

func expiringCertificates(store Store, horizon time.Duration) Rule {
	return Rule{
		Name:     config.RuleExpiringCertificates,
		Schedule: "@daily",
		Query: func(ctx context.Context, now time.Time) ([]Row, error) {
			return store.ExpiringCertificates(ctx, now, now.Add(horizon))
		},
		SideEffect: func(ctx context.Context, row Row, now time.Time) (bool, error) {
			return store.MarkCertificateExpiryNotified(ctx, row.ID, now)
		},
		Emit: func(row Row) (string, events.Envelope, error) {
			expires := row.Time("expires_at")
			env, err := events.NewEnvelope(events.TypeNotification, events.NotificationPayload{
				Kind:       KindCertificateExpiring,
				Title:      "Compliance certificate expiring",
				Message:    fmt.Sprintf("%s certificate expires %s", row.String("kind"), expires.Format(time.DateOnly)),
				EntityType: "compliance_certificates",
				EntityID:   row.ID,
				Context: map[string]any{
					"propertyId": row.String("property_id"),
					"expiresAt":  expires.Format(time.RFC3339),
				},
			})
			return row.TenantID, env, err
		},
	}
}
