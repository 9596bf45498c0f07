package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// maxNotifyPayload stays under PostgreSQL's 8000-byte NOTIFY limit with room
// for the channel name.
const maxNotifyPayload = 7900

// routingKeys survive truncation so clients can still invalidate the right
// cache entry or refetch the incident.
var routingKeys = []string{"entity", "entityId", "entityType", "action", "kind", "title", "incidentId", "severity", "metric"}

// PostgresPublisher broadcasts envelopes to every hub process through
// pg_notify on the tenant channel. Nothing is persisted; a process that is
// not listening when the NOTIFY fires never sees it.
type PostgresPublisher struct {
	db *sql.DB
}

// NewPostgresPublisher creates a publisher.
// The db parameter should be the *sql.DB from database.Client.DB().
func NewPostgresPublisher(db *sql.DB) *PostgresPublisher {
	return &PostgresPublisher{db: db}
}

// Publish sends env on the tenant's NOTIFY channel.
func (p *PostgresPublisher) Publish(ctx context.Context, tenantID string, env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode %s envelope: %w", env.Type, err)
	}
	payload, err := truncateIfNeeded(env, data)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", TenantChannel(tenantID), payload); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// truncateIfNeeded returns the encoded envelope as-is when it fits, otherwise
// the same envelope with data reduced to its routing keys plus "truncated".
func truncateIfNeeded(env Envelope, encoded []byte) (string, error) {
	if len(encoded) <= maxNotifyPayload {
		return string(encoded), nil
	}

	var full map[string]any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &full); err != nil {
			return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
		}
	}
	reduced := map[string]any{"truncated": true}
	for _, k := range routingKeys {
		if v, ok := full[k]; ok {
			if s, isStr := v.(string); isStr && len(s) > 256 {
				continue
			}
			reduced[k] = v
		}
	}

	env.Data, _ = json.Marshal(reduced)
	out, err := env.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(out), nil
}
