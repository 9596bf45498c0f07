// Package events provides real-time event delivery to browser and desktop
// clients via WebSocket, with PostgreSQL NOTIFY/LISTEN for cross-process
// distribution.
//
// ════════════════════════════════════════════════════════════════
// Channel Lifecycle
// ════════════════════════════════════════════════════════════════
//
//   client                               hub
//   ──────                               ───
//   open transport        ───────────▶   Accept (pending, auth deadline armed)
//   auth {token}          ───────────▶   Authenticate
//                         ◀───────────   connection_established {clientId}
//                            or          error {message} + close 1008
//   heartbeat             ───────────▶   pong
//                         ◀───────────   heartbeat (every HeartbeatInterval)
//   pong                  ───────────▶   (activity only)
//                         ◀───────────   update / notification / metric_change /
//                                        incident_alert (tenant broadcasts)
//
// The first frame after open MUST be auth. Anything else is treated as an
// authentication failure. Frames that are not JSON objects with a non-empty
// "type" are dropped and logged; they never close the connection. Receivers
// ignore types they do not recognise.
//
// Delivery is best-effort: at most once per connection, ordered per
// connection, unordered across connections. There is no replay.
//
// ════════════════════════════════════════════════════════════════
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type is the kind of an Envelope.
type Type string

// Broadcast event types (hub → client).
const (
	TypeUpdate        Type = "update"
	TypeNotification  Type = "notification"
	TypeMetricChange  Type = "metric_change"
	TypeIncidentAlert Type = "incident_alert"
)

// Control types.
const (
	TypeConnectionEstablished Type = "connection_established"
	TypeHeartbeat             Type = "heartbeat"
	TypePong                  Type = "pong"
	TypeAuth                  Type = "auth"  // client → hub, first frame
	TypeError                 Type = "error" // hub → client
)

var knownTypes = map[Type]bool{
	TypeUpdate:                true,
	TypeNotification:          true,
	TypeMetricChange:          true,
	TypeIncidentAlert:         true,
	TypeConnectionEstablished: true,
	TypeHeartbeat:             true,
	TypePong:                  true,
	TypeAuth:                  true,
	TypeError:                 true,
}

// Known reports whether t is part of the closed set this build understands.
func (t Type) Known() bool {
	return knownTypes[t]
}

// ErrMalformedFrame is returned by Decode for frames that are not a JSON
// object with a non-empty type.
var ErrMalformedFrame = errors.New("malformed frame")

// Envelope is the wire-level message exchanged in both directions.
type Envelope struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	ClientID  string          `json:"clientId,omitempty"`
}

// NewEnvelope builds an envelope stamped with the current time.
// data is marshaled to JSON; a nil data produces an envelope without payload.
func NewEnvelope(t Type, data any) (Envelope, error) {
	env := Envelope{Type: t, Timestamp: time.Now().UTC()}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	env.Data = raw
	return env, nil
}

// MustEnvelope is NewEnvelope for payloads that cannot fail to marshal.
func MustEnvelope(t Type, data any) Envelope {
	env, err := NewEnvelope(t, data)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode parses a frame. Unknown types decode successfully; callers decide
// whether to act on them.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if strings.TrimSpace(string(env.Type)) == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return env, nil
}

// Encode marshals an envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeData unmarshals the payload into v. An empty payload leaves v untouched.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// TenantChannel returns the NOTIFY channel name for a tenant.
// Format: "tenant:{tenant_id}"
func TenantChannel(tenantID string) string {
	return "tenant:" + tenantID
}

// TenantFromChannel is the inverse of TenantChannel.
func TenantFromChannel(channel string) (string, bool) {
	tenantID, ok := strings.CutPrefix(channel, "tenant:")
	if !ok || tenantID == "" {
		return "", false
	}
	return tenantID, true
}
