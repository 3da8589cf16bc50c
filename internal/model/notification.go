package model

import (
	"encoding/json"
	"time"
)

// Channel identifies a delivery channel for a notification.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelPush  Channel = "PUSH"
)

// Valid reports whether the channel is one of the known delivery channels.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelPush
}

// NotificationRequest is the immutable intake payload. RequestID is the
// caller-supplied idempotency key; duplicates must resolve to the same
// outcome, never a second side effect.
type NotificationRequest struct {
	RequestID    string            `json:"request_id"`
	UserID       string            `json:"user_id"`
	Channel      Channel           `json:"channel"`
	TemplateCode string            `json:"template_code"`
	Variables    map[string]string `json:"variables,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// FailureReason carries structured failure detail on an audit record.
type FailureReason struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// AuditRecord is the durable ledger entry tracking a request's lifecycle.
// One record per request id; created once, mutated only through the ledger.
type AuditRecord struct {
	RequestID       string          `json:"request_id"`
	UserID          string          `json:"user_id"`
	Channel         Channel         `json:"channel"`
	Status          Status          `json:"status"`
	PayloadSnapshot json.RawMessage `json:"payload_snapshot,omitempty"`
	FailureReason   *FailureReason  `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Preferences holds the per-channel opt-in flags from the profile service.
type Preferences struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
}

// Allows reports whether the user has opted in to the given channel.
func (p Preferences) Allows(c Channel) bool {
	switch c {
	case ChannelEmail:
		return p.Email
	case ChannelPush:
		return p.Push
	default:
		return false
	}
}

// UserProfile is the read-only view of a user served by the profile service.
// Fetched per request, never cached beyond the circuit breaker's own state.
type UserProfile struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	Name        string      `json:"name"`
	PushToken   string      `json:"push_token,omitempty"`
	Preferences Preferences `json:"preference"`
}

// EnrichedPayload is the outbound message handed to the broker: the original
// request merged with resolved contact data. Persisted only as the audit
// record's payload snapshot at queue time.
type EnrichedPayload struct {
	RequestID    string            `json:"request_id"`
	UserID       string            `json:"user_id"`
	Channel      Channel           `json:"channel"`
	TemplateCode string            `json:"template_code"`
	Variables    map[string]string `json:"variables,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	EmailAddress string            `json:"email_address,omitempty"`
	PushToken    string            `json:"push_token,omitempty"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
}

// StatusReport is a delivery outcome reported back by a downstream worker,
// over HTTP or the report queue. NotificationID equals the original request id.
type StatusReport struct {
	NotificationID string            `json:"notification_id"`
	Status         Status            `json:"status"`
	Timestamp      time.Time         `json:"timestamp,omitempty"`
	Error          string            `json:"error,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
}
