// Package audit contains domain types for the security audit trail.
package audit

import (
	"context"
	"time"
)

// EventType names a security-relevant event.
type EventType string

const (
	EventLogin           EventType = "access.login"
	EventLoginFailed     EventType = "access.login_failed"
	EventLogout          EventType = "access.logout"
	EventRefresh         EventType = "access.refresh"
	EventRegister        EventType = "user.create"
	EventPasswordChange  EventType = "user.password_change"
	EventEmailChange     EventType = "user.email_change"
	EventRoleChange      EventType = "user.role_change"
	EventSessionsRevoked EventType = "session.revoke_all"
	EventOAuthExchange   EventType = "oauth.exchange"
	EventOAuthRejected   EventType = "oauth.exchange_rejected"
	EventCSRFRejected    EventType = "csrf.rejected"
	EventRateLimited     EventType = "ratelimit.rejected"
	EventPolicyDenied    EventType = "policy.denied"
)

// Outcome values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event is one audit record. It never carries token values.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Outcome   string            `json:"outcome"`
	UserID    string            `json:"user_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	RemoteIP  string            `json:"remote_ip,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Store persists audit events.
type Store interface {
	// Append writes events. Called from a single background worker.
	Append(ctx context.Context, events ...Event) error

	// Close flushes and releases resources.
	Close() error
}

// Recorder accepts events from request handlers without blocking them.
type Recorder interface {
	Record(e Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(e Event)

// Record calls f(e).
func (f RecorderFunc) Record(e Event) { f(e) }

// Discard is a Recorder that drops every event.
var Discard Recorder = RecorderFunc(func(Event) {})
