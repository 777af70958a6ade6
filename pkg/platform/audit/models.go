// Package audit defines the security and operations events emitted by the
// authorize and token flows, and the publisher they are sent through.
package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// route and retain them differently.
type EventCategory string

const (
	// CategorySecurity covers events relevant to security monitoring and forensics.
	// These feed into SIEM systems and alerting pipelines.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity useful for debugging and volume tracking.
	CategoryOperations EventCategory = "operations"
)

type AuditEvent string

const (
	// Authorize failures worth alerting on
	EventClientNotFound      AuditEvent = "client_not_found"
	EventInvalidRedirectURI  AuditEvent = "invalid_redirect_uri"
	EventJARSignatureInvalid AuditEvent = "jar_signature_invalid"
	EventJARDecryptFailed    AuditEvent = "jar_decrypt_failed"
	EventReplayDetected      AuditEvent = "replay_detected"
	EventAuthorizeFailed     AuditEvent = "authorize_failed"

	// Token endpoint
	EventClientAssertionInvalid AuditEvent = "client_assertion_invalid"
	EventCodeRedemptionFailed   AuditEvent = "code_redemption_failed"

	// Successful outcomes
	EventCodeIssued     AuditEvent = "code_issued"
	EventSessionCreated AuditEvent = "session_created"
	EventTokenIssued    AuditEvent = "token_issued"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventClientNotFound:         CategorySecurity,
	EventInvalidRedirectURI:     CategorySecurity,
	EventJARSignatureInvalid:    CategorySecurity,
	EventJARDecryptFailed:       CategorySecurity,
	EventReplayDetected:         CategorySecurity,
	EventClientAssertionInvalid: CategorySecurity,
	EventCodeRedemptionFailed:   CategorySecurity,

	EventAuthorizeFailed: CategoryOperations,
	EventCodeIssued:      CategoryOperations,
	EventSessionCreated:  CategoryOperations,
	EventTokenIssued:     CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is transport-agnostic so publishers can fan out. It never carries
// tokens, request objects or e-mail addresses.
type Event struct {
	Category  EventCategory `json:"category"`
	Action    AuditEvent    `json:"action"`
	Timestamp time.Time     `json:"timestamp"`
	ClientID  string        `json:"client_id,omitempty"`
	Subject   string        `json:"subject,omitempty"`
	ErrorCode string        `json:"error_code,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Severity  Severity      `json:"severity,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	IP        string        `json:"ip,omitempty"`
}

// Publisher delivers events. Publish must not block on the sink or fail the
// caller's request.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
