// Package audit records structured security and ledger events. Recording is
// best-effort: sink failures are logged and counted, never returned to callers.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/pos-trust-core/internal/domain"
)

type EventType string

const (
	EventLoginSucceeded       EventType = "login_succeeded"
	EventLoginFailed          EventType = "login_failed"
	EventAccountLocked        EventType = "account_locked"
	EventAccountDisabled      EventType = "account_disabled"
	EventTokenRefreshed       EventType = "token_refreshed"
	EventTokenRevoked         EventType = "token_revoked"
	EventRefreshReuseDetected EventType = "refresh_token_reuse_detected"
	EventTokenRejected        EventType = "token_rejected"
	EventCSRFMismatch         EventType = "csrf_mismatch"
	EventRateLimited          EventType = "rate_limited"
	EventAccessDenied         EventType = "access_denied"
	EventTransactionCompleted EventType = "transaction_completed"
	EventTransactionBlocked   EventType = "transaction_blocked"
	EventTransactionAborted   EventType = "transaction_aborted"
	EventIntegrityMismatch    EventType = "integrity_mismatch"
	EventDecryptionFailed     EventType = "decryption_failed"
	EventFraudScoringFailed   EventType = "fraud_scoring_failed"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// DefaultSeverity is used when an event is recorded without an explicit severity.
func DefaultSeverity(t EventType) Severity {
	switch t {
	case EventLoginSucceeded, EventTokenRefreshed, EventTokenRevoked, EventTransactionCompleted:
		return SeverityInfo
	case EventRefreshReuseDetected, EventIntegrityMismatch, EventDecryptionFailed, EventAccountLocked:
		return SeverityCritical
	default:
		return SeverityWarning
	}
}

type Event struct {
	ID         string
	Type       EventType
	Severity   Severity
	ActorID    string
	Origin     string
	UserAgent  string
	Reason     string
	ResourceID string
	Metadata   map[string]any
	OccurredAt time.Time
	// Persisted marks events already written to the audit table inside a
	// database transaction.
	Persisted bool
}

// ToDomain converts e into its persisted form.
func (e Event) ToDomain() *domain.AuditEvent {
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	sev := e.Severity
	if sev == "" {
		sev = DefaultSeverity(e.Type)
	}
	return &domain.AuditEvent{
		ID:         id,
		Type:       string(e.Type),
		Severity:   string(sev),
		ActorID:    e.ActorID,
		Origin:     e.Origin,
		UserAgent:  truncate(e.UserAgent, 512),
		Reason:     truncate(e.Reason, 255),
		ResourceID: e.ResourceID,
		Metadata:   e.Metadata,
		CreatedAt:  e.OccurredAt,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
