package domain

import "time"

// AuditEvent is a persisted security or ledger audit record. Metadata never
// carries secrets or payment data.
type AuditEvent struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	Type       string         `gorm:"size:64;index;not null" json:"type"`
	Severity   string         `gorm:"size:16;not null" json:"severity"`
	ActorID    string         `gorm:"size:64;index" json:"actor_id,omitempty"`
	Origin     string         `gorm:"size:64" json:"origin,omitempty"`
	UserAgent  string         `gorm:"size:512" json:"user_agent,omitempty"`
	Reason     string         `gorm:"size:255" json:"reason,omitempty"`
	ResourceID string         `gorm:"size:64;index" json:"resource_id,omitempty"`
	Metadata   map[string]any `gorm:"serializer:json" json:"metadata,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}
