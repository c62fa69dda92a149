package audit

import (
	"context"
	"log/slog"

	"github.com/sandeepkv93/pos-trust-core/internal/observability"
)

// SlogSink writes events as "audit" log records.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Name() string { return "slog" }

func (s *SlogSink) Record(ctx context.Context, event Event) error {
	level := slog.LevelInfo
	switch event.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	attrs := []any{
		"event_id", event.ID,
		"severity", string(event.Severity),
	}
	if event.ActorID != "" {
		attrs = append(attrs, "actor_id", event.ActorID)
	}
	if event.Origin != "" {
		attrs = append(attrs, "origin", event.Origin)
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	if event.ResourceID != "" {
		attrs = append(attrs, "resource_id", event.ResourceID)
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, "metadata", event.Metadata)
	}
	observability.AuditContext(ctx, s.logger, level, string(event.Type), attrs...)
	return nil
}
