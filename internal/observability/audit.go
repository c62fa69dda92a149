package observability

import (
	"context"
	"log/slog"
)

// AuditContext writes an "audit" record carrying the event name.
func AuditContext(ctx context.Context, logger *slog.Logger, level slog.Level, event string, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(ctx, level, "audit", append([]any{"event", event}, attrs...)...)
}
