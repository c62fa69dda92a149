package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/pos-trust-core/internal/observability"
)

// Sink is a destination for security events.
type Sink interface {
	Name() string
	Record(ctx context.Context, event Event) error
}

// Recorder fans events out to every sink. It never fails.
type Recorder struct {
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sinks: sinks, logger: logger, now: time.Now}
}

// NopRecorder discards events. Useful for tests that do not assert on auditing.
func NopRecorder() *Recorder {
	return NewRecorder(slog.New(slog.DiscardHandler))
}

func (r *Recorder) Record(ctx context.Context, event Event) {
	if r == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Severity == "" {
		event.Severity = DefaultSeverity(event.Type)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now().UTC()
	}
	observability.RecordSecurityEvent(ctx, string(event.Type), string(event.Severity))
	for _, sink := range r.sinks {
		r.deliver(ctx, sink, event)
	}
}

func (r *Recorder) deliver(ctx context.Context, sink Sink, event Event) {
	defer func() {
		if p := recover(); p != nil {
			r.fail(ctx, sink, event, fmt.Errorf("panic: %v", p))
		}
	}()
	if err := sink.Record(ctx, event); err != nil {
		r.fail(ctx, sink, event, err)
	}
}

func (r *Recorder) fail(ctx context.Context, sink Sink, event Event, err error) {
	observability.RecordSecurityEventSinkFailure(ctx, sink.Name())
	r.logger.WarnContext(ctx, "security event sink failed",
		"sink", sink.Name(),
		"event_type", string(event.Type),
		"event_id", event.ID,
		"error", err,
	)
}
