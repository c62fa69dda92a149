package audit

import (
	"context"

	"github.com/sandeepkv93/pos-trust-core/internal/domain"
)

type EventStore interface {
	Create(ctx context.Context, event *domain.AuditEvent) error
}

// RepositorySink persists events to the audit table.
type RepositorySink struct {
	store EventStore
}

func NewRepositorySink(store EventStore) *RepositorySink {
	return &RepositorySink{store: store}
}

func (s *RepositorySink) Name() string { return "repository" }

func (s *RepositorySink) Record(ctx context.Context, event Event) error {
	if event.Persisted {
		return nil
	}
	return s.store.Create(context.WithoutCancel(ctx), event.ToDomain())
}
