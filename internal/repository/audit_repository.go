package repository

import (
	"context"

	"github.com/sandeepkv93/pos-trust-core/internal/domain"

	"gorm.io/gorm"
)

type AuditRepository interface {
	Create(ctx context.Context, event *domain.AuditEvent) error
	ListByType(ctx context.Context, eventType string, limit int) ([]domain.AuditEvent, error)
	ListByResource(ctx context.Context, resourceID string) ([]domain.AuditEvent, error)
}

type GormAuditRepository struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) AuditRepository { return &GormAuditRepository{db: db} }

func (r *GormAuditRepository) Create(ctx context.Context, event *domain.AuditEvent) error {
	err := r.db.WithContext(ctx).Create(event).Error
	record(ctx, "audit_event", "create", err)
	return err
}

func (r *GormAuditRepository) ListByType(ctx context.Context, eventType string, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []domain.AuditEvent
	err := r.db.WithContext(ctx).
		Where("type = ?", eventType).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	record(ctx, "audit_event", "list_by_type", err)
	return events, err
}

func (r *GormAuditRepository) ListByResource(ctx context.Context, resourceID string) ([]domain.AuditEvent, error) {
	var events []domain.AuditEvent
	err := r.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
		Order("created_at ASC").
		Find(&events).Error
	record(ctx, "audit_event", "list_by_resource", err)
	return events, err
}
