package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/pos-trust-core/internal/domain"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindByID(ctx context.Context, id string) (*domain.Session, error)
	ListActiveByUserID(ctx context.Context, userID string) ([]domain.Session, error)
	// RotateRefreshJTI swaps the session's refresh jti only when the stored
	// value is still oldJTI and the session is active. It reports whether the
	// swap happened.
	RotateRefreshJTI(ctx context.Context, sessionID, oldJTI, newJTI string, expiresAt time.Time) (bool, error)
	MarkReuseDetected(ctx context.Context, sessionID string) error
	Revoke(ctx context.Context, sessionID, reason string) (bool, error)
	RevokeByUserID(ctx context.Context, userID, reason string) (int64, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	record(ctx, "session", "create", err)
	return err
}

func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrSessionNotFound
	}
	record(ctx, "session", "find_by_id", err, ErrSessionNotFound)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(ctx context.Context, userID string) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, time.Now().UTC()).
		Order("created_at DESC").
		Find(&sessions).Error
	record(ctx, "session", "list_active_by_user_id", err)
	return sessions, err
}

func (r *GormSessionRepository) RotateRefreshJTI(ctx context.Context, sessionID, oldJTI, newJTI string, expiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND refresh_jti = ? AND revoked_at IS NULL AND expires_at > ?", sessionID, oldJTI, time.Now().UTC()).
		Updates(map[string]any{"refresh_jti": newJTI, "expires_at": expiresAt})
	record(ctx, "session", "rotate_refresh_jti", res.Error)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormSessionRepository) MarkReuseDetected(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	reason := "reuse_detected"
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"reuse_detected_at": now,
			"revoked_at":        gorm.Expr("COALESCE(revoked_at, ?)", now),
			"revoked_reason":    reason,
		}).Error
	record(ctx, "session", "mark_reuse_detected", err)
	return err
}

func (r *GormSessionRepository) Revoke(ctx context.Context, sessionID, reason string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Updates(map[string]any{"revoked_at": time.Now().UTC(), "revoked_reason": reason})
	record(ctx, "session", "revoke", res.Error)
	return res.RowsAffected > 0, res.Error
}

func (r *GormSessionRepository) RevokeByUserID(ctx context.Context, userID, reason string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]any{"revoked_at": time.Now().UTC(), "revoked_reason": reason})
	record(ctx, "session", "revoke_by_user_id", res.Error)
	return res.RowsAffected, res.Error
}

func (r *GormSessionRepository) CleanupExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", time.Now().UTC()).Delete(&domain.Session{})
	record(ctx, "session", "cleanup_expired", res.Error)
	return res.RowsAffected, res.Error
}
