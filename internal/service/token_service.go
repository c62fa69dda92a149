package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sandeepkv93/pos-trust-core/internal/apperror"
	"github.com/sandeepkv93/pos-trust-core/internal/audit"
	"github.com/sandeepkv93/pos-trust-core/internal/domain"
	"github.com/sandeepkv93/pos-trust-core/internal/observability"
	"github.com/sandeepkv93/pos-trust-core/internal/repository"
	"github.com/sandeepkv93/pos-trust-core/internal/security"
	"github.com/sandeepkv93/pos-trust-core/internal/store"
)

const revokedNamespace = "revoked_tokens"

// ErrRefreshTokenReuseDetected is wrapped into the refresh-revoked error when
// a rotated-out refresh token is presented again.
var ErrRefreshTokenReuseDetected = errors.New("refresh token reuse detected")

type TokenConfig struct {
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	RevocationCapacity int
	// Secret keys device fingerprints and raw-token digests.
	Secret string
}

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

// RequestMeta describes where a request came from.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type TokenService struct {
	jwtMgr   *security.JWTManager
	sessions repository.SessionRepository
	revoked  store.KeyedStore
	recorder *audit.Recorder
	cfg      TokenConfig
	logger   *slog.Logger
	now      func() time.Time

	evictMu sync.Mutex
}

func NewTokenService(jwtMgr *security.JWTManager, sessions repository.SessionRepository, revoked store.KeyedStore, recorder *audit.Recorder, cfg TokenConfig, logger *slog.Logger) *TokenService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.RevocationCapacity <= 0 {
		cfg.RevocationCapacity = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{
		jwtMgr:   jwtMgr,
		sessions: sessions,
		revoked:  revoked,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *TokenService) Fingerprint(device *security.DeviceInfo) string {
	return security.FingerprintDevice(device, []byte(s.cfg.Secret))
}

// Issue starts a new session for user and returns its first token pair.
func (s *TokenService) Issue(ctx context.Context, user *domain.User, device *security.DeviceInfo, meta RequestMeta) (*TokenPair, error) {
	sessionID := uuid.NewString()
	fingerprint := s.Fingerprint(device)

	refresh, refreshClaims, err := s.jwtMgr.SignRefreshToken(user.ID, sessionID, s.cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	if err := s.sessions.Create(ctx, &domain.Session{
		ID:                    sessionID,
		UserID:                user.ID,
		RefreshJTI:            refreshClaims.ID,
		DeviceFingerprintHash: fingerprint,
		UserAgent:             meta.UserAgent,
		IP:                    meta.IP,
		ExpiresAt:             refreshClaims.ExpiresAt.Time,
	}); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	access, accessClaims, err := s.signAccess(user, sessionID, fingerprint)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
		SessionID:        sessionID,
	}, nil
}

// VerifyAccess validates an access token. When device is supplied and the
// token carries a fingerprint, the fingerprints must match.
func (s *TokenService) VerifyAccess(ctx context.Context, raw string, device *security.DeviceInfo) (*security.Claims, error) {
	claims, err := s.verifyAccess(ctx, raw, device)
	if err != nil {
		observability.RecordTokenValidation(security.TokenTypeAccess, apperror.From(err).Code)
		return nil, err
	}
	observability.RecordTokenValidation(security.TokenTypeAccess, "valid")
	return claims, nil
}

func (s *TokenService) verifyAccess(ctx context.Context, raw string, device *security.DeviceInfo) (*security.Claims, error) {
	if raw == "" {
		return nil, apperror.ErrTokenInvalid
	}
	if revoked, err := s.isRevoked(ctx, "raw:"+s.digest(raw)); err != nil {
		return nil, err
	} else if revoked {
		return nil, apperror.ErrTokenRevoked
	}
	claims, err := s.jwtMgr.ParseAccessToken(raw)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, apperror.ErrTokenExpired
		case errors.Is(err, security.ErrUnexpectedTokenType):
			return nil, apperror.ErrInvalidTokenType
		default:
			return nil, apperror.ErrTokenInvalid.Wrap(err)
		}
	}
	if revoked, err := s.anyRevoked(ctx, "jti:"+claims.ID, "sid:"+claims.SessionID); err != nil {
		return nil, err
	} else if revoked {
		return nil, apperror.ErrTokenRevoked
	}
	if device != nil && !device.Empty() && claims.DeviceFingerprintHash != "" {
		if !security.VerifyHMACConstantTime(s.Fingerprint(device), claims.DeviceFingerprintHash) {
			return nil, apperror.ErrDeviceMismatch
		}
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token. Access tokens presented here fail
// with ErrInvalidTokenType.
func (s *TokenService) VerifyRefresh(ctx context.Context, raw string) (*security.Claims, error) {
	claims, err := s.parseRefresh(raw)
	if err != nil {
		observability.RecordTokenValidation(security.TokenTypeRefresh, apperror.From(err).Code)
		return nil, err
	}
	if revoked, err := s.anyRevoked(ctx, "raw:"+s.digest(raw), "jti:"+claims.ID, "sid:"+claims.SessionID); err != nil {
		return nil, err
	} else if revoked {
		observability.RecordTokenValidation(security.TokenTypeRefresh, apperror.ErrRefreshRevoked.Code)
		return nil, apperror.ErrRefreshRevoked
	}
	observability.RecordTokenValidation(security.TokenTypeRefresh, "valid")
	return claims, nil
}

func (s *TokenService) parseRefresh(raw string) (*security.Claims, error) {
	if raw == "" {
		return nil, apperror.ErrTokenInvalid
	}
	claims, err := s.jwtMgr.ParseRefreshToken(raw)
	if err == nil {
		return claims, nil
	}
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, apperror.ErrRefreshExpired
	case errors.Is(err, security.ErrUnexpectedTokenType):
		return nil, apperror.ErrInvalidTokenType
	}
	if _, accessErr := s.jwtMgr.ParseAccessToken(raw); accessErr == nil || errors.Is(accessErr, jwt.ErrTokenExpired) {
		return nil, apperror.ErrInvalidTokenType
	}
	return nil, apperror.ErrTokenInvalid.Wrap(err)
}

// UserLoader resolves the current state of a token's subject.
type UserLoader func(ctx context.Context, userID string) (*domain.User, error)

// Rotate exchanges a refresh token for a new pair within the same session.
// Presenting a refresh token that has already been rotated out revokes the
// whole session.
func (s *TokenService) Rotate(ctx context.Context, raw string, loadUser UserLoader, meta RequestMeta) (*TokenPair, *domain.User, error) {
	claims, err := s.parseRefresh(raw)
	if err != nil {
		return nil, nil, err
	}
	session, err := s.sessions.FindByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, nil, apperror.ErrRefreshRevoked
		}
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	if session.UserID != claims.UserID() {
		return nil, nil, apperror.ErrTokenInvalid
	}
	if session.RevokedAt != nil {
		return nil, nil, apperror.ErrRefreshRevoked
	}
	if session.RefreshJTI != claims.ID {
		s.handleReuse(ctx, session, claims, meta)
		return nil, nil, apperror.ErrRefreshRevoked.Wrap(ErrRefreshTokenReuseDetected)
	}
	if !session.Active(s.now()) {
		return nil, nil, apperror.ErrRefreshExpired
	}
	if revoked, err := s.anyRevoked(ctx, "raw:"+s.digest(raw), "jti:"+claims.ID, "sid:"+claims.SessionID); err != nil {
		return nil, nil, err
	} else if revoked {
		return nil, nil, apperror.ErrRefreshRevoked
	}

	user, err := loadUser(ctx, claims.UserID())
	if err != nil {
		return nil, nil, err
	}
	if !user.Active() {
		if _, err := s.RevokeAllSessions(ctx, user.ID, "account_disabled"); err != nil {
			s.logger.WarnContext(ctx, "revoke sessions of disabled account failed", "user_id", user.ID, "error", err)
		}
		return nil, nil, apperror.ErrAccountDisabled
	}

	refresh, refreshClaims, err := s.jwtMgr.SignRefreshToken(user.ID, session.ID, s.cfg.RefreshTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("sign refresh token: %w", err)
	}
	rotated, err := s.sessions.RotateRefreshJTI(ctx, session.ID, claims.ID, refreshClaims.ID, refreshClaims.ExpiresAt.Time)
	if err != nil {
		return nil, nil, fmt.Errorf("rotate session: %w", err)
	}
	if !rotated {
		// Lost a race with a concurrent rotation of the same token.
		return nil, nil, apperror.ErrRefreshRevoked
	}
	if err := s.addRevoked(ctx, "jti:"+claims.ID, claims.ExpiresAt.Time); err != nil {
		s.logger.WarnContext(ctx, "revoked set update failed", "error", err)
	}
	access, accessClaims, err := s.signAccess(user, session.ID, session.DeviceFingerprintHash)
	if err != nil {
		return nil, nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
		SessionID:        session.ID,
	}, user, nil
}

func (s *TokenService) handleReuse(ctx context.Context, session *domain.Session, claims *security.Claims, meta RequestMeta) {
	if err := s.sessions.MarkReuseDetected(ctx, session.ID); err != nil {
		s.logger.WarnContext(ctx, "mark refresh reuse failed", "session_id", session.ID, "error", err)
	}
	if err := s.addRevoked(ctx, "sid:"+session.ID, session.ExpiresAt); err != nil {
		s.logger.WarnContext(ctx, "revoked set update failed", "error", err)
	}
	s.recorder.Record(ctx, audit.Event{
		Type:       audit.EventRefreshReuseDetected,
		ActorID:    session.UserID,
		Origin:     meta.IP,
		UserAgent:  meta.UserAgent,
		Reason:     "rotated refresh token presented again",
		ResourceID: session.ID,
		Metadata:   map[string]any{"jti": claims.ID},
	})
}

// Revoke invalidates raw whatever its type and takes its session down with
// it. Tokens whose signature does not verify are never accepted, so they are
// not stored.
func (s *TokenService) Revoke(ctx context.Context, raw string) error {
	claims := s.verifiedClaims(raw)
	if claims == nil {
		return nil
	}
	expiresAt := s.now().Add(s.cfg.RefreshTTL)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := s.addRevoked(ctx, "raw:"+s.digest(raw), expiresAt); err != nil {
		return err
	}
	if err := s.addRevoked(ctx, "jti:"+claims.ID, expiresAt); err != nil {
		return err
	}
	if claims.SessionID != "" {
		return s.RevokeSession(ctx, claims.SessionID, "logout")
	}
	return nil
}

// verifiedClaims returns the claims of raw when it verifies as an access or a
// refresh token, nil otherwise. Revocation status is not consulted.
func (s *TokenService) verifiedClaims(raw string) *security.Claims {
	if raw == "" {
		return nil
	}
	if claims, err := s.jwtMgr.ParseAccessToken(raw); err == nil {
		return claims
	}
	if claims, err := s.jwtMgr.ParseRefreshToken(raw); err == nil {
		return claims
	}
	return nil
}

// RevokeSession revokes the session row and every token bound to it.
func (s *TokenService) RevokeSession(ctx context.Context, sessionID, reason string) error {
	if _, err := s.sessions.Revoke(ctx, sessionID, reason); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return s.addRevoked(ctx, "sid:"+sessionID, s.now().Add(s.cfg.RefreshTTL))
}

// RevokeAllSessions signs userID out everywhere. Each live session id is added
// to the revoked set so access tokens already handed out die with their rows.
func (s *TokenService) RevokeAllSessions(ctx context.Context, userID, reason string) (int, error) {
	sessions, err := s.sessions.ListActiveByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	for _, session := range sessions {
		if err := s.addRevoked(ctx, "sid:"+session.ID, session.ExpiresAt); err != nil {
			return 0, err
		}
	}
	if _, err := s.sessions.RevokeByUserID(ctx, userID, reason); err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return len(sessions), nil
}

// RevokedCount reports the live size of the revoked set.
func (s *TokenService) RevokedCount(ctx context.Context) (int64, error) {
	return s.revoked.Len(ctx, revokedNamespace)
}

func (s *TokenService) signAccess(user *domain.User, sessionID, fingerprint string) (string, *security.Claims, error) {
	access, claims, err := s.jwtMgr.SignAccessToken(security.AccessSubject{
		UserID:                user.ID,
		Username:              user.Username,
		Role:                  string(user.Role),
		StoreID:               user.StoreID,
		SessionID:             sessionID,
		DeviceFingerprintHash: fingerprint,
	}, s.cfg.AccessTTL)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return access, claims, nil
}

func (s *TokenService) digest(raw string) string {
	return security.HashToken(raw, s.cfg.Secret)
}

func (s *TokenService) isRevoked(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.revoked.Get(ctx, revokedNamespace, key)
	if err != nil {
		return false, fmt.Errorf("check revoked set: %w", err)
	}
	return ok, nil
}

func (s *TokenService) anyRevoked(ctx context.Context, keys ...string) (bool, error) {
	for _, k := range keys {
		revoked, err := s.isRevoked(ctx, k)
		if err != nil || revoked {
			return revoked, err
		}
	}
	return false, nil
}

// addRevoked keeps key until expiresAt, after which the token is dead anyway.
func (s *TokenService) addRevoked(ctx context.Context, key string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.revoked.Set(ctx, revokedNamespace, key, "1", ttl+time.Minute); err != nil {
		return fmt.Errorf("add to revoked set: %w", err)
	}
	return s.enforceCapacity(ctx)
}

// enforceCapacity evicts half the set once it grows past capacity; the
// earliest revocations go first.
func (s *TokenService) enforceCapacity(ctx context.Context) error {
	s.evictMu.Lock()
	defer s.evictMu.Unlock()
	n, err := s.revoked.Len(ctx, revokedNamespace)
	if err != nil {
		return err
	}
	if n <= int64(s.cfg.RevocationCapacity) {
		return nil
	}
	evicted, err := s.revoked.EvictOldest(ctx, revokedNamespace, n/2)
	if err != nil {
		return err
	}
	observability.RecordRevocationEviction(ctx, evicted)
	s.logger.InfoContext(ctx, "revoked set trimmed", "evicted", evicted, "capacity", s.cfg.RevocationCapacity)
	return nil
}
