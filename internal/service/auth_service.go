package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/pos-trust-core/internal/apperror"
	"github.com/sandeepkv93/pos-trust-core/internal/audit"
	"github.com/sandeepkv93/pos-trust-core/internal/domain"
	"github.com/sandeepkv93/pos-trust-core/internal/observability"
	"github.com/sandeepkv93/pos-trust-core/internal/repository"
	"github.com/sandeepkv93/pos-trust-core/internal/security"
)

// anonymousActor attributes events raised by callers whose token did not verify.
const anonymousActor = "anonymous"

type LoginInput struct {
	Username  string
	Password  string
	IP        string
	UserAgent string
	Device    *security.DeviceInfo
}

type LoginResult struct {
	Tokens *TokenPair      `json:"tokens"`
	User   domain.UserView `json:"user"`
}

type AuthService struct {
	users    repository.UserRepository
	guard    *CredentialGuard
	tokens   *TokenService
	recorder *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewAuthService(users repository.UserRepository, guard *CredentialGuard, tokens *TokenService, recorder *audit.Recorder, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{users: users, guard: guard, tokens: tokens, recorder: recorder, logger: logger, now: time.Now}
}

func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	if now != nil {
		s.now = now
	}
	return s
}

// Authenticate checks credentials and starts a session. Every rejection emits
// exactly one security event.
func (s *AuthService) Authenticate(ctx context.Context, in LoginInput) (*LoginResult, error) {
	username := repository.NormalizeUsername(in.Username)
	if username == "" || in.Password == "" {
		observability.RecordAuthLogin("invalid_request")
		return nil, apperror.ErrValidation.WithDetails(map[string]any{"fields": []string{"username", "password"}})
	}
	identifier := LockoutIdentifier(username)
	base := audit.Event{ActorID: username, Origin: in.IP, UserAgent: in.UserAgent}

	locked, until, err := s.guard.LockedUntil(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("check lockout: %w", err)
	}
	if locked {
		observability.RecordAuthLogin("locked")
		s.record(ctx, base, audit.EventAccountLocked, "sign-in attempted while locked")
		return nil, lockedError(until, s.now())
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("load user: %w", err)
		}
		s.guard.VerifyUnknown(ctx, in.Password)
		return nil, s.failLogin(ctx, identifier, base, "unknown username")
	}
	base.ActorID = user.ID
	if !s.guard.Verify(ctx, in.Password, user.PasswordHash) {
		return nil, s.failLogin(ctx, identifier, base, "password mismatch")
	}
	if !user.Active() {
		observability.RecordAuthLogin("disabled")
		s.record(ctx, base, audit.EventAccountDisabled, "account disabled")
		return nil, apperror.ErrAccountDisabled
	}

	if err := s.guard.Clear(ctx, identifier); err != nil {
		s.logger.WarnContext(ctx, "clear failed attempts", "error", err)
	}
	pair, err := s.tokens.Issue(ctx, user, in.Device, RequestMeta{IP: in.IP, UserAgent: in.UserAgent})
	if err != nil {
		observability.RecordAuthLogin("error")
		return nil, err
	}
	if err := s.users.TouchLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "update last login", "user_id", user.ID, "error", err)
	}
	observability.RecordAuthLogin("success")
	ev := base
	ev.ResourceID = pair.SessionID
	s.record(ctx, ev, audit.EventLoginSucceeded, "")
	return &LoginResult{Tokens: pair, User: user.View()}, nil
}

func (s *AuthService) failLogin(ctx context.Context, identifier string, base audit.Event, reason string) error {
	lockedNow, err := s.guard.TrackFailedAttempt(ctx, identifier)
	if err != nil {
		s.logger.WarnContext(ctx, "track failed attempt", "error", err)
	}
	if lockedNow {
		observability.RecordAuthLogin("locked")
		observability.RecordLockout()
		s.record(ctx, base, audit.EventAccountLocked, reason+"; lockout threshold reached")
		_, until, _ := s.guard.LockedUntil(ctx, identifier)
		return lockedError(until, s.now())
	}
	observability.RecordAuthLogin("failure")
	s.record(ctx, base, audit.EventLoginFailed, reason)
	return apperror.ErrInvalidCredentials
}

// Refresh rotates a refresh token into a new pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*TokenPair, error) {
	pair, user, err := s.tokens.Rotate(ctx, strings.TrimSpace(refreshToken), s.loadUser, meta)
	if err != nil {
		observability.RecordAuthRefresh(apperror.From(err).Code)
		if !errors.Is(err, ErrRefreshTokenReuseDetected) {
			s.record(ctx, audit.Event{Origin: meta.IP, UserAgent: meta.UserAgent}, audit.EventTokenRejected, "refresh: "+apperror.From(err).Code)
		}
		return nil, err
	}
	observability.RecordAuthRefresh("success")
	s.record(ctx, audit.Event{ActorID: user.ID, Origin: meta.IP, UserAgent: meta.UserAgent, ResourceID: pair.SessionID}, audit.EventTokenRefreshed, "")
	return pair, nil
}

// Revoke logs a token out. It never fails for bad or unknown tokens.
func (s *AuthService) Revoke(ctx context.Context, token string, meta RequestMeta) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if err := s.tokens.Revoke(ctx, token); err != nil {
		observability.RecordAuthLogout("error")
		return err
	}
	observability.RecordAuthLogout("success")
	ev := audit.Event{ActorID: anonymousActor, Origin: meta.IP, UserAgent: meta.UserAgent}
	if claims := s.tokens.verifiedClaims(token); claims != nil {
		ev.ActorID = claims.UserID()
		ev.ResourceID = claims.SessionID
	}
	s.record(ctx, ev, audit.EventTokenRevoked, "logout")
	return nil
}

// RevokeAll ends every session of userID, the caller's own included.
func (s *AuthService) RevokeAll(ctx context.Context, userID string, meta RequestMeta) (int, error) {
	n, err := s.tokens.RevokeAllSessions(ctx, userID, "logout_all")
	if err != nil {
		observability.RecordAuthLogout("error")
		return 0, err
	}
	observability.RecordAuthLogout("success")
	s.record(ctx, audit.Event{
		ActorID:   userID,
		Origin:    meta.IP,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"sessions": n},
	}, audit.EventTokenRevoked, "logout_all")
	return n, nil
}

func (s *AuthService) loadUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, apperror.ErrRefreshRevoked
	}
	return u, err
}

func (s *AuthService) record(ctx context.Context, ev audit.Event, t audit.EventType, reason string) {
	ev.Type = t
	if reason != "" {
		ev.Reason = reason
	}
	s.recorder.Record(ctx, ev)
}

func lockedError(until, now time.Time) error {
	retry := int(until.Sub(now).Seconds())
	if retry < 1 {
		retry = 1
	}
	return apperror.ErrAccountLocked.WithDetails(map[string]any{"retry_after_seconds": retry})
}
