package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sandeepkv93/pos-trust-core/internal/security"
	"github.com/sandeepkv93/pos-trust-core/internal/store"
)

const failedAttemptsNamespace = "failed_attempts"

type LockoutPolicy struct {
	MaxAttempts int
	Window      time.Duration
	Duration    time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: 5, Window: 15 * time.Minute, Duration: 15 * time.Minute}
}

// FailedAttemptRecord tracks consecutive failed sign-ins for one identifier.
// Once Count reaches the policy maximum, LockedUntil is LastAttemptAt plus the
// lockout duration.
type FailedAttemptRecord struct {
	Identifier    string     `json:"identifier"`
	Count         int        `json:"count"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
}

// CredentialGuard owns password hashing, strength policy and lockout state.
type CredentialGuard struct {
	hasher *security.PasswordHasher
	store  store.KeyedStore
	policy LockoutPolicy
	now    func() time.Time

	mu sync.Mutex
}

func NewCredentialGuard(hasher *security.PasswordHasher, kv store.KeyedStore, policy LockoutPolicy) *CredentialGuard {
	def := DefaultLockoutPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.Window <= 0 {
		policy.Window = def.Window
	}
	if policy.Duration <= 0 {
		policy.Duration = def.Duration
	}
	return &CredentialGuard{hasher: hasher, store: kv, policy: policy, now: time.Now}
}

func (g *CredentialGuard) WithClock(now func() time.Time) *CredentialGuard {
	if now != nil {
		g.now = now
	}
	return g
}

// LockoutIdentifier keys failed attempts by normalized username only. The
// origin is client-influenced and never part of the key.
func LockoutIdentifier(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (g *CredentialGuard) Hash(password string) (security.PasswordHash, error) {
	return g.hasher.Hash(password)
}

func (g *CredentialGuard) Verify(ctx context.Context, password, hash string) bool {
	return g.hasher.Verify(ctx, password, hash)
}

// VerifyUnknown burns a full verification against a dummy hash and always
// reports false.
func (g *CredentialGuard) VerifyUnknown(ctx context.Context, password string) bool {
	g.hasher.Verify(ctx, password, g.hasher.DummyHash())
	return false
}

func (g *CredentialGuard) ValidateStrength(password, username string) security.StrengthReport {
	return security.ValidateStrength(password, username)
}

// TrackFailedAttempt records a failure and reports whether this attempt is the
// one that reached the lockout threshold.
func (g *CredentialGuard) TrackFailedAttempt(ctx context.Context, identifier string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	rec, err := g.load(ctx, identifier)
	if err != nil {
		return false, err
	}
	if rec == nil || g.stale(rec, now) {
		rec = &FailedAttemptRecord{Identifier: identifier}
	}
	rec.Count++
	rec.LastAttemptAt = now
	if rec.Count >= g.policy.MaxAttempts {
		until := now.Add(g.policy.Duration)
		rec.LockedUntil = &until
	}
	if err := g.save(ctx, rec); err != nil {
		return false, err
	}
	return rec.Count == g.policy.MaxAttempts, nil
}

func (g *CredentialGuard) IsLocked(ctx context.Context, identifier string) (bool, error) {
	locked, _, err := g.LockedUntil(ctx, identifier)
	return locked, err
}

// LockedUntil reports whether identifier is locked and, if so, until when.
// Expired records are removed.
func (g *CredentialGuard) LockedUntil(ctx context.Context, identifier string) (bool, time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	rec, err := g.load(ctx, identifier)
	if err != nil || rec == nil {
		return false, time.Time{}, err
	}
	if g.stale(rec, now) {
		return false, time.Time{}, g.store.Delete(ctx, failedAttemptsNamespace, identifier)
	}
	if rec.Count >= g.policy.MaxAttempts && rec.LockedUntil != nil && now.Before(*rec.LockedUntil) {
		return true, *rec.LockedUntil, nil
	}
	return false, time.Time{}, nil
}

func (g *CredentialGuard) Clear(ctx context.Context, identifier string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.Delete(ctx, failedAttemptsNamespace, identifier)
}

// stale reports whether rec no longer counts: outside the window and not
// under an active lock.
func (g *CredentialGuard) stale(rec *FailedAttemptRecord, now time.Time) bool {
	if rec.LockedUntil != nil && now.Before(*rec.LockedUntil) {
		return false
	}
	if rec.LockedUntil != nil {
		return true
	}
	return now.Sub(rec.LastAttemptAt) > g.policy.Window
}

func (g *CredentialGuard) load(ctx context.Context, identifier string) (*FailedAttemptRecord, error) {
	raw, ok, err := g.store.Get(ctx, failedAttemptsNamespace, identifier)
	if err != nil {
		return nil, fmt.Errorf("load failed attempts: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var rec FailedAttemptRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, nil
	}
	return &rec, nil
}

func (g *CredentialGuard) save(ctx context.Context, rec *FailedAttemptRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ttl := g.policy.Window
	if g.policy.Duration > ttl {
		ttl = g.policy.Duration
	}
	if err := g.store.Set(ctx, failedAttemptsNamespace, rec.Identifier, string(b), ttl); err != nil {
		return fmt.Errorf("save failed attempts: %w", err)
	}
	return nil
}
