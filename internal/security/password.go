package security

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost       = 14
	DefaultVerifyMinLatency = 100 * time.Millisecond
)

// PasswordHash is a stored credential. Salt is the bcrypt salt segment, kept
// for callers that record it separately; Hash alone is sufficient to verify.
type PasswordHash struct {
	Hash string
	Salt string
}

// DelayFunc waits for d or until ctx is done. It must not hold shared workers.
type DelayFunc func(ctx context.Context, d time.Duration)

// PasswordHasher hashes with bcrypt and equalizes verification latency so
// success, mismatch and error paths are indistinguishable by wall clock.
type PasswordHasher struct {
	cost       int
	minLatency time.Duration
	delay      DelayFunc
	now        func() time.Time

	dummyOnce sync.Once
	dummy     string
}

func NewPasswordHasher(cost int, minLatency time.Duration) *PasswordHasher {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	if minLatency < 0 {
		minLatency = 0
	}
	return &PasswordHasher{cost: cost, minLatency: minLatency, delay: WaitContext, now: time.Now}
}

// WithDelay swaps the delay primitive; tests use it to observe equalization.
func (h *PasswordHasher) WithDelay(delay DelayFunc) *PasswordHasher {
	if delay != nil {
		h.delay = delay
	}
	return h
}

func (h *PasswordHasher) Hash(password string) (PasswordHash, error) {
	if password == "" {
		return PasswordHash{}, errors.New("empty password")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return PasswordHash{}, err
	}
	hash := string(b)
	return PasswordHash{Hash: hash, Salt: bcryptSalt(hash)}, nil
}

// Verify reports whether password matches hash. It never returns before the
// configured minimum latency has elapsed.
func (h *PasswordHasher) Verify(ctx context.Context, password, hash string) bool {
	start := h.now()
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		h.delay(ctx, h.minLatency)
		return false
	}
	if remaining := h.minLatency - h.now().Sub(start); remaining > 0 {
		h.delay(ctx, remaining)
	}
	return err == nil
}

// DummyHash is verified against when the account does not exist so unknown
// usernames cost the same as wrong passwords.
func (h *PasswordHasher) DummyHash() string {
	h.dummyOnce.Do(func() {
		b, err := bcrypt.GenerateFromPassword([]byte("pos-trust-core-dummy-credential"), h.cost)
		if err == nil {
			h.dummy = string(b)
		}
	})
	return h.dummy
}

func WaitContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// bcrypt hashes are $2a$cc$<22 salt chars><31 hash chars>.
func bcryptSalt(hash string) string {
	if len(hash) < 29 {
		return ""
	}
	return hash[7:29]
}
