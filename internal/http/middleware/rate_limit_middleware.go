package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sandeepkv93/pos-trust-core/internal/apperror"
	"github.com/sandeepkv93/pos-trust-core/internal/audit"
	"github.com/sandeepkv93/pos-trust-core/internal/http/response"
	"github.com/sandeepkv93/pos-trust-core/internal/observability"
	"github.com/sandeepkv93/pos-trust-core/internal/store"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// SlidingWindowLimiter approximates a sliding window from two fixed-window
// counters held in a KeyedStore, so limits hold across replicas when the
// store is Redis.
type SlidingWindowLimiter struct {
	store     store.KeyedStore
	namespace string
	now       func() time.Time
}

func NewSlidingWindowLimiter(kv store.KeyedStore, namespace string) *SlidingWindowLimiter {
	if namespace == "" {
		namespace = "rate_limit"
	}
	return &SlidingWindowLimiter{store: kv, namespace: namespace, now: time.Now}
}

func (l *SlidingWindowLimiter) WithClock(now func() time.Time) *SlidingWindowLimiter {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.now()
	bucket := now.UnixNano() / int64(policy.Window)
	bucketStart := time.Unix(0, bucket*int64(policy.Window))
	resetAt := bucketStart.Add(policy.Window)

	current, err := l.store.Increment(ctx, l.namespace, fmt.Sprintf("%s:%d", key, bucket), 2*policy.Window)
	if err != nil {
		return Decision{}, err
	}
	var previous int64
	raw, ok, err := l.store.Get(ctx, l.namespace, fmt.Sprintf("%s:%d", key, bucket-1))
	if err != nil {
		return Decision{}, err
	}
	if ok {
		previous, _ = strconv.ParseInt(raw, 10, 64)
	}

	elapsed := float64(now.Sub(bucketStart)) / float64(policy.Window)
	estimate := float64(previous)*(1-elapsed) + float64(current)
	allowed := estimate <= float64(policy.Limit)
	remaining := policy.Limit - int(math.Ceil(estimate))
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{Allowed: allowed, Remaining: remaining, ResetAt: resetAt}
	if !allowed {
		d.RetryAfter = resetAt.Sub(now)
	}
	return d, nil
}

type RateLimiter struct {
	limiter  Limiter
	policy   RateLimitPolicy
	mode     FailureMode
	scope    string
	keyFunc  func(r *http.Request) string
	recorder *audit.Recorder
}

func NewRateLimiter(limiter Limiter, policy RateLimitPolicy, mode FailureMode, scope string, keyFunc func(r *http.Request) string, recorder *audit.Recorder) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	if keyFunc == nil {
		keyFunc = clientIPKey
	}
	if recorder == nil {
		recorder = audit.NopRecorder()
	}
	return &RateLimiter{
		limiter:  limiter,
		policy:   normalizePolicy(policy),
		mode:     mode,
		scope:    scope,
		keyFunc:  keyFunc,
		recorder: recorder,
	}
}

// PerMinute builds a limiter over kv allowing rpm requests per minute.
func PerMinute(kv store.KeyedStore, scope string, rpm int, keyFunc func(r *http.Request) string, recorder *audit.Recorder) *RateLimiter {
	return NewRateLimiter(
		NewSlidingWindowLimiter(kv, "rate_limit:"+scope),
		RateLimitPolicy{Limit: rpm, Window: time.Minute},
		FailOpen,
		scope,
		keyFunc,
		recorder,
	)
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIPKey(r)
			}
			decision, err := rl.limiter.Allow(r.Context(), key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error")
				if rl.mode == FailOpen {
					slog.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
						"scope", rl.scope,
						"error", err.Error(),
					)
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("Retry-After", retryAfterHeader(rl.policy.Window))
				response.AppError(w, r, apperror.ErrRateLimited)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.policy.Limit, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				actor := ""
				if rateLimitKeyType(key) == "subject" {
					actor = strings.TrimPrefix(key, "sub:")
				}
				rl.recorder.Record(r.Context(), audit.Event{
					Type:      audit.EventRateLimited,
					ActorID:   actor,
					Origin:    ClientIP(r),
					UserAgent: r.UserAgent(),
					Reason:    rl.scope + " limit exceeded",
					Metadata:  map[string]any{"scope": rl.scope, "key_type": rateLimitKeyType(key), "path": r.URL.Path},
				})
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.AppError(w, r, apperror.ErrRateLimited)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectOrIPKey keys authenticated requests by subject and falls back to the
// client address. It must run after AuthMiddleware to see the subject.
func SubjectOrIPKey(r *http.Request) string {
	if claims, ok := ClaimsFromContext(r.Context()); ok && claims.UserID() != "" {
		return "sub:" + claims.UserID()
	}
	return clientIPKey(r)
}

func clientIPKey(r *http.Request) string {
	return "ip:" + ClientIP(r)
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func writeRateLimitHeaders(h http.Header, limit int, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.Limit <= 0 {
		policy.Limit = 1
	}
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	return policy
}

func rateLimitKeyType(key string) string {
	if strings.HasPrefix(key, "sub:") {
		return "subject"
	}
	return "ip"
}
