package health

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/sandeepkv93/pos-trust-core/internal/database"
)

type CheckResult struct {
	Name       string `json:"name"`
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

type CheckerFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (c CheckerFunc) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := c.Fn(ctx)
	res := CheckResult{Name: c.Name, Healthy: err == nil, DurationMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func DBChecker(db *gorm.DB) Checker {
	return CheckerFunc{Name: "db", Fn: func(ctx context.Context) error { return database.Ping(ctx, db) }}
}

func RedisChecker(client redis.UniversalClient) Checker {
	return CheckerFunc{Name: "redis", Fn: func(ctx context.Context) error { return client.Ping(ctx).Err() }}
}

// ProbeRunner runs readiness checks concurrently, each bounded by timeout.
// Results are reused for cacheTTL to keep probe storms off the backends.
type ProbeRunner struct {
	timeout  time.Duration
	cacheTTL time.Duration
	checkers []Checker

	mu       sync.Mutex
	cachedAt time.Time
	cached   []CheckResult
	ready    bool
}

func NewProbeRunner(timeout, cacheTTL time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{timeout: timeout, cacheTTL: cacheTTL, checkers: checkers}
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	if p.cacheTTL > 0 {
		p.mu.Lock()
		if !p.cachedAt.IsZero() && time.Since(p.cachedAt) < p.cacheTTL {
			ready, cached := p.ready, append([]CheckResult(nil), p.cached...)
			p.mu.Unlock()
			return ready, cached
		}
		p.mu.Unlock()
	}

	results := make([]CheckResult, len(p.checkers))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range p.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, p.timeout)
			defer cancel()
			results[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	ready := true
	for _, r := range results {
		if !r.Healthy {
			ready = false
		}
	}
	if p.cacheTTL > 0 {
		p.mu.Lock()
		p.ready, p.cached, p.cachedAt = ready, results, time.Now()
		p.mu.Unlock()
	}
	return ready, results
}
