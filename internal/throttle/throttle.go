// Package throttle implements a per-actor token bucket followed by a
// pair of bounded semaphores, applied in that order before a query is
// allowed to run.
package throttle

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Default rates and concurrency limits.
const (
	DefaultRatePerSec           = 5.0
	DefaultBurst                = 10.0
	DefaultHeavyQueryConcurrency = 8
	DefaultUserQueryConcurrency  = 2

	// HeavyLimitThreshold: a query whose requested limit is at or above
	// this, or that asks for a total count, is "heavy" and contends for
	// the global heavy-query semaphore instead of bypassing it.
	HeavyLimitThreshold = 5000
)

// IsHeavy reports whether a query with the given limit/includeTotal
// request counts as heavy for semaphore purposes.
func IsHeavy(limit int, includeTotal bool) bool {
	return limit >= HeavyLimitThreshold || includeTotal
}

// Backend is an optional shared token-bucket implementation (e.g. Redis)
// that makes rate limits consistent across process replicas. When absent,
// Gate falls back to a local, mutex-protected bucket per actor.
type Backend interface {
	// Allow atomically consumes one token for actor under the given
	// rate/burst, returning whether the request is allowed and, when not,
	// how long the caller should wait before retrying.
	Allow(ctx context.Context, actor string, rate, burst float64) (allowed bool, retryAfter time.Duration, err error)
}

// Limits configures a Gate's thresholds.
type Limits struct {
	RatePerSec            float64
	Burst                 float64
	HeavyQueryConcurrency int
	UserQueryConcurrency  int
}

// DefaultLimits returns the package's documented defaults.
func DefaultLimits() Limits {
	return Limits{
		RatePerSec:            DefaultRatePerSec,
		Burst:                 DefaultBurst,
		HeavyQueryConcurrency: DefaultHeavyQueryConcurrency,
		UserQueryConcurrency:  DefaultUserQueryConcurrency,
	}
}

// Gate sequences two guards: a per-actor token bucket, then (for heavy
// queries) a global semaphore and a per-actor semaphore.
type Gate struct {
	limits Limits
	shared Backend

	bucketsMu sync.Mutex
	buckets   map[string]*localBucket

	heavy *semaphore

	userMu sync.Mutex
	user   map[string]*semaphore
}

// NewGate constructs a Gate. shared may be nil to use the local-only
// fallback bucket.
func NewGate(limits Limits, shared Backend) *Gate {
	return &Gate{
		limits:  limits,
		shared:  shared,
		buckets: make(map[string]*localBucket),
		heavy:   newSemaphore(limits.HeavyQueryConcurrency),
		user:    make(map[string]*semaphore),
	}
}

// Allow runs the token-bucket guard for actor, returning ok=false and a
// Retry-After duration when the bucket is exhausted.
func (g *Gate) Allow(ctx context.Context, actor string) (ok bool, retryAfter time.Duration, err error) {
	if g.shared != nil {
		ok, retryAfter, err := g.shared.Allow(ctx, actor, g.limits.RatePerSec, g.limits.Burst)
		if err == nil {
			return ok, retryAfter, nil
		}
		// Shared backend unavailable: fall through to the local bucket
		// rather than fail the request outright.
	}
	return g.localBucketFor(actor).take(g.limits.RatePerSec, g.limits.Burst)
}

func (g *Gate) localBucketFor(actor string) *localBucket {
	g.bucketsMu.Lock()
	defer g.bucketsMu.Unlock()
	b, ok := g.buckets[actor]
	if !ok {
		b = &localBucket{tokens: g.limits.Burst, last: time.Now()}
		g.buckets[actor] = b
	}
	return b
}

// AcquireHeavy blocks until a slot in the global heavy-query semaphore is
// available or ctx is canceled. Light queries must not call this.
func (g *Gate) AcquireHeavy(ctx context.Context) (release func(), err error) {
	return g.heavy.acquire(ctx)
}

// AcquireUser blocks until a slot in actor's per-actor semaphore is
// available or ctx is canceled.
func (g *Gate) AcquireUser(ctx context.Context, actor string) (release func(), err error) {
	g.userMu.Lock()
	s, ok := g.user[actor]
	if !ok {
		s = newSemaphore(g.limits.UserQueryConcurrency)
		g.user[actor] = s
	}
	g.userMu.Unlock()
	return s.acquire(ctx)
}

// localBucket is a mutex-protected token bucket: tokens refill at
// rate/sec up to burst, one token per allowed request.
type localBucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func (b *localBucket) take(rate, burst float64) (bool, time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens = math.Min(burst, b.tokens+elapsed*rate)

	if b.tokens >= 1 {
		b.tokens--
		return true, 0, nil
	}
	if rate <= 0 {
		return false, 0, fmt.Errorf("throttle: non-positive rate %v", rate)
	}
	wait := time.Duration(math.Ceil((1-b.tokens)/rate*1000)) * time.Millisecond
	return false, wait, nil
}

// semaphore is a bounded-concurrency gate built on a buffered channel.
type semaphore struct {
	slots chan struct{}
}

func newSemaphore(n int) *semaphore {
	if n <= 0 {
		n = 1
	}
	return &semaphore{slots: make(chan struct{}, n)}
}

func (s *semaphore) acquire(ctx context.Context) (func(), error) {
	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
