// Package ratelimit throttles vault operations per caller. The default
// limiter is an in-process token bucket; a Redis-backed store is
// available for multi-node deployments so every node draws from one
// bucket.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a caller has exhausted its budget for
// an operation.
var ErrRateLimited = errors.New("rate limit exceeded")

// Policy configures one token bucket.
type Policy struct {
	// PerMinute is the sustained number of calls allowed per minute.
	PerMinute int

	// Burst is the bucket capacity.
	Burst int
}

// DefaultPolicy bounds callers that have no explicit policy.
var DefaultPolicy = Policy{PerMinute: 60, Burst: 10}

type bucketKey struct {
	caller    string
	operation string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a per-caller-per-operation token bucket limiter.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[bucketKey]*bucket
	policies map[string]Policy // operation -> policy
	fallback Policy
	clock    func() time.Time
}

// NewLimiter creates a limiter with the default policy for every
// operation.
func NewLimiter() *Limiter {
	return &Limiter{
		buckets:  make(map[bucketKey]*bucket),
		policies: make(map[string]Policy),
		fallback: DefaultPolicy,
		clock:    time.Now,
	}
}

// SetPolicy overrides the policy for one operation.
func (l *Limiter) SetPolicy(operation string, p Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policies[operation] = p
}

// WithClock overrides the clock for testing. Buckets created afterwards
// refill against the injected clock.
func (l *Limiter) WithClock(clock func() time.Time) *Limiter {
	l.clock = clock
	return l
}

// Check fails with ErrRateLimited when the caller's bucket for the
// operation is empty.
func (l *Limiter) Check(caller, operation string) error {
	l.mu.Lock()
	key := bucketKey{caller, operation}
	b, ok := l.buckets[key]
	if !ok {
		p, ok := l.policies[operation]
		if !ok {
			p = l.fallback
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(float64(p.PerMinute)/60.0), p.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = l.clock()
	l.mu.Unlock()

	if !b.limiter.AllowN(l.clock(), 1) {
		return fmt.Errorf("%w: %s %s", ErrRateLimited, caller, operation)
	}
	return nil
}

// Prune drops buckets idle longer than maxIdle. Callers run it
// periodically to bound memory.
func (l *Limiter) Prune(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > maxIdle {
			delete(l.buckets, key)
		}
	}
}
