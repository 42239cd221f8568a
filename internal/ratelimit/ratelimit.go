// Package ratelimit enforces the per-caller quotas named in the
// configuration surface (§6: rate_limit_requests_per_minute,
// rate_limit_concurrent_requests). It is grounded on the teacher's
// features/model/middleware.AdaptiveRateLimiter — a mutex-guarded
// golang.org/x/time/rate.Limiter — narrowed from one process-wide
// token-per-minute budget to one bucket and one concurrency semaphore per
// caller, since §8 scopes the boundary behavior to "caller exceeded
// per-user quotas", not a process-wide model-provider budget (that
// concern stays in internal/llmprovider's callers, unexercised here since
// nothing in SPEC_FULL.md reintroduces Pulse's cluster coordination).
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config carries the two quota knobs §6 names.
type Config struct {
	RequestsPerMinute float64
	ConcurrentRequests int
}

// Limiter tracks one token bucket and one concurrency semaphore per caller.
type Limiter struct {
	mu      sync.Mutex
	perMin  float64
	concurrency int
	buckets map[string]*rate.Limiter
	slots   map[string]chan struct{}
}

// New constructs a Limiter. A zero RequestsPerMinute or ConcurrentRequests
// disables that dimension of enforcement (Allow/TryAcquire always succeed).
func New(cfg Config) *Limiter {
	return &Limiter{
		perMin:      cfg.RequestsPerMinute,
		concurrency: cfg.ConcurrentRequests,
		buckets:     make(map[string]*rate.Limiter),
		slots:       make(map[string]chan struct{}),
	}
}

// Allow reports whether caller may start a new request (or, within a
// stream, a new reactive-loop iteration — §8: "no new LLM iteration is
// started") under the requests-per-minute budget.
func (l *Limiter) Allow(callerID string) bool {
	if l.perMin <= 0 {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets[callerID]
	if !ok {
		// Burst of one minute's worth of requests, matching the teacher's
		// rate.NewLimiter(rate.Limit(tpm/60), int(tpm)) shape.
		b = rate.NewLimiter(rate.Limit(l.perMin/60.0), maxInt(1, int(l.perMin)))
		l.buckets[callerID] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

// TryAcquire attempts to reserve one of the caller's concurrent-request
// slots, returning false immediately if none are free.
func (l *Limiter) TryAcquire(callerID string) bool {
	if l.concurrency <= 0 {
		return true
	}
	l.mu.Lock()
	ch, ok := l.slots[callerID]
	if !ok {
		ch = make(chan struct{}, l.concurrency)
		l.slots[callerID] = ch
	}
	l.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot acquired by TryAcquire.
func (l *Limiter) Release(callerID string) {
	if l.concurrency <= 0 {
		return
	}
	l.mu.Lock()
	ch := l.slots[callerID]
	l.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	default:
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
