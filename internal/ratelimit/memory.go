package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/hwlicense/internal/clock"
	"github.com/smallbiznis/hwlicense/internal/config"
	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	rule     config.RateLimitRule
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per (class, client) in process memory.
// Counters live for the process lifetime and are not shared across replicas.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	policy  *config.PolicyHolder
	clock   clock.Clock
}

func NewMemoryLimiter(policy *config.PolicyHolder, clk clock.Clock) *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		policy:  policy,
		clock:   clk,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, class, key string) (Result, error) {
	rule, ok := m.policy.Get().Rule(class)
	if !ok {
		return Result{}, fmt.Errorf("no rate limit rule for class %q", class)
	}
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	id := bucketKey(class, key)
	b, exists := m.buckets[id]
	if !exists || b.rule != rule {
		// Policy reloads take effect with a fresh bucket.
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(float64(rule.Limit)/rule.Window.Seconds()), rule.Limit),
			rule:    rule,
		}
		m.buckets[id] = b
	}
	b.lastSeen = now

	reservation := b.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); !reservation.OK() || delay > 0 {
		reservation.CancelAt(now)
		return Result{
			Allowed:    false,
			Limit:      rule.Limit,
			Remaining:  0,
			RetryAfter: delay,
		}, nil
	}

	return Result{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: int(b.limiter.TokensAt(now)),
	}, nil
}

// Sweep drops buckets idle for longer than their window. A dropped bucket
// would have refilled completely by then, so forgetting it changes nothing.
func (m *MemoryLimiter) Sweep() int {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, b := range m.buckets {
		if now.Sub(b.lastSeen) > b.rule.Window {
			delete(m.buckets, id)
			removed++
		}
	}
	return removed
}

func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
