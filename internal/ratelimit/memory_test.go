package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/hwlicense/internal/clock"
	"github.com/smallbiznis/hwlicense/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemory(t *testing.T) (*MemoryLimiter, *clock.FakeClock) {
	t.Helper()
	fake := clock.NewFakeClock(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))
	return NewMemoryLimiter(config.NewStaticPolicyHolder(config.DefaultPolicy()), fake), fake
}

func TestMemoryLimiterRejectsRequestAfterQuota(t *testing.T) {
	limiter, fake := newMemory(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := limiter.Allow(ctx, config.ClassActivate, "198.51.100.1")
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, 4-i, res.Remaining)
	}

	res, err := limiter.Allow(ctx, config.ClassActivate, "198.51.100.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 5, res.Limit)
	assert.InDelta(t, 12*time.Second, res.RetryAfter, float64(time.Millisecond))

	// A rejected request does not consume a token.
	fake.Advance(12 * time.Second)
	res, err = limiter.Allow(ctx, config.ClassActivate, "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	limiter, _ := newMemory(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Allow(ctx, config.ClassActivate, "a")
		require.NoError(t, err)
	}
	res, err := limiter.Allow(ctx, config.ClassActivate, "a")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	res, err = limiter.Allow(ctx, config.ClassActivate, "b")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "another client address has its own quota")

	res, err = limiter.Allow(ctx, config.ClassCheck, "a")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "another class has its own quota")
	assert.Equal(t, 30, res.Limit)
}

func TestMemoryLimiterCheckClassAllowsThirty(t *testing.T) {
	limiter, _ := newMemory(t)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 31; i++ {
		res, err := limiter.Allow(ctx, config.ClassCheck, "c")
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 30, allowed)
}

func TestMemoryLimiterSweepsIdleBuckets(t *testing.T) {
	limiter, fake := newMemory(t)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, config.ClassActivate, "a")
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, config.ClassCheck, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, limiter.Len())

	fake.Advance(30 * time.Second)
	assert.Equal(t, 0, limiter.Sweep())

	fake.Advance(31 * time.Second)
	assert.Equal(t, 2, limiter.Sweep())
	assert.Equal(t, 0, limiter.Len())
}

func TestMemoryLimiterUnknownClass(t *testing.T) {
	limiter, _ := newMemory(t)
	_, err := limiter.Allow(context.Background(), "nope", "a")
	assert.Error(t, err)
}

func TestMemoryLimiterPicksUpPolicyChanges(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))
	policy := config.DefaultPolicy()
	policy.RateLimits = map[string]config.RateLimitRule{config.ClassActivate: {Limit: 1, Window: time.Minute}}
	limiter := NewMemoryLimiter(config.NewStaticPolicyHolder(policy), fake)

	res, err := limiter.Allow(context.Background(), config.ClassActivate, "a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	res, err = limiter.Allow(context.Background(), config.ClassActivate, "a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}
