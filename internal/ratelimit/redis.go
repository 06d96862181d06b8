package ratelimit

import (
	"context"
	"fmt"

	"github.com/smallbiznis/hwlicense/internal/config"
)

const redisKeyFormat = "hwlicense:ratelimit:%s:%s"

// RedisLimiter shares quotas across replicas through the Lua token bucket.
type RedisLimiter struct {
	bucket *TokenBucket
	policy *config.PolicyHolder
}

func NewRedisLimiter(bucket *TokenBucket, policy *config.PolicyHolder) *RedisLimiter {
	return &RedisLimiter{bucket: bucket, policy: policy}
}

func (r *RedisLimiter) Allow(ctx context.Context, class, key string) (Result, error) {
	rule, ok := r.policy.Get().Rule(class)
	if !ok {
		return Result{}, fmt.Errorf("no rate limit rule for class %q", class)
	}
	rate := float64(rule.Limit) / rule.Window.Seconds()

	res, err := r.bucket.Allow(ctx, fmt.Sprintf(redisKeyFormat, class, key), rate, rule.Limit)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return res, nil
}
