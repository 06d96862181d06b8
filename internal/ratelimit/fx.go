package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/hwlicense/internal/clock"
	"github.com/smallbiznis/hwlicense/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sweepInterval = time.Minute

var Module = fx.Module("rate.limit",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Policy    *config.PolicyHolder
	Clock     clock.Clock
	Log       *zap.Logger
}

// New resolves the configured backend once at startup.
func New(p Params) (Limiter, error) {
	log := p.Log.Named("ratelimit")

	switch p.Config.RateLimit.Backend {
	case config.RateLimitBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     p.Config.RateLimit.RedisAddr,
			Password: p.Config.RateLimit.RedisPassword,
			DB:       p.Config.RateLimit.RedisDB,
		})
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("rate limit redis unreachable: %w", err)
				}
				log.Info("rate limiter using redis", zap.String("addr", p.Config.RateLimit.RedisAddr))
				return nil
			},
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
		return NewRedisLimiter(NewTokenBucket(client), p.Policy), nil

	case config.RateLimitBackendMemory, "":
		limiter := NewMemoryLimiter(p.Policy, p.Clock)
		stop := make(chan struct{})
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					ticker := time.NewTicker(sweepInterval)
					defer ticker.Stop()
					for {
						select {
						case <-ticker.C:
							if removed := limiter.Sweep(); removed > 0 {
								log.Debug("swept idle rate limit buckets", zap.Int("removed", removed))
							}
						case <-stop:
							return
						}
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				close(stop)
				return nil
			},
		})
		return limiter, nil

	default:
		return nil, fmt.Errorf("unsupported rate limit backend %q", p.Config.RateLimit.Backend)
	}
}
