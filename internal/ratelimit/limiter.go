package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrBackendUnavailable means the shared counter store could not be reached.
// Callers reject the request rather than let it through.
var ErrBackendUnavailable = errors.New("rate_limit_backend_unavailable")

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter enforces per-client quotas for an endpoint class.
type Limiter interface {
	Allow(ctx context.Context, class, key string) (Result, error)
}

func bucketKey(class, key string) string {
	return class + "|" + key
}
