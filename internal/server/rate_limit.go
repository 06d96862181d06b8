package server

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/hwlicense/internal/observability/logger"
	"go.uber.org/zap"
)

// RateLimit applies the per-client quota of an endpoint class. It runs before
// any body parsing so rejected requests never reach the license store.
func (s *Server) RateLimit(class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(contextRateClassKey, class)
		if s.limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		result, err := s.limiter.Allow(ctx, class, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("rate limit check failed",
				zap.String("class", class),
				zap.Error(err),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, class, endpoint, "backend_unavailable")
			AbortWithError(c, err)
			return
		}

		if result.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}

		if !result.Allowed {
			logger.FromContext(ctx).Warn("rate limit exceeded",
				zap.String("class", class),
				zap.String("endpoint", endpoint),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, class, endpoint, "quota")
			c.Header("Retry-After", retryAfterSeconds(result.RetryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, class, endpoint)
		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unknown"
}
