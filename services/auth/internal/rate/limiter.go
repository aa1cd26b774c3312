// Package rate throttles unauthenticated credential endpoints per client.
package rate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Policy allows Limit requests per key in each fixed Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) validate() error {
	if p.Limit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", p.Limit)
	}
	if p.Window < time.Millisecond {
		return fmt.Errorf("rate window must be at least 1ms, got %s", p.Window)
	}
	return nil
}

// decide judges the hits counted so far in a window with remaining time left.
func (p Policy) decide(hits int64, remaining time.Duration) (bool, time.Duration) {
	if hits <= int64(p.Limit) {
		return true, 0
	}
	if remaining <= 0 {
		remaining = p.Window
	}
	return false, remaining
}

// Limiter reports whether key may proceed and, when it may not, how long
// until it can.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}

// Middleware limits requests per client IP and route. Limiter errors fail
// open and are logged.
func Middleware(limiter Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP() + "|" + c.FullPath()
		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), key, time.Now())
		if err != nil {
			logger.WarnContext(c.Request.Context(), "rate limiter unavailable", slog.Any("error", err))
			c.Next()
			return
		}
		if !allowed {
			secs := int(math.Ceil(retryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "RATE_LIMITED",
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}
