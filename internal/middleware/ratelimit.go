package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"voicelink-backend/internal/database"
)

// RateLimiter implements Redis-backed fixed-window rate limiting, keyed per
// authenticated user or per client IP. It fails open when Redis is degraded;
// rate limiting is protection, not correctness.
type RateLimiter struct {
	redis    *database.RedisClient
	requests int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter allowing requests per window.
func NewRateLimiter(redis *database.RedisClient, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:    redis,
		requests: requests,
		window:   window,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var identifier string
		if userID, exists := c.Get("user_id"); exists {
			identifier = fmt.Sprintf("user:%v", userID)
		} else {
			identifier = fmt.Sprintf("ip:%s", c.ClientIP())
		}

		count, err := rl.increment(c.Request.Context(), identifier)
		if err != nil {
			c.Next()
			return
		}

		remaining := rl.requests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count > rl.requests {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
				"limit": rl.requests,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) increment(ctx context.Context, identifier string) (int, error) {
	if rl.redis.IsDegraded() {
		return 0, fmt.Errorf("redis degraded")
	}

	key := fmt.Sprintf("ratelimit:%s", identifier)
	count, err := rl.redis.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// First hit in a window owns the expiry.
	if count == 1 {
		if err := rl.redis.SafeExpire(ctx, key, rl.window).Err(); err != nil {
			return int(count), err
		}
	}
	return int(count), nil
}
