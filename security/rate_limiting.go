package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"

	"rumbify-server/config"
)

// RateLimiter throttles the code generation and redemption endpoints with a
// fixed window counter in Redis. With a nil client it lets everything
// through, so single-node deployments without Redis keep working.
type RateLimiter struct {
	redis    *redis.Client
	requests int64
	window   time.Duration
}

func NewRateLimiter(redisClient *redis.Client, cfg *config.Config) *RateLimiter {
	return &RateLimiter{
		redis:    redisClient,
		requests: int64(cfg.RateLimitRequests),
		window:   cfg.RateLimitWindow,
	}
}

// Limit is the middleware. scope separates the counters per endpoint group.
func (r *RateLimiter) Limit(scope string) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if r.redis == nil {
			return e.Next()
		}

		id := e.RealIP()
		if auth := e.Auth; auth != nil {
			id = "user:" + auth.Id
		}
		key := fmt.Sprintf("ratelimit:%s:%s", scope, id)

		count, err := r.redis.Incr(e.Request.Context(), key).Result()
		if err != nil {
			// Redis down must not take the API with it.
			return e.Next()
		}
		if count == 1 {
			r.redis.Expire(e.Request.Context(), key, r.window)
		}
		if count > r.requests {
			return apis.NewTooManyRequestsError("Rate limit exceeded. Please try again later.", nil)
		}

		return e.Next()
	}
}

// BlockBots rejects requests from obvious scraping user agents.
func (r *RateLimiter) BlockBots() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if isSuspiciousUserAgent(e.Request.Header.Get("User-Agent")) {
			return apis.NewForbiddenError("Access denied", nil)
		}
		return e.Next()
	}
}

func isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}
