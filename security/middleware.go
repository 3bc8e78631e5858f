package security

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/hook"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

type RateLimiter struct {
	redis *redis.Client

	// fixed window
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: redisClient, limit: limit, window: window}
}

// BookingRateLimit throttles booking creation per client IP. Redis counters
// with a window TTL; a redis outage fails open so payments keep flowing.
func (r *RateLimiter) BookingRateLimit() *hook.Handler[*core.RequestEvent] {
	return &hook.Handler[*core.RequestEvent]{
		Id: "bookingRateLimit",
		Func: func(e *core.RequestEvent) error {
			key := fmt.Sprintf("ratelimit:booking:%s", clientIP(e.Request))

			count, err := r.redis.Incr(e.Request.Context(), key).Result()
			if err != nil {
				return e.Next()
			}
			if count == 1 {
				r.redis.Expire(e.Request.Context(), key, r.window)
			}
			if count > r.limit {
				return e.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "Rate limit exceeded. Please try again later.",
				})
			}

			return e.Next()
		},
	}
}

func clientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

// RequireAdminKey guards operator routes with a bcrypt-hashed API key carried
// in the X-Admin-Key header.
func RequireAdminKey(keyHash string) *hook.Handler[*core.RequestEvent] {
	return &hook.Handler[*core.RequestEvent]{
		Id: "requireAdminKey",
		Func: func(e *core.RequestEvent) error {
			if keyHash == "" {
				return apis.NewForbiddenError("Admin API disabled", nil)
			}

			key := e.Request.Header.Get("X-Admin-Key")
			if key == "" {
				return apis.NewUnauthorizedError("Missing admin key", nil)
			}
			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)); err != nil {
				return apis.NewForbiddenError("Invalid admin key", nil)
			}

			return e.Next()
		},
	}
}
