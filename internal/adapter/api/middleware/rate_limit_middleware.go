package middleware

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"

	"chatsync/internal/infrastructure/ratelimit"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
	"chatsync/pkg/response"
)

// RateLimit limits requests per authenticated user, or per client IP before
// authentication. Register it after Authenticate to key by user.
func RateLimit(limiter *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if uid, ok := c.Get(ContextUserID).(int64); ok {
				key = "user:" + strconv.FormatInt(uid, 10)
			}

			allowed, wait := limiter.Allow(key, ratelimit.ActionRequest)
			if !allowed {
				logger.Warn("RATE LIMIT: blocked request from %s (retry in %v)", key, wait)
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded"))
			}
			return next(c)
		}
	}
}
