package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ireporter/api/internal/ratelimit"
	"github.com/rs/zerolog"
)

// RateChecker is satisfied by *ratelimit.Limiter.
type RateChecker interface {
	Check(ctx context.Context, clientID, action string) (*ratelimit.CheckResult, error)
}

// RateLimit limits an action per authenticated user. It must run after
// AuthMiddleware. A nil checker or a failing backend lets requests through.
func RateLimit(checker RateChecker, action string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			c.Next()
			return
		}

		userID, ok := UserID(c)
		if !ok {
			c.Next()
			return
		}

		result, err := checker.Check(c.Request.Context(), strconv.FormatInt(userID, 10), action)
		if err != nil {
			logger.Warn().Err(err).Str("action", action).Msg("rate limiter unavailable, allowing request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, result)
			return
		}

		c.Next()
	}
}
