package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Counter counts hits per key inside a fixed window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RateLimitStrategy interface {
	Key(c *gin.Context) (string, error)
}

// ClientRateLimit keys requests by client IP and route.
type ClientRateLimit struct{}

func (s ClientRateLimit) Key(c *gin.Context) (string, error) {
	ip := c.ClientIP()
	return "rate:" + ip + ":" + c.Request.Method + ":" + c.FullPath(), nil
}

func RateLimiter(counter Counter, limit int, window time.Duration, strat RateLimitStrategy, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := strat.Key(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		count, err := counter.Incr(c.Request.Context(), key, window)
		if err != nil {
			log.Error("Rate limiter unavailable", "key", key, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate limiter error, " + err.Error()})
			return
		}
		if count > int64(limit) {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
