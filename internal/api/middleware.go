package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DefaultRequestTimeout is the per-request deadline applied when a
// caller doesn't supply X-Request-Timeout (spec §5: "Client operations
// carry a per-request deadline; expiry fails the operation with
// Timeout").
const DefaultRequestTimeout = 30 * time.Second

// Deadline attaches a deadline to every request's context, so a
// Coordinator method that checks ctx.Done() mid-operation fails with
// Timeout instead of running unbounded. Callers may override it per
// request, shorter or longer, via the X-Request-Timeout header (a
// positive Go duration string, e.g. "500ms").
func Deadline(def time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		timeout := def
		if raw := c.GetHeader("X-Request-Timeout"); raw != "" {
			if d, err := time.ParseDuration(raw); err == nil && d > 0 {
				timeout = d
			}
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Logger is a Gin middleware that logs every request with method, path,
// status code, and latency via the coordinator's structured logger.
func Logger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Recovery is used in place of Gin's default recovery: it recovers
// panics, logs them in a structured way, and answers with a 500.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic recovered", zap.Any("panic", err))
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
