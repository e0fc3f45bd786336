package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmatrix/feedcache/internal/logger"
)

// RequestLogger returns a middleware that logs each request with its ID,
// method, path, status and latency.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		l := logger.Logger()
		event := l.Info()
		if c.Writer.Status() >= 500 {
			event = l.Error()
		}
		event.
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status_code", c.Writer.Status()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Str("ip", c.ClientIP()).
			Msg("HTTP request")
	}
}
