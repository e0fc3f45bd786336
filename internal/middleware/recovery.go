package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmatrix/feedcache/internal/logger"
)

// Recovery returns a middleware that recovers from panics and returns a 500
// error instead of taking down the ops server with the display process.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log := logger.Logger()
				log.Error().
					Str("request_id", GetRequestID(c)).
					Interface("panic", err).
					Msg("PANIC recovered")

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal error",
				})
			}
		}()
		c.Next()
	}
}
