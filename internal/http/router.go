package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/openmatrix/feedcache/internal/metrics"
	"github.com/openmatrix/feedcache/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds router configuration options.
type RouterConfig struct {
	RateLimit   float64
	RateBurst   int
	CORSOrigins []string
	// APIKeys protect the mutating cache routes; empty disables auth.
	APIKeys map[string]bool
}

// NewRouter creates and configures the gin router for the ops API.
func NewRouter(handler *Handler, healthHandler *HealthHandler, cfg RouterConfig) *gin.Engine {
	router := gin.New()

	if len(cfg.CORSOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.CORSOrigins
		corsConfig.AllowHeaders = append(corsConfig.AllowHeaders,
			middleware.RequestIDHeader, middleware.APIKeyHeader)
		corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader}
		router.Use(cors.New(corsConfig))
	}

	router.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		metrics.PrometheusMiddleware(),
		middleware.Compression(),
		middleware.RequestLogger(),
		middleware.RateLimit(cfg.RateLimit, cfg.RateBurst),
	)

	healthHandler.Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/cache/keys", handler.ListKeys)
	api.GET("/cache/metrics", handler.CacheMetrics)
	api.GET("/scheduler/stats", handler.SchedulerStats)
	api.GET("/breakers", handler.BreakerStats)

	protected := api.Group("", middleware.APIKeyAuth(cfg.APIKeys))
	protected.DELETE("/cache/:key", handler.RemoveKey)
	protected.DELETE("/cache", handler.ClearCache)

	return router
}
