// Package http provides the operational HTTP API for the feedcache service.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthChecker reports whether one dependency is usable.
type HealthChecker func() error

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	checkers map[string]HealthChecker
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{checkers: make(map[string]HealthChecker)}
}

// RegisterChecker adds a named readiness check.
func (h *HealthHandler) RegisterChecker(name string, check HealthChecker) {
	h.checkers[name] = check
}

// Register registers health endpoints on the router.
func (h *HealthHandler) Register(router *gin.Engine) {
	router.GET("/healthz", h.Liveness)
	router.GET("/readyz", h.Readiness)
}

// Liveness reports that the process is running.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness runs all registered checks and reports 503 when any fails.
func (h *HealthHandler) Readiness(c *gin.Context) {
	checks := make(map[string]string, len(h.checkers))
	healthy := true
	for name, check := range h.checkers {
		if err := check(); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": healthy, "checks": checks})
}
