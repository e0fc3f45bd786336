package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmatrix/feedcache/internal/cachestore"
	"github.com/openmatrix/feedcache/internal/circuitbreaker"
	"github.com/openmatrix/feedcache/internal/metrics"
	"github.com/openmatrix/feedcache/internal/scheduler"
)

// Handler serves the cache and scheduler inspection endpoints.
type Handler struct {
	store    *cachestore.Store
	recorder *metrics.Recorder
	sched    *scheduler.Scheduler // nil when the background service is disabled
	breakers map[string]*circuitbreaker.CircuitBreaker
}

// NewHandler creates a Handler. sched may be nil.
func NewHandler(store *cachestore.Store, recorder *metrics.Recorder, sched *scheduler.Scheduler, breakers map[string]*circuitbreaker.CircuitBreaker) *Handler {
	return &Handler{
		store:    store,
		recorder: recorder,
		sched:    sched,
		breakers: breakers,
	}
}

// keyInfo describes one cache entry for the ops API.
type keyInfo struct {
	Key        string    `json:"key"`
	StoredAt   time.Time `json:"stored_at"`
	AgeSeconds float64   `json:"age_seconds"`
}

// ListKeys returns every cached key with its age.
func (h *Handler) ListKeys(c *gin.Context) {
	keys := h.store.Keys()
	infos := make([]keyInfo, 0, len(keys))
	now := time.Now()
	for _, k := range keys {
		storedAt, ok := h.store.StoredAt(k)
		if !ok {
			continue // removed between Keys and StoredAt
		}
		infos = append(infos, keyInfo{
			Key:        k,
			StoredAt:   storedAt,
			AgeSeconds: now.Sub(storedAt).Seconds(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(infos), "keys": infos})
}

// CacheMetrics returns the consumption metrics snapshot.
func (h *Handler) CacheMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.recorder.CacheMetrics())
}

// SchedulerStats returns background scheduler statistics.
func (h *Handler) SchedulerStats(c *gin.Context) {
	if h.sched == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "background service disabled"})
		return
	}
	c.JSON(http.StatusOK, h.sched.Stats())
}

// BreakerStats returns circuit breaker state per domain.
func (h *Handler) BreakerStats(c *gin.Context) {
	stats := make(map[string]circuitbreaker.Stats, len(h.breakers))
	for domain, cb := range h.breakers {
		stats[domain] = cb.GetStats()
	}
	c.JSON(http.StatusOK, stats)
}

// RemoveKey deletes one cache entry and its mirror file.
func (h *Handler) RemoveKey(c *gin.Context) {
	key := c.Param("key")
	if _, ok := h.store.StoredAt(key); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown key"})
		return
	}
	h.store.Remove(key)
	c.Status(http.StatusNoContent)
}

// ClearCache deletes every cache entry including the on-disk mirror.
func (h *Handler) ClearCache(c *gin.Context) {
	h.store.Clear()
	c.Status(http.StatusNoContent)
}
