package metrics

import (
	"sync"
	"time"

	"github.com/openmatrix/feedcache/internal/logger"
	"github.com/rs/zerolog"
)

// summaryInterval is how many recorded fetches pass between summary logs.
const summaryInterval = 10

// Recorder accumulates cache hit/miss and fetch-time counters for the
// consumption policy. Counters only reset at process start. It exists so the
// background path's value (api calls saved, hit rates) is measurable; the
// Prometheus metrics in this package are updated alongside it.
type Recorder struct {
	mu sync.Mutex

	hits           uint64
	misses         uint64
	backgroundHits uint64
	apiCallsSaved  uint64

	fetchCount     uint64
	totalFetchTime time.Duration

	log zerolog.Logger
}

// CacheMetrics is a point-in-time snapshot of recorder state.
type CacheMetrics struct {
	CacheHits         uint64        `json:"cache_hits"`
	CacheMisses       uint64        `json:"cache_misses"`
	BackgroundHits    uint64        `json:"background_hits"`
	APICallsSaved     uint64        `json:"api_calls_saved"`
	CacheHitRate      float64       `json:"cache_hit_rate"`
	BackgroundHitRate float64       `json:"background_hit_rate"`
	AverageFetchTime  time.Duration `json:"average_fetch_time"`
}

// NewRecorder creates a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{log: logger.Component("metrics")}
}

// RecordCacheHit records a cache hit for the given source kind. Background
// cache hits also count as an API call saved.
func (r *Recorder) RecordCacheHit(kind string) {
	r.mu.Lock()
	r.hits++
	if kind == SourceBackgroundCache {
		r.backgroundHits++
		r.apiCallsSaved++
	}
	r.mu.Unlock()

	CacheOperationsTotal.WithLabelValues("get", "hit").Inc()
	DataSourceTotal.WithLabelValues(kind).Inc()
}

// RecordCacheMiss records a cache miss for the given source kind.
func (r *Recorder) RecordCacheMiss(kind string) {
	r.mu.Lock()
	r.misses++
	r.mu.Unlock()

	CacheOperationsTotal.WithLabelValues("get", "miss").Inc()
	DataSourceTotal.WithLabelValues(kind).Inc()
}

// RecordFetchTime folds one fetch duration into the running average and
// emits a summary log every few fetches.
func (r *Recorder) RecordFetchTime(d time.Duration) {
	FetchDuration.Observe(d.Seconds())

	r.mu.Lock()
	r.fetchCount++
	r.totalFetchTime += d
	logNow := r.fetchCount%summaryInterval == 0
	m := r.snapshotLocked()
	r.mu.Unlock()

	if logNow {
		r.log.Info().
			Float64("cache_hit_rate", m.CacheHitRate).
			Float64("background_hit_rate", m.BackgroundHitRate).
			Uint64("api_calls_saved", m.APICallsSaved).
			Dur("average_fetch_time", m.AverageFetchTime).
			Msg("Cache metrics summary")
	}
}

// CacheMetrics returns a snapshot of the counters and derived rates.
// Rates are 0 when no operations have been recorded.
func (r *Recorder) CacheMetrics() CacheMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Recorder) snapshotLocked() CacheMetrics {
	m := CacheMetrics{
		CacheHits:      r.hits,
		CacheMisses:    r.misses,
		BackgroundHits: r.backgroundHits,
		APICallsSaved:  r.apiCallsSaved,
	}
	if total := r.hits + r.misses; total > 0 {
		m.CacheHitRate = float64(r.hits) / float64(total)
		m.BackgroundHitRate = float64(r.backgroundHits) / float64(total)
	}
	if r.fetchCount > 0 {
		m.AverageFetchTime = r.totalFetchTime / time.Duration(r.fetchCount)
	}
	return m
}
