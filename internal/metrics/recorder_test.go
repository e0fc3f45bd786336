//go:build !integration

package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecorderZeroState(t *testing.T) {
	r := NewRecorder()

	m := r.CacheMetrics()
	assert.Zero(t, m.CacheHits)
	assert.Zero(t, m.CacheMisses)
	assert.Zero(t, m.CacheHitRate)
	assert.Zero(t, m.BackgroundHitRate)
	assert.Zero(t, m.AverageFetchTime)
}

func TestRecorderHitRate(t *testing.T) {
	r := NewRecorder()

	for i := 0; i < 7; i++ {
		r.RecordCacheHit(SourceSync)
	}
	for i := 0; i < 3; i++ {
		r.RecordCacheMiss(SourceSync)
	}

	m := r.CacheMetrics()
	assert.Equal(t, uint64(7), m.CacheHits)
	assert.Equal(t, uint64(3), m.CacheMisses)
	assert.InDelta(t, 0.7, m.CacheHitRate, 1e-9)
}

func TestRecorderBackgroundHits(t *testing.T) {
	r := NewRecorder()

	r.RecordCacheHit(SourceBackgroundCache)
	r.RecordCacheHit(SourceBackgroundCache)
	r.RecordCacheHit(SourceSync)
	r.RecordCacheMiss(SourceBackgroundMiss)

	m := r.CacheMetrics()
	assert.Equal(t, uint64(3), m.CacheHits)
	assert.Equal(t, uint64(2), m.BackgroundHits)
	assert.Equal(t, uint64(2), m.APICallsSaved)
	assert.InDelta(t, 0.75, m.CacheHitRate, 1e-9)
	assert.InDelta(t, 0.5, m.BackgroundHitRate, 1e-9)
}

func TestRecorderOnlyMisses(t *testing.T) {
	r := NewRecorder()

	r.RecordCacheMiss(SourceLiveFresh)
	r.RecordCacheMiss(SourceAPIFallback)

	m := r.CacheMetrics()
	assert.Zero(t, m.CacheHitRate)
	assert.Zero(t, m.BackgroundHitRate)
	assert.Equal(t, uint64(2), m.CacheMisses)
}

func TestRecorderAverageFetchTime(t *testing.T) {
	r := NewRecorder()

	r.RecordFetchTime(100 * time.Millisecond)
	r.RecordFetchTime(300 * time.Millisecond)

	m := r.CacheMetrics()
	assert.Equal(t, 200*time.Millisecond, m.AverageFetchTime)
}
