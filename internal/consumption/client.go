// Package consumption implements the data-access policy shared by every
// display manager: Live panels always fetch synchronously and fresh, while
// Recent/Upcoming panels prefer data refreshed by the background scheduler
// and fall back to a bounded synchronous fetch when none is ready.
//
// The policy is a plain collaborator object injected into managers at
// construction, so a manager can be tested with a substitute store or
// without a scheduler. Values returned by a Client are snapshots; callers
// must not mutate them in place.
package consumption

import (
	"context"
	"errors"
	"time"

	"github.com/openmatrix/feedcache/internal/cachestore"
	"github.com/openmatrix/feedcache/internal/circuitbreaker"
	"github.com/openmatrix/feedcache/internal/logger"
	"github.com/openmatrix/feedcache/internal/metrics"
	"github.com/openmatrix/feedcache/internal/scheduler"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// FetchFunc is the synchronous fetch contract a manager supplies per call.
// useCache tells the fetcher whether it may serve from its own short-lived
// HTTP cache; live fetches pass false.
type FetchFunc func(ctx context.Context, useCache bool) (any, error)

// Config holds per-domain policy settings.
type Config struct {
	// Domain names the sport/mode this client serves, e.g. "nfl".
	Domain string
	// SyncTTL is the freshness window for the synchronous fallback cache.
	SyncTTL time.Duration
	// Priority orders this domain's background fetches (lower runs first).
	Priority int
}

// Client applies the consumption policy for one domain.
type Client struct {
	cfg      Config
	store    *cachestore.Store
	sched    *scheduler.Scheduler // nil when the background service is disabled
	recorder *metrics.Recorder
	breaker  *circuitbreaker.CircuitBreaker // nil when not configured
	group    singleflight.Group
	log      zerolog.Logger
}

// NewClient creates a policy client. sched and breaker may be nil; without a
// scheduler every non-live call takes the synchronous fallback path.
func NewClient(cfg Config, store *cachestore.Store, sched *scheduler.Scheduler, recorder *metrics.Recorder, breaker *circuitbreaker.CircuitBreaker) *Client {
	if cfg.SyncTTL <= 0 {
		cfg.SyncTTL = 5 * time.Minute
	}
	return &Client{
		cfg:      cfg,
		store:    store,
		sched:    sched,
		recorder: recorder,
		breaker:  breaker,
		log:      logger.Component("consumption").With().Str("domain", cfg.Domain).Logger(),
	}
}

// FetchWithBackgroundCache returns data for key according to the policy:
//
//   - live: fetch is always called with useCache=false and the background
//     cache is never consulted; live data must not be stale. Errors
//     propagate so the manager can render a no-data state.
//   - otherwise: background-refreshed data is returned when fresh. On a
//     background miss a refresh is submitted (without waiting for it) and
//     the call falls back to the synchronous cache-or-fetch path.
//
// Every call is recorded in the MetricsRecorder. Non-live calls degrade to
// the last good cached value, however stale, when every fetch path fails.
func (c *Client) FetchWithBackgroundCache(ctx context.Context, key string, fetch FetchFunc, live bool) (any, error) {
	start := time.Now()
	defer func() { c.recorder.RecordFetchTime(time.Since(start)) }()

	if live {
		c.recorder.RecordCacheMiss(metrics.SourceLiveFresh)
		return c.fetchAndStore(ctx, key, fetch, false)
	}

	source := metrics.SourceAPIFallback
	if c.sched != nil {
		if v, ok := c.sched.BackgroundData(key); ok {
			c.recorder.RecordCacheHit(metrics.SourceBackgroundCache)
			return v, nil
		}
		// Kick off a refresh for future calls; this never waits for it.
		_, err := c.sched.Submit(key, func(ctx context.Context) (any, error) {
			return fetch(ctx, false)
		}, c.cfg.Priority)
		if err != nil && !errors.Is(err, scheduler.ErrShuttingDown) {
			c.log.Warn().Str("key", key).Err(err).Msg("Background submit failed")
		}
		source = metrics.SourceBackgroundMiss
	}
	c.recorder.RecordCacheMiss(source)

	v, _, err := c.cachedFetch(ctx, key, fetch, c.cfg.SyncTTL, false)
	return v, err
}

// FetchWithCache is the generic single-path variant used by weather/news
// style consumers: serve from cache within ttl, otherwise fetch (collapsing
// concurrent fetches for the same key), store and return.
func (c *Client) FetchWithCache(ctx context.Context, key string, fetch FetchFunc, ttl time.Duration, forceRefresh bool) (any, error) {
	start := time.Now()
	defer func() { c.recorder.RecordFetchTime(time.Since(start)) }()

	v, hit, err := c.cachedFetch(ctx, key, fetch, ttl, forceRefresh)
	if hit {
		c.recorder.RecordCacheHit(metrics.SourceSync)
	} else {
		c.recorder.RecordCacheMiss(metrics.SourceSync)
	}
	return v, err
}

// cachedFetch is the synchronous cache-or-fetch path. The boolean reports a
// cache hit. On fetch failure it serves the last good value when one exists.
func (c *Client) cachedFetch(ctx context.Context, key string, fetch FetchFunc, ttl time.Duration, forceRefresh bool) (any, bool, error) {
	if !forceRefresh {
		if v, ok := c.store.Get(key, ttl); ok {
			return v, true, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.fetchAndStore(ctx, key, fetch, true)
	})
	if err != nil {
		v, err = c.degrade(key, err)
	}
	return v, false, err
}

// fetchAndStore runs the synchronous fetch, through the breaker when one is
// configured, and caches the payload on success.
func (c *Client) fetchAndStore(ctx context.Context, key string, fetch FetchFunc, useCache bool) (any, error) {
	var v any
	call := func() error {
		var err error
		v, err = fetch(ctx, useCache)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}

	if serr := c.store.Save(key, v); serr != nil {
		c.log.Warn().Str("key", key).Err(serr).Msg("Failed to cache fetched payload")
	}
	return v, nil
}

// degrade serves the last good cached value after a failed fetch. Only when
// nothing has ever been cached does the fetch error reach the manager.
func (c *Client) degrade(key string, err error) (any, error) {
	if v, storedAt, ok := c.store.Latest(key); ok {
		c.log.Warn().
			Str("key", key).
			Time("stored_at", storedAt).
			Err(err).
			Msg("Fetch failed, serving stale data")
		return v, nil
	}
	return nil, err
}
