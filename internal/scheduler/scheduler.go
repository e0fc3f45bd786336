// Package scheduler provides the background fetch scheduler: a bounded
// worker pool that executes fetch callbacks submitted by cache key,
// deduplicating in-flight work per key and retrying failures with
// exponential backoff. Submissions and result polls never block, so the
// render loop can call them every tick.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openmatrix/feedcache/internal/cachestore"
	"github.com/openmatrix/feedcache/internal/logger"
	"github.com/openmatrix/feedcache/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrShuttingDown is returned by Submit once shutdown has begun.
var ErrShuttingDown = errors.New("scheduler is shutting down")

// janitorInterval is how often expired results are garbage-collected.
const janitorInterval = time.Minute

// Config holds scheduler parameters.
type Config struct {
	// MaxWorkers bounds concurrent fetches.
	MaxWorkers int
	// RequestTimeout bounds a single fetch attempt.
	RequestTimeout time.Duration
	// MaxRetries is the number of re-attempts after a failed first attempt.
	MaxRetries int
	// BackoffBase, BackoffMax and BackoffJitter shape the retry delay.
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	BackoffJitter float64
	// BackgroundTTL is the freshness window for background-written entries.
	BackgroundTTL time.Duration
	// ResultTTL is how long terminal results stay pollable.
	ResultTTL time.Duration
	// RateLimit gates fetch starts (requests per second); 0 disables.
	RateLimit float64
	RateBurst int
}

// DefaultConfig returns the scheduler defaults used when config fields are
// left zero.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:     3,
		RequestTimeout: 30 * time.Second,
		MaxRetries:     2,
		BackoffBase:    500 * time.Millisecond,
		BackoffMax:     30 * time.Second,
		BackoffJitter:  0.2,
		BackgroundTTL:  15 * time.Minute,
		ResultTTL:      5 * time.Minute,
	}
}

type resultEntry struct {
	res      Result
	storedAt time.Time
}

// Scheduler runs background fetch tasks on a fixed pool of workers and
// writes successful payloads into the cache store.
type Scheduler struct {
	cfg     Config
	store   *cachestore.Store
	limiter *rate.Limiter
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	cond      *sync.Cond
	queue     taskQueue
	inflight  map[string]*task // key → pending/running/retrying task
	results   map[string]resultEntry
	bgWritten map[string]time.Time // key → last background cache write
	seq       uint64
	running   int
	draining  bool

	submitted      uint64
	deduplicated   uint64
	succeeded      uint64
	failed         uint64
	retried        uint64
	fetchCount     uint64
	totalFetchTime time.Duration

	workers sync.WaitGroup
	janitor sync.WaitGroup
}

// New creates a Scheduler writing into store and starts its workers.
func New(store *cachestore.Store, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.BackgroundTTL <= 0 {
		cfg.BackgroundTTL = def.BackgroundTTL
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = def.ResultTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:       cfg,
		store:     store,
		log:       logger.Component("scheduler"),
		ctx:       ctx,
		cancel:    cancel,
		inflight:  make(map[string]*task),
		results:   make(map[string]resultEntry),
		bgWritten: make(map[string]time.Time),
	}
	s.cond = sync.NewCond(&s.mu)

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	for i := 0; i < cfg.MaxWorkers; i++ {
		s.workers.Add(1)
		go s.worker()
	}
	s.janitor.Add(1)
	go s.runJanitor()

	return s
}

// Submit enqueues a background fetch for key. If a task for key is already
// in flight (pending, running or retrying), the existing task's request id
// is returned and fn is discarded, so concurrent submissions collapse into
// one underlying fetch.
func (s *Scheduler) Submit(key string, fn FetchFunc, priority int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draining {
		return "", ErrShuttingDown
	}
	if t, ok := s.inflight[key]; ok {
		s.deduplicated++
		metrics.RecordTask("deduplicated")
		return t.id, nil
	}

	s.seq++
	t := &task{
		id:          uuid.NewString(),
		key:         key,
		fn:          fn,
		priority:    priority,
		retriesLeft: s.cfg.MaxRetries,
		timeout:     s.cfg.RequestTimeout,
		seq:         s.seq,
		state:       statePending,
	}
	s.inflight[key] = t
	heap.Push(&s.queue, t)
	s.submitted++
	metrics.RecordTask("submitted")
	metrics.BackgroundQueueDepth.Set(float64(s.queue.Len()))

	s.cond.Signal()
	return t.id, nil
}

// GetResult polls for the terminal result of a submission. The boolean is
// false while the task is still in flight and for unknown or expired ids.
func (s *Scheduler) GetResult(requestID string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.results[requestID]
	return e.res, ok
}

// BackgroundData returns the cached value for key when it is non-stale and
// its last write came from a completed background task. A fresher value
// written by the synchronous path does not count.
func (s *Scheduler) BackgroundData(key string) (any, bool) {
	s.mu.Lock()
	wt, ok := s.bgWritten[key]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	storedAt, ok := s.store.StoredAt(key)
	if !ok || storedAt.After(wt) {
		return nil, false
	}
	return s.store.Get(key, s.cfg.BackgroundTTL)
}

// IsBackgroundDataAvailable reports whether BackgroundData would succeed.
func (s *Scheduler) IsBackgroundDataAvailable(key string) bool {
	_, ok := s.BackgroundData(key)
	return ok
}

// Accepting reports whether the scheduler still takes submissions.
func (s *Scheduler) Accepting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.draining
}

// Stats returns a snapshot of scheduler counters.
func (s *Scheduler) Stats() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Statistics{
		Submitted:    s.submitted,
		Deduplicated: s.deduplicated,
		Succeeded:    s.succeeded,
		Failed:       s.failed,
		Retried:      s.retried,
		QueueDepth:   s.queue.Len(),
		Running:      s.running,
	}
	if s.fetchCount > 0 {
		st.AverageFetchTime = s.totalFetchTime / time.Duration(s.fetchCount)
	}
	return st
}

// Shutdown stops accepting submissions. With wait it blocks up to timeout
// for queued and running tasks to finish, then cancels whatever remains;
// abandoned tasks get terminal failed results so pollers are never left
// waiting on an id that will not resolve.
func (s *Scheduler) Shutdown(wait bool, timeout time.Duration) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.cond.Broadcast()
	s.mu.Unlock()

	if wait {
		done := make(chan struct{})
		go func() {
			s.workers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			s.log.Warn().Dur("timeout", timeout).Msg("Shutdown timeout, abandoning in-flight tasks")
		}
	}

	// Cancel running fetches and the janitor; workers then drain the
	// remaining queue as terminal failures.
	s.cancel()
	s.workers.Wait()
	s.janitor.Wait()
	s.log.Info().Msg("Background scheduler stopped")
}

func (s *Scheduler) worker() {
	defer s.workers.Done()

	for {
		s.mu.Lock()
		for s.queue.Len() == 0 && !s.draining {
			s.cond.Wait()
		}
		if s.queue.Len() == 0 {
			s.mu.Unlock()
			return
		}
		t := heap.Pop(&s.queue).(*task)
		t.state = stateRunning
		t.attempt++
		s.running++
		metrics.BackgroundQueueDepth.Set(float64(s.queue.Len()))
		metrics.BackgroundRunning.Set(float64(s.running))
		s.mu.Unlock()

		s.execute(t)
	}
}

// execute runs one attempt of a task under its timeout.
func (s *Scheduler) execute(t *task) {
	if s.limiter != nil {
		if err := s.limiter.Wait(s.ctx); err != nil {
			s.fail(t, err, 0)
			return
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, t.timeout)
	defer cancel()

	type outcome struct {
		data any
		err  error
	}
	ch := make(chan outcome, 1)
	start := time.Now()
	go func() {
		data, err := t.fn(ctx)
		ch <- outcome{data: data, err: err}
	}()

	var data any
	var err error
	select {
	case o := <-ch:
		data, err = o.data, o.err
	case <-ctx.Done():
		// Timeout or shutdown. The fetch goroutine is abandoned; its
		// eventual result is discarded.
		err = ctx.Err()
	}
	elapsed := time.Since(start)

	if err != nil {
		s.fail(t, err, elapsed)
		return
	}
	s.succeed(t, data, elapsed)
}

func (s *Scheduler) succeed(t *task, data any, elapsed time.Duration) {
	if err := s.store.Save(t.key, data); err != nil {
		// Unencodable payload; retrying would produce the same value, so
		// this is terminal.
		s.mu.Lock()
		t.retriesLeft = 0
		s.mu.Unlock()
		s.fail(t, err, elapsed)
		return
	}

	now := time.Now()
	s.mu.Lock()
	delete(s.inflight, t.key)
	s.bgWritten[t.key] = now
	s.results[t.id] = resultEntry{
		res: Result{
			RequestID:   t.id,
			Key:         t.key,
			Success:     true,
			Data:        data,
			FetchTime:   elapsed,
			CompletedAt: now,
		},
		storedAt: now,
	}
	s.succeeded++
	s.fetchCount++
	s.totalFetchTime += elapsed
	s.running--
	metrics.BackgroundRunning.Set(float64(s.running))
	s.mu.Unlock()

	metrics.RecordTask("succeeded")
	metrics.FetchDuration.Observe(elapsed.Seconds())
	s.log.Debug().
		Str("key", t.key).
		Int("attempt", t.attempt).
		Dur("fetch_time", elapsed).
		Msg("Background fetch succeeded")
}

func (s *Scheduler) fail(t *task, err error, elapsed time.Duration) {
	s.mu.Lock()
	if t.retriesLeft > 0 && !s.draining {
		t.retriesLeft--
		t.state = stateRetrying
		s.retried++
		s.running--
		metrics.BackgroundRunning.Set(float64(s.running))
		delay := backoff(s.cfg.BackoffBase, s.cfg.BackoffMax, s.cfg.BackoffJitter, t.attempt-1)
		s.mu.Unlock()

		metrics.RecordTask("retried")
		s.log.Warn().
			Str("key", t.key).
			Int("attempt", t.attempt).
			Dur("retry_in", delay).
			Err(err).
			Msg("Background fetch failed, will retry")
		time.AfterFunc(delay, func() { s.requeue(t) })
		return
	}

	now := time.Now()
	delete(s.inflight, t.key)
	s.results[t.id] = resultEntry{
		res: Result{
			RequestID:   t.id,
			Key:         t.key,
			Err:         err.Error(),
			FetchTime:   elapsed,
			CompletedAt: now,
		},
		storedAt: now,
	}
	s.failed++
	s.fetchCount++
	s.totalFetchTime += elapsed
	s.running--
	metrics.BackgroundRunning.Set(float64(s.running))
	s.mu.Unlock()

	metrics.RecordTask("failed")
	s.log.Error().
		Str("key", t.key).
		Int("attempts", t.attempt).
		Err(err).
		Msg("Background fetch failed terminally")
}

// requeue puts a retrying task back on the queue once its backoff elapses.
func (s *Scheduler) requeue(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draining {
		now := time.Now()
		delete(s.inflight, t.key)
		s.results[t.id] = resultEntry{
			res: Result{
				RequestID:   t.id,
				Key:         t.key,
				Err:         "scheduler shut down before retry",
				CompletedAt: now,
			},
			storedAt: now,
		}
		s.failed++
		metrics.RecordTask("failed")
		return
	}

	t.state = statePending
	s.seq++
	t.seq = s.seq
	heap.Push(&s.queue, t)
	metrics.BackgroundQueueDepth.Set(float64(s.queue.Len()))
	s.cond.Signal()
}

// runJanitor garbage-collects expired results and background-write
// bookkeeping until shutdown.
func (s *Scheduler) runJanitor() {
	defer s.janitor.Done()

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.collectExpired()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) collectExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.results {
		if now.Sub(e.storedAt) >= s.cfg.ResultTTL {
			delete(s.results, id)
		}
	}
	for key, wt := range s.bgWritten {
		if now.Sub(wt) >= s.cfg.BackgroundTTL {
			delete(s.bgWritten, key)
		}
	}
}
