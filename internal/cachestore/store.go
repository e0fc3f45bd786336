// Package cachestore provides a process-wide TTL cache mirrored to disk.
//
// Entries carry the timestamp of their last write; freshness is decided at
// read time against the caller's TTL, so the same entry can be fresh for one
// consumer and stale for another. Values are stored as encoded JSON and
// decoded on every read, so callers always receive private copies and can
// never mutate store state through a returned value.
package cachestore

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/openmatrix/feedcache/internal/logger"
	"github.com/openmatrix/feedcache/internal/metrics"
	"github.com/rs/zerolog"
)

// writeBufferSize bounds the number of pending disk writes. When the buffer
// is full, writes are dropped; the mirror is best-effort.
const writeBufferSize = 256

type entry struct {
	raw      json.RawMessage
	storedAt time.Time
}

// Store is an in-memory key/value cache with per-entry timestamps and an
// asynchronous on-disk mirror. All methods are safe for concurrent use.
type Store struct {
	dir string
	log zerolog.Logger

	mu      sync.RWMutex
	entries map[string]entry
	closed  bool

	writes chan diskOp
	wg     sync.WaitGroup
}

// New creates a Store backed by dir, loading any entries mirrored there by a
// previous run. Corrupt mirror files are skipped and will be overwritten by
// the next save for their key.
func New(dir string) (*Store, error) {
	s := &Store{
		dir:     dir,
		log:     logger.Component("cachestore"),
		entries: make(map[string]entry),
		writes:  make(chan diskOp, writeBufferSize),
	}
	if err := s.loadMirror(); err != nil {
		return nil, err
	}
	metrics.CacheEntries.Set(float64(len(s.entries)))

	s.wg.Add(1)
	go s.diskWriter()

	return s, nil
}

// Get returns the value for key if its last write is younger than ttl.
// An expired entry and a missing entry are the same miss; callers must not
// distinguish the two. A ttl of zero or below disables the freshness check.
func (s *Store) Get(key string, ttl time.Duration) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if ttl > 0 && time.Since(e.storedAt) >= ttl {
		return nil, false
	}
	return s.decode(key, e)
}

// Latest returns the most recent value for key regardless of age, together
// with its write timestamp. Used for stale degradation and by the ops API.
func (s *Store) Latest(key string) (any, time.Time, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, time.Time{}, false
	}
	v, ok := s.decode(key, e)
	return v, e.storedAt, ok
}

// StoredAt returns the timestamp of the last write for key.
func (s *Store) StoredAt(key string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	return e.storedAt, ok
}

// Save overwrites the entry for key and queues a best-effort disk write.
// It never blocks on I/O. The only error is a value that cannot be
// JSON-encoded.
func (s *Store) Save(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	now := time.Now()

	s.mu.Lock()
	s.entries[key] = entry{raw: raw, storedAt: now}
	metrics.CacheEntries.Set(float64(len(s.entries)))
	s.mu.Unlock()

	s.enqueue(diskOp{kind: opWrite, key: key, raw: raw, storedAt: now})
	return nil
}

// Remove deletes one entry and its mirror file.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	metrics.CacheEntries.Set(float64(len(s.entries)))
	s.mu.Unlock()

	s.enqueue(diskOp{kind: opRemove, key: key})
}

// Clear deletes every entry and empties the mirror directory.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]entry)
	metrics.CacheEntries.Set(0)
	s.mu.Unlock()

	s.enqueue(diskOp{kind: opClear})
}

// Keys returns all known keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Ping verifies the mirror directory is writable; used by the readiness
// probe.
func (s *Store) Ping() error {
	f, err := os.CreateTemp(s.dir, ".ping-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Close flushes pending disk writes and stops the writer. The store must not
// be used after Close.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	// Closing under the write lock: enqueue sends while holding the read
	// lock, so no send can overlap the close.
	close(s.writes)
	s.mu.Unlock()

	s.wg.Wait()
}

// decode unmarshals an entry into a fresh value. A decode failure is treated
// as a miss; the entry will be replaced by the next successful fetch.
func (s *Store) decode(key string, e entry) (any, bool) {
	var v any
	if err := json.Unmarshal(e.raw, &v); err != nil {
		s.log.Warn().Str("key", key).Err(err).Msg("Discarding undecodable cache entry")
		return nil, false
	}
	return v, true
}

// enqueue hands an operation to the disk writer without blocking.
func (s *Store) enqueue(op diskOp) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.writes <- op:
	default:
		s.log.Warn().Str("key", op.key).Msg("Disk write buffer full, dropping mirror write")
	}
}
