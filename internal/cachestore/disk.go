package cachestore

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type opKind int

const (
	opWrite opKind = iota
	opRemove
	opClear
)

// diskOp is one unit of work for the background disk writer.
type diskOp struct {
	kind     opKind
	key      string
	raw      json.RawMessage
	storedAt time.Time
}

// diskEntry is the persisted form of a cache entry: one JSON file per key.
// The key is stored in the body so loading never has to parse filenames.
type diskEntry struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"stored_at"`
}

// diskWriter drains the write queue. All I/O failures are logged and
// swallowed; the cache degrades to memory-only for the affected key.
func (s *Store) diskWriter() {
	defer s.wg.Done()

	for op := range s.writes {
		switch op.kind {
		case opWrite:
			s.writeFile(op)
		case opRemove:
			if err := os.Remove(s.filename(op.key)); err != nil && !os.IsNotExist(err) {
				s.log.Warn().Str("key", op.key).Err(err).Msg("Failed to remove mirror file")
			}
		case opClear:
			s.clearMirror()
		}
	}
}

// writeFile persists one entry, whole-file: encode to a temp file in the
// cache dir, then rename over the target. A crash mid-write leaves either
// the old file or the new one, never a torn mix.
func (s *Store) writeFile(op diskOp) {
	data, err := json.Marshal(diskEntry{Key: op.key, Value: op.raw, StoredAt: op.storedAt})
	if err != nil {
		s.log.Warn().Str("key", op.key).Err(err).Msg("Failed to encode mirror entry")
		return
	}

	target := s.filename(op.key)
	tmp, err := os.CreateTemp(s.dir, ".cache-*")
	if err != nil {
		s.log.Warn().Str("key", op.key).Err(err).Msg("Failed to create mirror temp file")
		return
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		s.log.Warn().Str("key", op.key).AnErr("write", werr).AnErr("close", cerr).
			Msg("Failed to write mirror file")
		return
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		s.log.Warn().Str("key", op.key).Err(err).Msg("Failed to replace mirror file")
	}
}

func (s *Store) clearMirror() {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to list mirror files")
		return
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Str("file", f).Err(err).Msg("Failed to remove mirror file")
		}
	}
}

// loadMirror reads every mirror file back into memory at startup. A file
// that cannot be read or decoded is logged and skipped; its key simply
// starts out absent.
func (s *Store) loadMirror() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return fmt.Errorf("list cache dir: %w", err)
	}

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			s.log.Warn().Str("file", f).Err(err).Msg("Skipping unreadable mirror file")
			continue
		}
		var de diskEntry
		if err := json.Unmarshal(data, &de); err != nil || de.Key == "" || de.StoredAt.IsZero() {
			s.log.Warn().Str("file", f).Msg("Skipping corrupt mirror file")
			continue
		}
		s.entries[de.Key] = entry{raw: de.Value, storedAt: de.StoredAt}
	}

	if len(s.entries) > 0 {
		s.log.Info().Int("entries", len(s.entries)).Str("dir", s.dir).Msg("Loaded cache mirror")
	}
	return nil
}

// filename derives a filesystem-safe mirror filename for a key: the key with
// unsafe characters replaced, plus a short hash of the raw key so sanitized
// collisions ("nfl/2024" vs "nfl_2024") still map to distinct files.
func (s *Store) filename(key string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, key)

	h := fnv.New32a()
	h.Write([]byte(key))
	return filepath.Join(s.dir, fmt.Sprintf("%s-%08x.json", sanitized, h.Sum32()))
}
