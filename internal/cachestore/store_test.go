//go:build !integration

package cachestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestGetTTL(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("nfl_schedule_2024", map[string]any{"events": 10}))

	v, ok := s.Get("nfl_schedule_2024", time.Minute)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"events": float64(10)}, v)

	// An entry older than the caller's TTL is a miss.
	time.Sleep(20 * time.Millisecond)
	_, ok = s.Get("nfl_schedule_2024", 10*time.Millisecond)
	assert.False(t, ok)

	// But still a hit for a caller with a longer TTL.
	_, ok = s.Get("nfl_schedule_2024", time.Minute)
	assert.True(t, ok)
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t)

	_, ok := s.Get("never_saved", time.Minute)
	assert.False(t, ok)
}

func TestSaveOverwrites(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("weather_current", map[string]any{"temp": 10}))
	require.NoError(t, s.Save("weather_current", map[string]any{"temp": 20}))

	v, ok := s.Get("weather_current", time.Minute)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"temp": float64(20)}, v)
	assert.Equal(t, 1, s.Len())
}

func TestSaveUnencodableValue(t *testing.T) {
	s := newTestStore(t)

	err := s.Save("bad", make(chan int))
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("k", map[string]any{"a": 1}))

	v1, ok := s.Get("k", time.Minute)
	require.True(t, ok)
	v1.(map[string]any)["a"] = 99

	v2, ok := s.Get("k", time.Minute)
	require.True(t, ok)
	assert.Equal(t, float64(1), v2.(map[string]any)["a"])
}

func TestLatestIgnoresTTL(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("nhl_recent", []any{"game"}))
	time.Sleep(20 * time.Millisecond)

	_, ok := s.Get("nhl_recent", time.Millisecond)
	require.False(t, ok)

	v, storedAt, ok := s.Latest("nhl_recent")
	require.True(t, ok)
	assert.Equal(t, []any{"game"}, v)
	assert.WithinDuration(t, time.Now(), storedAt, time.Second)
}

func TestRemoveAndClear(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("a", 1))
	require.NoError(t, s.Save("b", 2))

	s.Remove("a")
	_, ok := s.Get("a", time.Minute)
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestKeysSorted(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("b", 2))
	require.NoError(t, s.Save("a", 1))
	require.NoError(t, s.Save("c", 3))

	assert.Equal(t, []string{"a", "b", "c"}, s.Keys())
}

func TestMirrorSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save("nfl_schedule_2024", map[string]any{"events": 10}))
	require.NoError(t, s.Save("weather_current", map[string]any{"temp": 20}))
	s.Close()

	reloaded, err := New(dir)
	require.NoError(t, err)
	defer reloaded.Close()

	v, ok := reloaded.Get("nfl_schedule_2024", time.Minute)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"events": float64(10)}, v)
	assert.Equal(t, 2, reloaded.Len())
}

func TestMirrorPreservesStoredAt(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save("k", "v"))
	before, ok := s.StoredAt("k")
	require.True(t, ok)
	s.Close()

	reloaded, err := New(dir)
	require.NoError(t, err)
	defer reloaded.Close()

	after, ok := reloaded.StoredAt("k")
	require.True(t, ok)
	assert.WithinDuration(t, before, after, time.Millisecond)
}

func TestCorruptMirrorFileSkipped(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save("good", "data"))
	s.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nokey.json"), []byte(`{"value":1}`), 0o644))

	reloaded, err := New(dir)
	require.NoError(t, err)
	defer reloaded.Close()

	assert.Equal(t, 1, reloaded.Len())
	_, ok := reloaded.Get("good", time.Minute)
	assert.True(t, ok)
}

func TestRemoveDeletesMirrorFile(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save("k", "v"))
	s.Remove("k")
	s.Close()

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestClearEmptiesMirrorDir(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save("a", 1))
	require.NoError(t, s.Save("b", 2))
	s.Clear()
	s.Close()

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFilenameSanitized(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name string
		key  string
	}{
		{name: "slashes", key: "nfl/2024/week 1"},
		{name: "plain", key: "nfl_schedule_2024"},
		{name: "unicode", key: "wetter_münchen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := s.filename(tt.key)
			base := filepath.Base(f)
			assert.Regexp(t, `^[A-Za-z0-9._-]+\.json$`, base)
		})
	}
}

func TestFilenameCollisionsDistinct(t *testing.T) {
	s := newTestStore(t)

	// Both sanitize to the same name; the hash suffix keeps them apart.
	assert.NotEqual(t, s.filename("nfl/2024"), s.filename("nfl_2024"))
}

func TestMirrorFileFormat(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save("nfl_schedule_2024", map[string]any{"events": 10}))
	s.Close()

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)

	var de struct {
		Key      string          `json:"key"`
		Value    json.RawMessage `json:"value"`
		StoredAt time.Time       `json:"stored_at"`
	}
	require.NoError(t, json.Unmarshal(data, &de))
	assert.Equal(t, "nfl_schedule_2024", de.Key)
	assert.JSONEq(t, `{"events":10}`, string(de.Value))
	assert.False(t, de.StoredAt.IsZero())
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping())
}

func TestCloseIdempotent(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	s.Close()
	s.Close()

	// Writes after close are dropped, not panics.
	assert.NoError(t, s.Save("k", "v"))
}
