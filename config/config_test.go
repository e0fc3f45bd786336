//go:build !integration

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "cache", cfg.Cache.Dir)
	assert.Equal(t, 5*time.Minute, cfg.Cache.SyncTTL)
	assert.Equal(t, 15*time.Minute, cfg.Cache.BackgroundTTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ResultTTL)
	assert.True(t, cfg.Background.Enabled)
	assert.Equal(t, 3, cfg.Background.MaxWorkers)
	assert.Equal(t, 30*time.Second, cfg.Background.RequestTimeout)
	assert.Equal(t, 2, cfg.Background.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Background.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Background.BackoffMax)
	assert.InDelta(t, 0.2, cfg.Background.BackoffJitter, 1e-9)
	assert.Equal(t, 10*time.Second, cfg.Background.ShutdownTimeout)
	assert.Nil(t, cfg.Domains)
	assert.Nil(t, cfg.Server.APIKeys)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_DIR", "/var/cache/feedcache")
	t.Setenv("CACHE_SYNC_TTL", "2m")
	t.Setenv("MAX_WORKERS", "5")
	t.Setenv("MAX_RETRIES", "4")
	t.Setenv("BACKGROUND_ENABLED", "false")
	t.Setenv("API_KEYS", "key1, key2")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000")

	cfg := Load()

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "/var/cache/feedcache", cfg.Cache.Dir)
	assert.Equal(t, 2*time.Minute, cfg.Cache.SyncTTL)
	assert.Equal(t, 5, cfg.Background.MaxWorkers)
	assert.Equal(t, 4, cfg.Background.MaxRetries)
	assert.False(t, cfg.Background.Enabled)
	assert.Equal(t, map[string]bool{"key1": true, "key2": true}, cfg.Server.APIKeys)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAX_WORKERS", "not-a-number")
	t.Setenv("CACHE_SYNC_TTL", "soon")
	t.Setenv("BACKGROUND_ENABLED", "maybe")

	cfg := Load()

	assert.Equal(t, 3, cfg.Background.MaxWorkers)
	assert.Equal(t, 5*time.Minute, cfg.Cache.SyncTTL)
	assert.True(t, cfg.Background.Enabled)
}

func TestParseDomains(t *testing.T) {
	tests := []struct {
		name       string
		domains    string
		priorities string
		breakers   string
		want       map[string]DomainConfig
	}{
		{
			name: "empty",
			want: nil,
		},
		{
			name:    "defaults only",
			domains: "nfl,nhl",
			want: map[string]DomainConfig{
				"nfl": {Priority: DefaultPriority},
				"nhl": {Priority: DefaultPriority},
			},
		},
		{
			name:       "overrides",
			domains:    "nfl, nhl ,weather",
			priorities: "nfl=1,weather=8",
			breakers:   "weather",
			want: map[string]DomainConfig{
				"nfl":     {Priority: 1},
				"nhl":     {Priority: DefaultPriority},
				"weather": {Priority: 8, BreakerEnabled: true},
			},
		},
		{
			name:       "priority for unknown domain ignored",
			domains:    "nfl",
			priorities: "mlb=2",
			want: map[string]DomainConfig{
				"nfl": {Priority: DefaultPriority},
			},
		},
		{
			name:       "malformed priority entries skipped",
			domains:    "nfl",
			priorities: "nfl=high,=3,nfl",
			want: map[string]DomainConfig{
				"nfl": {Priority: DefaultPriority},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDomains(tt.domains, tt.priorities, tt.breakers)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseList(t *testing.T) {
	assert.Nil(t, parseList(""))
	assert.Equal(t, []string{"a", "b"}, parseList("a, b,"))
}
