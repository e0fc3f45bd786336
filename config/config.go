// Package config provides configuration management for the feedcache service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete application configuration.
type Config struct {
	Log        LogConfig
	Server     ServerConfig
	Cache      CacheConfig
	Background BackgroundConfig
	Domains    map[string]DomainConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Pretty bool
}

// ServerConfig holds operational HTTP server configuration.
type ServerConfig struct {
	Port        string
	RateLimit   float64
	RateBurst   int
	CORSOrigins []string
	APIKeys     map[string]bool
}

// CacheConfig holds cache store configuration.
type CacheConfig struct {
	// Dir is the directory holding the on-disk cache mirror.
	Dir string
	// SyncTTL is the freshness window for entries written by synchronous
	// fallback fetches.
	SyncTTL time.Duration
	// BackgroundTTL is the freshness window for entries refreshed by
	// background tasks.
	BackgroundTTL time.Duration
	// ResultTTL is how long completed fetch results stay pollable.
	ResultTTL time.Duration
}

// BackgroundConfig holds background fetch scheduler configuration.
type BackgroundConfig struct {
	Enabled         bool
	MaxWorkers      int
	RequestTimeout  time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	BackoffJitter   float64
	RateLimit       float64
	RateBurst       int
	ShutdownTimeout time.Duration
}

// DomainConfig holds per-domain overrides (one domain per sport/mode).
type DomainConfig struct {
	// Priority orders background fetches; lower values are scheduled first.
	Priority int
	// BreakerEnabled guards the domain's synchronous fetch path with a
	// circuit breaker.
	BreakerEnabled bool
}

// DefaultPriority is used for domains without an explicit priority.
const DefaultPriority = 5

// Load creates a Config from environment variables.
func Load() Config {
	return Config{
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnvBool("LOG_PRETTY", false),
		},
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			RateLimit:   getEnvFloat("OPS_RATE_LIMIT", 50),
			RateBurst:   getEnvInt("OPS_RATE_BURST", 25),
			CORSOrigins: parseList(os.Getenv("CORS_ORIGINS")),
			APIKeys:     parseAPIKeys(os.Getenv("API_KEYS")),
		},
		Cache: CacheConfig{
			Dir:           getEnv("CACHE_DIR", "cache"),
			SyncTTL:       getEnvDuration("CACHE_SYNC_TTL", 5*time.Minute),
			BackgroundTTL: getEnvDuration("CACHE_BACKGROUND_TTL", 15*time.Minute),
			ResultTTL:     getEnvDuration("RESULT_TTL", 5*time.Minute),
		},
		Background: BackgroundConfig{
			Enabled:         getEnvBool("BACKGROUND_ENABLED", true),
			MaxWorkers:      getEnvInt("MAX_WORKERS", 3),
			RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
			MaxRetries:      getEnvInt("MAX_RETRIES", 2),
			BackoffBase:     getEnvDuration("BACKOFF_BASE", 500*time.Millisecond),
			BackoffMax:      getEnvDuration("BACKOFF_MAX", 30*time.Second),
			BackoffJitter:   getEnvFloat("BACKOFF_JITTER", 0.2),
			RateLimit:       getEnvFloat("FETCH_RATE_LIMIT", 0),
			RateBurst:       getEnvInt("FETCH_RATE_BURST", 1),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Domains: parseDomains(
			os.Getenv("DOMAINS"),
			os.Getenv("DOMAIN_PRIORITIES"),
			os.Getenv("DOMAIN_BREAKERS"),
		),
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

func parseAPIKeys(s string) map[string]bool {
	if s == "" {
		return nil
	}
	keys := strings.Split(s, ",")
	result := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			result[k] = true
		}
	}
	return result
}

// parseDomains builds per-domain configuration from a domain list plus
// "name=value" override maps, e.g.
//
//	DOMAINS=nfl,nhl,weather
//	DOMAIN_PRIORITIES=nfl=1,weather=8
//	DOMAIN_BREAKERS=weather
func parseDomains(domains, priorities, breakers string) map[string]DomainConfig {
	names := parseList(domains)
	if len(names) == 0 {
		return nil
	}

	prio := parseIntMap(priorities)
	brk := make(map[string]bool)
	for _, name := range parseList(breakers) {
		brk[name] = true
	}

	result := make(map[string]DomainConfig, len(names))
	for _, name := range names {
		cfg := DomainConfig{Priority: DefaultPriority}
		if p, ok := prio[name]; ok {
			cfg.Priority = p
		}
		cfg.BreakerEnabled = brk[name]
		result[name] = cfg
	}
	return result
}

func parseIntMap(s string) map[string]int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make(map[string]int, len(parts))
	for _, p := range parts {
		name, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			continue
		}
		if v, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			result[strings.TrimSpace(name)] = v
		}
	}
	return result
}
