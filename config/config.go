// Package config loads resilix client settings from a YAML file and turns
// them into functional options. It exists for binaries (like cmd/resilix)
// that want file-driven configuration; library users compose options
// directly.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/quotelab/resilix"
	"github.com/quotelab/resilix/rediscache"
	"github.com/quotelab/resilix/sqlitecache"
)

// Config holds all file-configurable client settings.
type Config struct {
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`

	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Cache          CacheConfig          `yaml:"cache"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`

	Deduplication bool        `yaml:"deduplication"`
	Metrics       bool        `yaml:"metrics"`
	Debug         DebugConfig `yaml:"debug"`
}

// RetryConfig controls the retry loop and its backoff curve.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	Jitter         float64       `yaml:"jitter"`
}

// CircuitBreakerConfig controls the per-endpoint breakers.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// CacheConfig selects and tunes the response cache backend.
// Backend is "memory" (default), "redis" or "sqlite".
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Backend     string        `yaml:"backend"`
	TTL         time.Duration `yaml:"ttl"`
	FromHeaders bool          `yaml:"from_headers"`
	Redis       RedisConfig   `yaml:"redis"`
	SQLitePath  string        `yaml:"sqlite_path"`
}

// RedisConfig points the redis cache backend at a server.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RateLimitConfig controls the client-side token bucket.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Interval time.Duration `yaml:"interval"`
}

// DebugConfig toggles structured debug logging by category.
type DebugConfig struct {
	Enabled      bool `yaml:"enabled"`
	LogRequests  bool `yaml:"log_requests"`
	LogRetries   bool `yaml:"log_retries"`
	LogCache     bool `yaml:"log_cache"`
	LogCircuit   bool `yaml:"log_circuit"`
	LogRateLimit bool `yaml:"log_rate_limit"`
}

// Default returns a Config mirroring the client's built-in defaults.
func Default() *Config {
	return &Config{
		Timeout: resilix.DefaultTimeout,
		Retry: RetryConfig{
			MaxRetries:     resilix.DefaultMaxRetries,
			InitialBackoff: resilix.DefaultInitialBackoff,
			MaxBackoff:     resilix.DefaultMaxBackoff,
			Multiplier:     resilix.DefaultBackoffMultiplier,
			Jitter:         resilix.DefaultJitter,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: resilix.DefaultFailureThreshold,
			Cooldown:         resilix.DefaultCooldown,
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "memory",
			TTL:     resilix.DefaultCacheTTL,
		},
		Debug: DebugConfig{
			LogRequests:  true,
			LogRetries:   true,
			LogCache:     true,
			LogCircuit:   true,
			LogRateLimit: true,
		},
	}
}

// Load reads a YAML config file and expands environment variables, so
// values like ${REDIS_PASSWORD} stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Load .env file if it exists so expansion can see its values.
	_ = godotenv.Load()

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Options converts the config into client options, constructing cache
// backends as needed. Backends built here live for the process lifetime.
func (c *Config) Options() ([]resilix.Option, error) {
	opts := []resilix.Option{
		resilix.WithTimeout(c.Timeout),
		resilix.WithMaxRetries(c.Retry.MaxRetries),
		resilix.WithInitialBackoff(c.Retry.InitialBackoff),
		resilix.WithMaxBackoff(c.Retry.MaxBackoff),
		resilix.WithBackoffMultiplier(c.Retry.Multiplier),
		resilix.WithJitter(c.Retry.Jitter),
		resilix.WithCircuitBreaker(resilix.CircuitBreakerConfig{
			FailureThreshold: c.CircuitBreaker.FailureThreshold,
			Cooldown:         c.CircuitBreaker.Cooldown,
		}),
	}

	if c.UserAgent != "" {
		opts = append(opts, resilix.WithUserAgent(c.UserAgent))
	}

	if c.Cache.Enabled {
		cacheOpts, err := c.cacheOptions()
		if err != nil {
			return nil, err
		}
		opts = append(opts, cacheOpts...)
	}

	if c.RateLimit.Enabled {
		opts = append(opts, resilix.WithRateLimiter(c.RateLimit.Requests, c.RateLimit.Interval))
	}
	if c.Deduplication {
		opts = append(opts, resilix.WithDeduplication())
	}
	if c.Metrics {
		opts = append(opts, resilix.WithMetrics())
	}
	if c.Debug.Enabled {
		opts = append(opts, resilix.WithSimpleLogger(), resilix.WithDebugConfig(&resilix.DebugConfig{
			Enabled:      true,
			LogRequests:  c.Debug.LogRequests,
			LogRetries:   c.Debug.LogRetries,
			LogCache:     c.Debug.LogCache,
			LogCircuit:   c.Debug.LogCircuit,
			LogRateLimit: c.Debug.LogRateLimit,
			RequestIDGen: resilix.DefaultRequestIDGenerator,
		}))
	}

	return opts, nil
}

func (c *Config) cacheOptions() ([]resilix.Option, error) {
	var opts []resilix.Option

	if c.Cache.Backend == "" || c.Cache.Backend == "memory" {
		opts = append(opts, resilix.WithCache(c.Cache.TTL))
	} else {
		backend, err := NewCacheBackend(&c.Cache)
		if err != nil {
			return nil, err
		}
		opts = append(opts, resilix.WithCustomCache(backend, c.Cache.TTL))
	}

	if c.Cache.FromHeaders {
		opts = append(opts, resilix.WithCacheTTLFromHeaders())
	}
	return opts, nil
}

// NewCacheBackend constructs the cache backend a CacheConfig names. Used by
// cacheOptions and by tooling that inspects a shared backend directly.
func NewCacheBackend(cfg *CacheConfig) (resilix.Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return resilix.NewInMemoryCache(), nil
	case "redis":
		backend, err := rediscache.New(rediscache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return backend, nil
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "resilix-cache.db"
		}
		backend, err := sqlitecache.New(path)
		if err != nil {
			return nil, fmt.Errorf("sqlite cache: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
