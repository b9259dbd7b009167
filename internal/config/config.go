package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	CacheDriverRedis  = "redis"
	CacheDriverMemory = "memory"
	CacheDriverNone   = "none"
)

// Config holds all runtime configuration loaded from environment variables
// (optionally seeded from a .env file). Every field has a sensible default;
// DATABASE_URL is required when the postgres store driver is selected.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Queue store
	StoreDriver  string
	DatabaseURL  string
	DBMaxConns   int32
	DBMinConns   int32
	StoreTimeout time.Duration

	// Cache port
	CacheDriver   string
	RedisURL      string
	CacheKeySpace string
	CacheSize     int
	CacheBatchTTL time.Duration
	CacheReadTTL  time.Duration

	// Printing policy
	BatchSize int

	// Retry of mutating store calls: delay before attempt n+1 is base * 2^n.
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	// Per-actor rate limiting of mutating endpoints
	RateLimitPerActor float64
	RateLimitBurst    int

	// Background depth gauge sampling
	DepthSampleInterval time.Duration
}

var defaults = map[string]any{
	"HTTP_PORT":        "8080",
	"READ_TIMEOUT":     "5s",
	"WRITE_TIMEOUT":    "10s",
	"SHUTDOWN_TIMEOUT": "30s",

	"STORE_DRIVER":  StoreDriverPostgres,
	"DATABASE_URL":  "",
	"DB_MAX_CONNS":  25,
	"DB_MIN_CONNS":  5,
	"STORE_TIMEOUT": "5s",

	"CACHE_DRIVER":    "",
	"REDIS_URL":       "",
	"CACHE_KEY_SPACE": "printq:",
	"CACHE_SIZE":      1024,
	"CACHE_BATCH_TTL": "30s",
	"CACHE_READ_TTL":  "10s",

	"BATCH_SIZE": 4,

	"RETRY_MAX_ATTEMPTS": 3,
	"RETRY_BASE_DELAY":   "100ms",

	"RATE_LIMIT_PER_ACTOR": 5.0,
	"RATE_LIMIT_BURST":     10,

	"DEPTH_SAMPLE_INTERVAL": "15s",
}

// Load reads configuration from the process environment. A .env file in the
// working directory is applied first if present; real environment variables
// win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPPort:        v.GetString("HTTP_PORT"),
		ReadTimeout:     v.GetDuration("READ_TIMEOUT"),
		WriteTimeout:    v.GetDuration("WRITE_TIMEOUT"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),

		StoreDriver:  strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL:  v.GetString("DATABASE_URL"),
		DBMaxConns:   v.GetInt32("DB_MAX_CONNS"),
		DBMinConns:   v.GetInt32("DB_MIN_CONNS"),
		StoreTimeout: v.GetDuration("STORE_TIMEOUT"),

		CacheDriver:   strings.ToLower(v.GetString("CACHE_DRIVER")),
		RedisURL:      v.GetString("REDIS_URL"),
		CacheKeySpace: v.GetString("CACHE_KEY_SPACE"),
		CacheSize:     v.GetInt("CACHE_SIZE"),
		CacheBatchTTL: v.GetDuration("CACHE_BATCH_TTL"),
		CacheReadTTL:  v.GetDuration("CACHE_READ_TTL"),

		BatchSize: v.GetInt("BATCH_SIZE"),

		RetryMaxAttempts: v.GetInt("RETRY_MAX_ATTEMPTS"),
		RetryBaseDelay:   v.GetDuration("RETRY_BASE_DELAY"),

		RateLimitPerActor: v.GetFloat64("RATE_LIMIT_PER_ACTOR"),
		RateLimitBurst:    v.GetInt("RATE_LIMIT_BURST"),

		DepthSampleInterval: v.GetDuration("DEPTH_SAMPLE_INTERVAL"),
	}

	// Without an explicit choice, a configured Redis wins over the in-process cache.
	if cfg.CacheDriver == "" {
		cfg.CacheDriver = CacheDriverMemory
		if cfg.RedisURL != "" {
			cfg.CacheDriver = CacheDriverRedis
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return errors.Newf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}

	switch c.CacheDriver {
	case CacheDriverRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when CACHE_DRIVER=redis")
		}
	case CacheDriverMemory, CacheDriverNone:
	default:
		return errors.Newf("CACHE_DRIVER must be redis, memory or none, got %q", c.CacheDriver)
	}

	if c.BatchSize < 1 {
		return errors.Newf("BATCH_SIZE must be at least 1, got %d", c.BatchSize)
	}
	if c.RetryMaxAttempts < 1 {
		return errors.Newf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.StoreTimeout <= 0 {
		return errors.New("STORE_TIMEOUT must be positive")
	}
	if c.DepthSampleInterval <= 0 {
		return errors.Newf("DEPTH_SAMPLE_INTERVAL must be positive, got %s", c.DepthSampleInterval)
	}
	return nil
}
