// Package config provides configuration management for locksync.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kneutral-org/locksync/internal/lock"
)

const (
	// DefaultHTTPAddr is the default listen address of the status server.
	DefaultHTTPAddr = ":9090"

	// DefaultElectionPacing is the default pause between election runs.
	DefaultElectionPacing = 5 * time.Second

	// DefaultRequestTimeout bounds each request to the lock service.
	DefaultRequestTimeout = 10 * time.Second
)

// Config holds the application configuration.
type Config struct {
	// BaseURI is the address of the lock service.
	BaseURI string

	// Backend selects the RemoteClient: http, redis, postgres or memory.
	Backend string

	// Interval is the heartbeat interval for renewal and polling.
	Interval time.Duration

	// LeaseTTL is the lease expiry used by the redis and postgres backends.
	LeaseTTL time.Duration

	// RequestTimeout bounds each HTTP request to the lock service.
	RequestTimeout time.Duration

	RedisURL      string
	PostgresDSN   string
	PostgresTable string

	// OwnerID identifies this process to the lock service.
	OwnerID string

	LogLevel  string
	LogPretty bool

	// HTTPAddr is where the status server listens.
	HTTPAddr string

	// ElectionPacing is the pause between election runs when looping.
	ElectionPacing time.Duration
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	cfg := &Config{
		BaseURI:        getEnvOrDefault("LOCKSYNC_BASE_URI", lock.DefaultBaseURI),
		Backend:        getEnvOrDefault("LOCKSYNC_BACKEND", lock.BackendHTTP),
		Interval:       getEnvDurationOrDefault("LOCKSYNC_INTERVAL", lock.DefaultInterval),
		LeaseTTL:       getEnvDurationOrDefault("LOCKSYNC_LEASE_TTL", lock.DefaultLeaseTTL),
		RequestTimeout: getEnvDurationOrDefault("LOCKSYNC_REQUEST_TIMEOUT", DefaultRequestTimeout),
		RedisURL:       getEnvOrDefault("LOCKSYNC_REDIS_URL", "redis://localhost:6379/0"),
		PostgresDSN:    os.Getenv("LOCKSYNC_POSTGRES_DSN"),
		PostgresTable:  getEnvOrDefault("LOCKSYNC_POSTGRES_TABLE", lock.DefaultPostgresTable),
		OwnerID:        getEnvOrDefault("LOCKSYNC_OWNER_ID", lock.NewOwnerID()),
		LogLevel:       getEnvOrDefault("LOCKSYNC_LOG_LEVEL", "info"),
		LogPretty:      getEnvBoolOrDefault("LOCKSYNC_LOG_PRETTY", false),
		HTTPAddr:       getEnvOrDefault("LOCKSYNC_HTTP_ADDR", DefaultHTTPAddr),
		ElectionPacing: getEnvDurationOrDefault("LOCKSYNC_ELECTION_PACING", DefaultElectionPacing),
	}

	return cfg
}

// Validate checks that the configuration can be used to build a lock.
func (c *Config) Validate() error {
	switch c.Backend {
	case lock.BackendHTTP, lock.BackendMemory:
	case lock.BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("LOCKSYNC_REDIS_URL is required for the %s backend", c.Backend)
		}
	case lock.BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("LOCKSYNC_POSTGRES_DSN is required for the %s backend", c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("lease ttl must be positive, got %s", c.LeaseTTL)
	}
	if c.ElectionPacing <= 0 {
		return fmt.Errorf("election pacing must be positive, got %s", c.ElectionPacing)
	}
	return nil
}

// BackendConfig returns the subset of the configuration that selects the
// remote lock client.
func (c *Config) BackendConfig() lock.BackendConfig {
	return lock.BackendConfig{
		Backend:        c.Backend,
		Owner:          c.OwnerID,
		LeaseTTL:       c.LeaseTTL,
		RequestTimeout: c.RequestTimeout,
		RedisURL:       c.RedisURL,
		PostgresDSN:    c.PostgresDSN,
		PostgresTable:  c.PostgresTable,
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDurationOrDefault returns the environment variable value as a duration or the default if not set or invalid.
// Bare integers are read as seconds.
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable value as bool or the default if not set or invalid.
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
