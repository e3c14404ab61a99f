package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for Oracle Server configuration
const (
	EnvOraclePort          = "ORACLE_PORT"
	EnvOracleDatabaseURL   = "ORACLE_DATABASE_URL"
	EnvOracleRPCEndpoints  = "ORACLE_RPC_ENDPOINTS"
	EnvOracleRPCCooldown   = "ORACLE_RPC_COOLDOWN"
	EnvOracleRPCRateLimit  = "ORACLE_RPC_RATE_LIMIT"
	EnvOracleRPCTimeout    = "ORACLE_RPC_TIMEOUT"
	EnvOracleCacheBackend  = "ORACLE_CACHE_BACKEND"
	EnvOracleCacheDir      = "ORACLE_CACHE_DIR"
	EnvOracleRedisAddress  = "ORACLE_REDIS_ADDRESS"
	EnvOracleRedisPassword = "ORACLE_REDIS_PASSWORD"
	EnvOracleRedisDB       = "ORACLE_REDIS_DB"
	EnvOracleVerbose       = "ORACLE_VERBOSE"
)

// Defaults applied when flags and environment leave a field unset
const (
	DefaultPort           = 8000
	DefaultRPCCooldown    = 30 * time.Second
	DefaultRPCTimeout     = 10 * time.Second
	DefaultReaderAttempts = 2
)

type CacheBackend string

func (b CacheBackend) String() string {
	return string(b)
}

const (
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendBadger CacheBackend = "badger"
	CacheBackendRedis  CacheBackend = "redis"
)

// ParseCacheBackend converts a string into a known CacheBackend.
func ParseCacheBackend(s string) (CacheBackend, error) {
	switch CacheBackend(strings.ToLower(strings.TrimSpace(s))) {
	case CacheBackendMemory:
		return CacheBackendMemory, nil
	case CacheBackendBadger:
		return CacheBackendBadger, nil
	case CacheBackendRedis:
		return CacheBackendRedis, nil
	default:
		return "", fmt.Errorf("unsupported cache backend: %s (supported: %s)", s, SupportedCacheBackendsString())
	}
}

// SupportedCacheBackendsString returns the backend names for CLI help
func SupportedCacheBackendsString() string {
	return fmt.Sprintf("%s, %s, %s", CacheBackendMemory, CacheBackendBadger, CacheBackendRedis)
}

// ParseEndpoints splits a comma-separated endpoint list, dropping empty entries
func ParseEndpoints(csv string) []string {
	parts := strings.Split(csv, ",")
	endpoints := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			endpoints = append(endpoints, trimmed)
		}
	}
	return endpoints
}

// EndpointPoolConfig configures the RPC endpoint pool
type EndpointPoolConfig struct {
	Endpoints         []string      `json:"endpoints"`
	Cooldown          time.Duration `json:"cooldown"`            // flat cooldown window per infrastructure failure
	RequestsPerSecond float64       `json:"requests_per_second"` // 0 disables rate limiting
	RequestTimeout    time.Duration `json:"request_timeout"`
}

func (c *EndpointPoolConfig) Validate() error {
	var allErrors field.ErrorList
	if len(c.Endpoints) == 0 {
		allErrors = append(allErrors, field.Required(field.NewPath("endpoints"), "at least one RPC endpoint is required"))
	}
	for i, ep := range c.Endpoints {
		u, err := url.Parse(ep)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			allErrors = append(allErrors, field.Invalid(field.NewPath("endpoints").Index(i), ep, "must be an http(s) URL"))
		}
	}
	if c.Cooldown < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("cooldown"), c.Cooldown.String(), "must not be negative"))
	}
	if c.RequestsPerSecond < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("requestsPerSecond"), c.RequestsPerSecond, "must not be negative"))
	}
	if c.RequestTimeout < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("requestTimeout"), c.RequestTimeout.String(), "must not be negative"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// CacheConfig configures the sealed-snapshot cache backend
type CacheConfig struct {
	Backend       CacheBackend `json:"backend"`
	Dir           string       `json:"dir"` // badger data directory
	RedisAddress  string       `json:"redis_address"`
	RedisPassword string       `json:"redis_password"`
	RedisDB       int          `json:"redis_db"`
}

func (c *CacheConfig) Validate() error {
	var allErrors field.ErrorList
	switch c.Backend {
	case CacheBackendMemory:
	case CacheBackendBadger:
		if c.Dir == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("dir"), "badger backend requires a data directory"))
		}
	case CacheBackendRedis:
		if c.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redisAddress"), "redis backend requires an address"))
		}
		if c.RedisDB < 0 || c.RedisDB > 15 {
			allErrors = append(allErrors, field.Invalid(field.NewPath("redisDB"), c.RedisDB, "must be between 0 and 15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("backend"), c.Backend,
			[]string{string(CacheBackendMemory), string(CacheBackendBadger), string(CacheBackendRedis)}))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// OracleServerConfig represents the complete configuration for the oracle server
type OracleServerConfig struct {
	Port        int    `json:"port"`
	DatabaseURL string `json:"database_url"` // sealed-epoch store (postgres DSN)

	Pool  EndpointPoolConfig `json:"pool"`
	Cache CacheConfig        `json:"cache"`

	// Operational settings
	Debug   bool `json:"debug"`
	Verbose bool `json:"verbose"`
}

// Validate validates the oracle server configuration
func (c *OracleServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1-65535, got %d", c.Port)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database URL cannot be empty")
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("invalid pool config: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("invalid cache config: %w", err)
	}
	return nil
}
