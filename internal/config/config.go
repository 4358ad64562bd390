// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the server
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Auth      AuthConfig
	RPC       RPCConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Proxy     ProxyConfig
	Metrics   MetricsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ReadTimeout    int // seconds
	WriteTimeout   int // seconds
	IdleTimeout    int // seconds
	RequestTimeout int // seconds
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string // "sqlite" or "postgres"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	Type string // "none" or "api-key"
}

// RPCConfig holds settings for bytecode fetching
type RPCConfig struct {
	DefaultURL     string
	TimeoutSeconds int
}

// Timeout returns the per-request RPC timeout.
func (c RPCConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	CleanupMinutes int
	// RPCCost is the token cost of requests that may fetch bytecode over RPC
	RPCCost int
}

// SecurityConfig holds request size limits
type SecurityConfig struct {
	MaxBodySizeMB int
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool
	TrustedProxies []string // CIDR notation
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			Host:           getEnv("HOST", "0.0.0.0"),
			ReadTimeout:    getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:    getEnvInt("SERVER_IDLE_TIMEOUT", 120),
			RequestTimeout: getEnvInt("SERVER_REQUEST_TIMEOUT", 30),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/whichdex.db"),
			},
		},
		Auth: AuthConfig{
			Type: getEnv("AUTH_TYPE", "none"),
		},
		RPC: RPCConfig{
			DefaultURL:     getEnv("DEFAULT_RPC_URL", ""),
			TimeoutSeconds: getEnvInt("RPC_TIMEOUT_SECONDS", 15),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: getEnvInt("RATE_LIMIT_RPM", 120),
			BurstSize:      getEnvInt("RATE_LIMIT_BURST", 20),
			CleanupMinutes: getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
			RPCCost:        getEnvInt("RATE_LIMIT_RPC_COST", 2),
		},
		Security: SecurityConfig{
			MaxBodySizeMB: getEnvInt("MAX_BODY_SIZE_MB", 2),
		},
		Proxy: ProxyConfig{
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
			TrustedProxies: getEnvStringSlice("TRUSTED_PROXIES", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate reports every invalid setting at once.
func (c *Config) validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		fail("PORT %d is out of range", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		fail("SERVER_REQUEST_TIMEOUT must be positive")
	}

	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			fail("SQLITE_PATH must not be empty")
		}
	case "postgres":
		if c.Storage.Postgres.URL == "" {
			fail("STORAGE_TYPE=postgres requires DATABASE_URL")
		}
	default:
		fail("unknown STORAGE_TYPE %q", c.Storage.Type)
	}

	switch c.Auth.Type {
	case "none", "api-key":
	default:
		fail("unknown AUTH_TYPE %q", c.Auth.Type)
	}

	if c.RPC.TimeoutSeconds <= 0 {
		fail("RPC_TIMEOUT_SECONDS must be positive")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		fail("unknown LOG_FORMAT %q", c.Logging.Format)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMin <= 0 || c.RateLimit.BurstSize <= 0 {
			fail("RATE_LIMIT_RPM and RATE_LIMIT_BURST must be positive")
		}
		if c.RateLimit.RPCCost < 1 || c.RateLimit.RPCCost > c.RateLimit.BurstSize {
			fail("RATE_LIMIT_RPC_COST must be between 1 and RATE_LIMIT_BURST")
		}
	}

	if c.Security.MaxBodySizeMB <= 0 {
		fail("MAX_BODY_SIZE_MB must be positive")
	}

	for _, entry := range c.Proxy.TrustedProxies {
		if _, err := netip.ParsePrefix(entry); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			fail("TRUSTED_PROXIES entry %q is not an address or CIDR", entry)
		}
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
