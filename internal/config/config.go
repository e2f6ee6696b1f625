// Package config provides centralized configuration management for the service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Registry RegistryConfig
	Ingest   IngestConfig
	Watch    WatchConfig
	Rate     RateLimitConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 120s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"120s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 120s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"120s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. When empty the service runs
	// against the in-memory store, which is intended for development only.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// RegistryConfig holds clinical registry client settings.
type RegistryConfig struct {
	// BaseURL is the registry REST endpoint (default: local OpenMRS instance)
	BaseURL string `env:"REGISTRY_BASE_URL" default:"http://localhost:8090/openmrs"`

	// Username authenticates registry requests (default: admin)
	Username string `env:"REGISTRY_USERNAME" default:"admin"`

	// Password authenticates registry requests
	Password string `env:"REGISTRY_PASSWORD" default:"Admin123"`

	// Timeout is the per-request timeout for registry calls (default: 30s)
	Timeout time.Duration `env:"REGISTRY_TIMEOUT" default:"30s"`
}

// IngestConfig holds file processing settings.
type IngestConfig struct {
	// ChunkSize is the number of records processed concurrently (default: 100)
	ChunkSize int `env:"INGEST_CHUNK_SIZE" default:"100"`

	// MaxFileSize is the maximum allowed upload size in bytes (default: 50MB)
	MaxFileSize int64 `env:"INGEST_MAX_FILE_SIZE" default:"52428800"`

	// StrictDates rejects records with unparseable diagnosis dates instead
	// of substituting the current time (default: false)
	StrictDates bool `env:"INGEST_STRICT_DATES" default:"false"`

	// SynonymsFile is an optional YAML file with extra system type and
	// severity synonym mappings merged over the built-in tables.
	SynonymsFile string `env:"INGEST_SYNONYMS_FILE"`
}

// WatchConfig holds intake directory watcher settings.
type WatchConfig struct {
	// Enabled turns the filesystem watcher on (default: false)
	Enabled bool `env:"WATCH_ENABLED" default:"false"`

	// Dir is the directory watched for incoming CSV files
	Dir string `env:"WATCH_DIR" default:"intake"`

	// ProcessedDir is where handled files are moved (default: intake/processed)
	ProcessedDir string `env:"WATCH_PROCESSED_DIR" default:"intake/processed"`

	// SettleDelay is how long to wait after a write event before reading
	// the file, letting slow copies finish (default: 2s)
	SettleDelay time.Duration `env:"WATCH_SETTLE_DELAY" default:"2s"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
