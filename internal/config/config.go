// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.querylane/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Server: HTTP listen address, CORS, rate limiting
//   - Storage: PostgreSQL connection for query execution (see storage.go)
//   - Data: on-disk locations for conversation snapshots, result files,
//     charts, the golden query database and the learning pattern file
//   - Tracing: optional OTLP trace export
//
// Security: sensitive values (the PostgreSQL password) are masked in
// MarshalJSON and String. Validation is fail-fast in validation.go.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidServerPort indicates the HTTP port is out of range.
	ErrInvalidServerPort = errors.New("invalid server port")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidMaxTurns indicates the conversation turn bound is out of range.
	ErrInvalidMaxTurns = errors.New("invalid max turns")

	// ErrInvalidRateLimit indicates the rate limit settings are out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidDataDir indicates the data directory is empty.
	ErrInvalidDataDir = errors.New("invalid data directory")
)

// Default bounds for conversation history.
const (
	// DefaultMaxTurns is the per-scope conversation turn bound.
	DefaultMaxTurns = 50

	// MaxAllowedTurns is the absolute maximum to prevent unbounded memory use.
	MaxAllowedTurns = 10000
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// HTTP server configuration
	ServerHost  string   `mapstructure:"server_host" json:"server_host"`
	ServerPort  int      `mapstructure:"server_port" json:"server_port"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (set true behind reverse proxy)

	// Per-IP rate limiting
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`

	// Query execution backend (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// On-disk data locations. Relative paths inside DataDir are derived,
	// see the accessor methods below.
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	// Conversation history bound (per scope)
	MaxTurns int `mapstructure:"max_turns" json:"max_turns"`

	// ResultFreshnessWindow is the age window in seconds within which a
	// result file counts as produced by the current request.
	ResultFreshnessWindow int `mapstructure:"result_freshness_window" json:"result_freshness_window"`

	// Tracing configuration (optional OTLP export)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// TracingConfig configures the optional OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	AgentHost   string `mapstructure:"agent_host" json:"agent_host"` // OTLP HTTP endpoint host:port
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".querylane")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults(configDir)
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL takes precedence over individual PostgreSQL fields
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(configDir string) {
	viper.SetDefault("server_host", "0.0.0.0")
	viper.SetDefault("server_port", 8084)
	viper.SetDefault("cors_origins", []string{"*"})
	viper.SetDefault("trust_proxy", false)

	viper.SetDefault("rate_limit_rps", 10.0)
	viper.SetDefault("rate_limit_burst", 20)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "querylane")
	viper.SetDefault("postgres_password", "querylane_dev_password")
	viper.SetDefault("postgres_db_name", "querylane")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("data_dir", filepath.Join(configDir, "data"))
	viper.SetDefault("max_turns", DefaultMaxTurns)
	viper.SetDefault("result_freshness_window", 30)

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.agent_host", "localhost:4318")
	viper.SetDefault("tracing.service_name", "querylane")
	viper.SetDefault("tracing.environment", "dev")
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a bug in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("server_host", "QUERYLANE_HOST")
	mustBind("server_port", "QUERYLANE_PORT")
	mustBind("cors_origins", "QUERYLANE_CORS_ORIGINS")
	mustBind("trust_proxy", "QUERYLANE_TRUST_PROXY")
	mustBind("data_dir", "QUERYLANE_DATA_DIR")

	mustBind("postgres_password", "QUERYLANE_POSTGRES_PASSWORD")

	mustBind("tracing.enabled", "QUERYLANE_TRACING_ENABLED")
	mustBind("tracing.agent_host", "QUERYLANE_TRACING_AGENT_HOST")

	// NOTE: DATABASE_URL is read directly in parseDatabaseURL, not via Viper,
	// so a single URL can override the whole PostgreSQL block atomically.
}

// Derived data locations. All live under DataDir so one directory holds
// the service's entire mutable state.

// SnapshotPath is the conversation store snapshot file.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "conversations.json")
}

// ResultsDir holds materialized query result files.
func (c *Config) ResultsDir() string {
	return filepath.Join(c.DataDir, "results")
}

// ChartsDir holds persisted chart payloads and renderings.
func (c *Config) ChartsDir() string {
	return filepath.Join(c.DataDir, "charts")
}

// GoldenDBPath is the SQLite database backing the golden query store.
func (c *Config) GoldenDBPath() string {
	return filepath.Join(c.DataDir, "golden.db")
}

// LearningPath is the learning pattern file.
func (c *Config) LearningPath() string {
	return filepath.Join(c.DataDir, "learning.json")
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid substring matching against real secret characters.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked; longer secrets keep the
// first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
