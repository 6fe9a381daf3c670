// Package config provides configuration management for the application.
//
// Values are resolved in three layers: built-in defaults, then an optional
// YAML file (with ${VAR} and ${VAR:-default} expansion), then environment
// variables. A .env file in the working directory is loaded first so its
// values behave like real environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Matrix  MatrixConfig  `yaml:"matrix"`
	Plugin  PluginConfig  `yaml:"plugin"`
	Cache   CacheConfig   `yaml:"cache"`
	Store   StoreConfig   `yaml:"store"`
	Storage StorageConfig `yaml:"storage"`
	HTTP    HTTPConfig    `yaml:"http"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LogConfig     `yaml:"logging"`
}

// MatrixConfig holds the chat server credentials
type MatrixConfig struct {
	Homeserver    string `yaml:"homeserver"`
	UserID        string `yaml:"user_id"`
	AccessToken   string `yaml:"access_token"`
	CommandPrefix string `yaml:"command_prefix"`
	AutoJoin      bool   `yaml:"auto_join"`
}

// PluginConfig points at the plugin config file (command, url, reuploaded_cats)
type PluginConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig tunes the in-memory tier
type CacheConfig struct {
	// Serial uses one cache-wide lock for uploads instead of per-status single-flight.
	Serial bool `yaml:"serial"`
	// Warm loads every durable entry into memory at startup.
	Warm bool `yaml:"warm"`
}

// StoreConfig selects the durable tier backend
type StoreConfig struct {
	// Type is one of: config, memory, redis, sqlite, postgresql, mongodb
	Type  string      `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the durable tier
type RedisConfig struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

// StorageConfig holds database settings for the sqlite/postgresql/mongodb stores
type StorageConfig struct {
	SQLite     SQLiteStorageConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLStorageConfig `yaml:"postgresql"`
	MongoDB    MongoDBStorageConfig    `yaml:"mongodb"`
}

// SQLiteStorageConfig holds SQLite settings
type SQLiteStorageConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLStorageConfig holds PostgreSQL settings
type PostgreSQLStorageConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBStorageConfig holds MongoDB settings
type MongoDBStorageConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// HTTPConfig holds outbound HTTP client settings. Timeouts are in seconds.
type HTTPConfig struct {
	Timeout               int   `yaml:"timeout"`
	ResponseHeaderTimeout int   `yaml:"response_header_timeout"`
	MaxBodySize           int64 `yaml:"max_body_size"`
}

// ServerConfig holds the optional admin HTTP server configuration
type ServerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      string `yaml:"port"`
	MasterKey string `yaml:"master_key"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LogConfig holds log output settings
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
	// Format is one of auto, pretty, json
	Format string `yaml:"format"`
}

// DefaultConfigPaths are searched when CONFIG_FILE is not set.
var DefaultConfigPaths = []string{"config/config.yaml", "config.yaml"}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Matrix: MatrixConfig{
			CommandPrefix: "!",
			AutoJoin:      true,
		},
		Plugin: PluginConfig{
			Path: "data/httpcat.yaml",
		},
		Store: StoreConfig{
			Type: "config",
		},
		Storage: StorageConfig{
			SQLite:     SQLiteStorageConfig{Path: "data/httpcat.db"},
			PostgreSQL: PostgreSQLStorageConfig{MaxConns: 4},
			MongoDB:    MongoDBStorageConfig{Database: "httpcat"},
		},
		HTTP: HTTPConfig{
			Timeout:               60,
			ResponseHeaderTimeout: 30,
			MaxBodySize:           20 * 1024 * 1024,
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads .env, the config file named by CONFIG_FILE (or the first of
// DefaultConfigPaths that exists) and environment overrides.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		for _, candidate := range DefaultConfigPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	// .env is optional; real environment variables take precedence over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		expanded := expandString(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "config", "memory", "redis", "sqlite", "postgresql", "mongodb":
	default:
		return fmt.Errorf("invalid store.type %q (valid: config, memory, redis, sqlite, postgresql, mongodb)", c.Store.Type)
	}
	if c.Store.Type == "redis" && c.Store.Redis.URL == "" {
		return fmt.Errorf("store.redis.url is required when store.type is redis")
	}
	if c.Store.Type == "postgresql" && c.Storage.PostgreSQL.URL == "" {
		return fmt.Errorf("storage.postgresql.url is required when store.type is postgresql")
	}
	if c.Store.Type == "mongodb" && c.Storage.MongoDB.URL == "" {
		return fmt.Errorf("storage.mongodb.url is required when store.type is mongodb")
	}
	if c.Matrix.CommandPrefix == "" {
		return fmt.Errorf("matrix.command_prefix must not be empty")
	}
	if c.HTTP.Timeout < 0 || c.HTTP.ResponseHeaderTimeout < 0 {
		return fmt.Errorf("http timeouts must not be negative")
	}
	if c.HTTP.MaxBodySize < 0 {
		return fmt.Errorf("http.max_body_size must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "auto", "pretty", "json":
	default:
		return fmt.Errorf("invalid logging.format %q (valid: auto, pretty, json)", c.Logging.Format)
	}
	return nil
}

// ValidateMatrix checks the credentials needed to connect to the chat server.
// It is separate from Validate so the admin server can run without them.
func (c *Config) ValidateMatrix() error {
	var missing []string
	if c.Matrix.Homeserver == "" {
		missing = append(missing, "MATRIX_HOMESERVER")
	}
	if c.Matrix.UserID == "" {
		missing = append(missing, "MATRIX_USER_ID")
	}
	if c.Matrix.AccessToken == "" {
		missing = append(missing, "MATRIX_ACCESS_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing matrix credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. Unset variables without
// a default expand to the empty string.
func expandString(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(parts[1]); ok && val != "" {
			return val
		}
		return parts[3]
	})
}

// applyEnvOverrides applies environment variables on top of file values.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Matrix.Homeserver, "MATRIX_HOMESERVER")
	setString(&cfg.Matrix.UserID, "MATRIX_USER_ID")
	setString(&cfg.Matrix.AccessToken, "MATRIX_ACCESS_TOKEN")
	setString(&cfg.Matrix.CommandPrefix, "MATRIX_COMMAND_PREFIX")
	setBool(&cfg.Matrix.AutoJoin, "MATRIX_AUTO_JOIN")

	setString(&cfg.Plugin.Path, "HTTPCAT_PLUGIN_CONFIG")

	setBool(&cfg.Cache.Serial, "CACHE_SERIAL")
	setBool(&cfg.Cache.Warm, "CACHE_WARM")

	setString(&cfg.Store.Type, "STORE_TYPE")
	setString(&cfg.Store.Redis.URL, "REDIS_URL")
	setString(&cfg.Store.Redis.Key, "REDIS_KEY")

	setString(&cfg.Storage.SQLite.Path, "SQLITE_PATH")
	setString(&cfg.Storage.PostgreSQL.URL, "POSTGRES_URL")
	setInt(&cfg.Storage.PostgreSQL.MaxConns, "POSTGRES_MAX_CONNS")
	setString(&cfg.Storage.MongoDB.URL, "MONGODB_URL")
	setString(&cfg.Storage.MongoDB.Database, "MONGODB_DATABASE")

	setInt(&cfg.HTTP.Timeout, "HTTP_TIMEOUT")
	setInt(&cfg.HTTP.ResponseHeaderTimeout, "HTTP_RESPONSE_HEADER_TIMEOUT")
	setInt64(&cfg.HTTP.MaxBodySize, "HTTP_MAX_BODY_SIZE")

	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.MasterKey, "HTTPCAT_MASTER_KEY")

	setBool(&cfg.Metrics.Enabled, "METRICS_ENABLED")
	setString(&cfg.Metrics.Endpoint, "METRICS_ENDPOINT")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
