package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/driftsync/driftsync/internal/bytesize"
	"github.com/driftsync/driftsync/pkg/api"
	"github.com/driftsync/driftsync/pkg/bus"
	"github.com/driftsync/driftsync/pkg/store"
	"github.com/driftsync/driftsync/pkg/upload"
)

// Config represents the DriftSync server configuration.
//
// It captures the static aspects of the server:
//   - Logging configuration
//   - Telemetry/tracing configuration
//   - API server settings
//   - Database connection (sync metadata persistence)
//   - Blob storage backend (filesystem or S3)
//   - Chunked upload session policy
//   - Realtime event bus tuning
//   - JWT authentication settings
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DRIFTSYNC_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing and profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the sync metadata store (SQLite or PostgreSQL)
	Database store.Config `mapstructure:"database" yaml:"database"`

	// API contains REST API server configuration
	API api.Config `mapstructure:"api" yaml:"api"`

	// Storage configures the blob storage backend
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Upload configures chunked upload sessions
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Bus configures the realtime event bus
	Bus BusConfig `mapstructure:"bus" yaml:"bus"`

	// Auth contains JWT authentication configuration
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// StorageBackend selects the blob storage implementation.
type StorageBackend string

const (
	// StorageBackendFS stores blobs on the local filesystem (default).
	StorageBackendFS StorageBackend = "fs"

	// StorageBackendS3 stores blobs in S3 or an S3-compatible service.
	StorageBackendS3 StorageBackend = "s3"
)

// StorageConfig configures the blob storage backend.
type StorageConfig struct {
	// Backend selects the blob store implementation: "fs" or "s3"
	// Default: "fs"
	Backend StorageBackend `mapstructure:"backend" validate:"omitempty,oneof=fs s3" yaml:"backend"`

	// BasePath is the root directory for filesystem blob storage
	// Default: $XDG_DATA_HOME/driftsync/blobs
	BasePath string `mapstructure:"base_path" yaml:"base_path"`

	// StagingPath is where in-flight chunked upload sessions buffer chunks
	// before assembly. Default: $XDG_DATA_HOME/driftsync/staging
	StagingPath string `mapstructure:"staging_path" yaml:"staging_path"`

	// S3 contains S3 backend settings, used when Backend is "s3"
	S3 S3Config `mapstructure:"s3" yaml:"s3"`

	// DefaultUserQuota is the storage quota assigned to new accounts.
	// Supports human-readable sizes: "10Gi", "500MB". Default: 10Gi
	DefaultUserQuota bytesize.ByteSize `mapstructure:"default_user_quota" yaml:"default_user_quota,omitempty"`
}

// S3Config contains S3 blob store settings.
type S3Config struct {
	// Bucket is the S3 bucket name (required when backend is "s3")
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Region is the AWS region (optional, uses SDK default if empty)
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// KeyPrefix is prepended to all blob keys (e.g., "driftsync/")
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// ForcePathStyle forces path-style addressing (required for MinIO/Localstack)
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// MetricsConfig configures Prometheus metrics collection.
// When Enabled is false, no metrics are collected (zero overhead) and the
// /metrics endpoint serves 404.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// UploadConfig configures chunked upload session policy.
type UploadConfig struct {
	// TTL is how long an IN_PROGRESS session may live before it expires
	// Default: 24h
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`

	// Retention is how long terminal sessions are kept before cleanup
	// Default: 24h
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`

	// MaxSessionsPerUser caps concurrent IN_PROGRESS sessions per user
	// Default: 10
	MaxSessionsPerUser int `mapstructure:"max_sessions_per_user" validate:"omitempty,min=1" yaml:"max_sessions_per_user"`

	// SweepInterval is how often the expiration sweeper runs
	// Default: 60s
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// ManagerConfig converts to the upload manager's own configuration type.
func (c UploadConfig) ManagerConfig() upload.Config {
	return upload.Config{
		TTL:                c.TTL,
		Retention:          c.Retention,
		MaxSessionsPerUser: c.MaxSessionsPerUser,
		SweepInterval:      c.SweepInterval,
	}
}

// BusConfig configures the realtime event bus.
type BusConfig struct {
	// Buffer is the per-subscriber event channel capacity
	// Default: 64
	Buffer int `mapstructure:"buffer" validate:"omitempty,min=1" yaml:"buffer"`

	// StaleAfter is how long a subscriber may go without a heartbeat
	// before the sweeper disconnects it. Default: 90s
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`

	// SweepInterval is how often the stale-subscriber sweeper runs
	// Default: 30s
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// BusSettings converts to the event bus's own configuration type.
func (c BusConfig) BusSettings() bus.Config {
	return bus.Config{
		Buffer:        c.Buffer,
		StaleAfter:    c.StaleAfter,
		SweepInterval: c.SweepInterval,
	}
}

// AuthConfig contains JWT authentication configuration.
type AuthConfig struct {
	// JWTSecret is the HMAC signing key. Must be at least 32 characters.
	// Override: DRIFTSYNC_AUTH_JWT_SECRET
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32" yaml:"jwt_secret,omitempty"`

	// Issuer is the token issuer claim
	// Default: "driftsync"
	Issuer string `mapstructure:"issuer" yaml:"issuer"`

	// AccessTokenDuration is the lifetime of access tokens
	// Default: 15m
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration" yaml:"access_token_duration"`

	// RefreshTokenDuration is the lifetime of refresh tokens
	// Default: 168h (7 days)
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" yaml:"refresh_token_duration"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DRIFTSYNC_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location under the XDG config dir.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  driftsyncd init\n\n"+
				"Or specify a custom config file:\n"+
				"  driftsyncd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  driftsyncd init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may contain the JWT secret.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the DRIFTSYNC_ prefix and underscores.
	// Example: DRIFTSYNC_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DRIFTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize,
// so config files can use human-readable sizes like "10Gi" or "500MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration, so config files
// can use human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "driftsync")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "driftsync")
}

// getDataDir returns the data directory path for blobs and staging.
// Uses XDG_DATA_HOME if set, otherwise ~/.local/share.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "driftsync")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".local", "share", "driftsync")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init).
func GetConfigDir() string {
	return getConfigDir()
}
