package config

import (
	"path/filepath"
	"time"

	"github.com/driftsync/driftsync/internal/bytesize"
	"github.com/driftsync/driftsync/pkg/models"
)

// ApplyDefaults fills in default values for any missing configuration.
// Values already set are left untouched, so this is safe to call on a
// partially-populated config loaded from file or environment.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	cfg.Database.ApplyDefaults()
	cfg.API.ApplyDefaults()
	applyStorageDefaults(&cfg.Storage)
	applyUploadDefaults(&cfg.Upload)
	applyBusDefaults(&cfg.Bus)
	applyAuthDefaults(&cfg.Auth)
}

func applyLoggingDefaults(c *LoggingConfig) {
	if c.Level == "" {
		c.Level = "INFO"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
}

func applyTelemetryDefaults(c *TelemetryConfig) {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
		// A fresh config means no collector was configured; default to
		// insecure local development settings.
		c.Insecure = true
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.Profiling.Endpoint == "" {
		c.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(c.Profiling.ProfileTypes) == 0 {
		c.Profiling.ProfileTypes = []string{
			"cpu", "alloc_objects", "alloc_space",
			"inuse_objects", "inuse_space", "goroutines",
		}
	}
}

func applyStorageDefaults(c *StorageConfig) {
	if c.Backend == "" {
		c.Backend = StorageBackendFS
	}
	if c.BasePath == "" {
		c.BasePath = filepath.Join(getDataDir(), "blobs")
	}
	if c.StagingPath == "" {
		c.StagingPath = filepath.Join(getDataDir(), "staging")
	}
	if c.DefaultUserQuota == 0 {
		c.DefaultUserQuota = bytesize.ByteSize(models.DefaultStorageQuota)
	}
}

func applyUploadDefaults(c *UploadConfig) {
	if c.TTL == 0 {
		c.TTL = 24 * time.Hour
	}
	if c.Retention == 0 {
		c.Retention = 24 * time.Hour
	}
	if c.MaxSessionsPerUser == 0 {
		c.MaxSessionsPerUser = 10
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
}

func applyBusDefaults(c *BusConfig) {
	if c.Buffer == 0 {
		c.Buffer = 64
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 90 * time.Second
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 30 * time.Second
	}
}

func applyAuthDefaults(c *AuthConfig) {
	if c.Issuer == "" {
		c.Issuer = "driftsync"
	}
	if c.AccessTokenDuration == 0 {
		c.AccessTokenDuration = 15 * time.Minute
	}
	if c.RefreshTokenDuration == 0 {
		c.RefreshTokenDuration = 7 * 24 * time.Hour
	}
}

// GetDefaultConfig returns a configuration populated entirely with defaults.
// The JWT secret is deliberately left empty; the server refuses to start
// without one, and 'driftsyncd init' generates a random secret.
func GetDefaultConfig() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}
