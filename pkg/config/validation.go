package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks that the configuration is internally consistent.
// Struct-tag rules are enforced first, then cross-field rules the tags
// cannot express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("invalid value for %s (rule %q)", e.Namespace(), e.Tag())
		}
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if cfg.Storage.Backend == StorageBackendS3 && cfg.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage: s3 bucket is required when backend is %q", StorageBackendS3)
	}
	if cfg.Storage.Backend == StorageBackendFS && cfg.Storage.BasePath == "" {
		return fmt.Errorf("storage: base_path is required when backend is %q", StorageBackendFS)
	}
	if cfg.Storage.StagingPath == "" {
		return fmt.Errorf("storage: staging_path is required")
	}

	if cfg.Upload.TTL <= 0 {
		return fmt.Errorf("upload: ttl must be positive")
	}
	if cfg.Bus.StaleAfter <= 0 {
		return fmt.Errorf("bus: stale_after must be positive")
	}

	if cfg.Auth.AccessTokenDuration >= cfg.Auth.RefreshTokenDuration {
		return fmt.Errorf("auth: access_token_duration must be shorter than refresh_token_duration")
	}

	return nil
}
