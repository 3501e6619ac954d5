// Package client implements the DriftSync sync client: local configuration,
// filesystem watching, the upload queue, the HTTP and WebSocket transports,
// and interactive conflict resolution.
package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the client's configuration, persisted as a Java-style
// properties file so it stays editable by hand.
type Config struct {
	// ServerURL is the base URL of the server API, including the /api prefix.
	ServerURL string

	// SyncPath is the local directory mirrored with the server.
	SyncPath string

	// ClientID identifies this client in version vectors. Derived from the
	// username at login unless DeviceUnique forces a random per-device id.
	ClientID string

	// Username of the logged-in account, empty when logged out.
	Username string

	// Token is the current JWT access token.
	Token string

	// RefreshToken is the long-lived refresh token.
	RefreshToken string

	// SyncIntervalSeconds is the period of the reconciliation walk.
	SyncIntervalSeconds int

	// DeviceUnique keeps a random client id instead of the
	// username-derived one, so two devices on one account sync as
	// distinct replicas.
	DeviceUnique bool
}

const (
	defaultServerURL    = "http://localhost:8080/api"
	defaultSyncPath     = "./sync"
	defaultSyncInterval = 10
)

// DefaultConfigPath returns the default location of client.properties.
func DefaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "driftsync", "client.properties")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "client.properties")
	}
	return filepath.Join(home, ".config", "driftsync", "client.properties")
}

// DefaultStatePath returns the default directory for the local state database.
func DefaultStatePath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "driftsync", "client-state")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "client-state")
	}
	return filepath.Join(home, ".local", "state", "driftsync", "client-state")
}

// LoadConfig reads client.properties from path. A missing file yields the
// defaults with a fresh random client id, so first run works without setup.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("properties")
	v.SetConfigFile(path)

	v.SetDefault("server.url", defaultServerURL)
	v.SetDefault("sync.path", defaultSyncPath)
	v.SetDefault("sync.interval", defaultSyncInterval)
	v.SetDefault("client.device_unique", false)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{
		ServerURL:           strings.TrimRight(v.GetString("server.url"), "/"),
		SyncPath:            v.GetString("sync.path"),
		ClientID:            v.GetString("client.id"),
		Username:            v.GetString("user.username"),
		Token:               v.GetString("auth.token"),
		RefreshToken:        v.GetString("auth.refresh_token"),
		SyncIntervalSeconds: v.GetInt("sync.interval"),
		DeviceUnique:        v.GetBool("client.device_unique"),
	}
	if cfg.SyncIntervalSeconds <= 0 {
		cfg.SyncIntervalSeconds = defaultSyncInterval
	}
	if cfg.ClientID == "" {
		cfg.ClientID = RandomClientID()
	}
	return cfg, nil
}

// SaveConfig writes the configuration back as a properties file. Tokens are
// stored in it, so the file is created with 0600.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# DriftSync client configuration\n")
	writeProp(&sb, "server.url", cfg.ServerURL)
	writeProp(&sb, "sync.path", cfg.SyncPath)
	writeProp(&sb, "client.id", cfg.ClientID)
	writeProp(&sb, "user.username", cfg.Username)
	writeProp(&sb, "auth.token", cfg.Token)
	writeProp(&sb, "auth.refresh_token", cfg.RefreshToken)
	writeProp(&sb, "sync.interval", fmt.Sprintf("%d", cfg.SyncIntervalSeconds))
	if cfg.DeviceUnique {
		writeProp(&sb, "client.device_unique", "true")
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func writeProp(sb *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	sb.WriteString(key)
	sb.WriteString("=")
	sb.WriteString(value)
	sb.WriteString("\n")
}

// ApplyLogin records a successful login: username, tokens, and the client
// id that goes with the account.
func (c *Config) ApplyLogin(username, token, refreshToken string) {
	c.Username = username
	c.Token = token
	c.RefreshToken = refreshToken
	if !c.DeviceUnique {
		c.ClientID = DeriveClientID(username)
	}
}

// ClearLogin drops credentials but keeps the client id so local state
// remains attributable after a re-login.
func (c *Config) ClearLogin() {
	c.Username = ""
	c.Token = ""
	c.RefreshToken = ""
}
