// Package commands implements the driftsync client CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/pkg/client"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "driftsync",
	Short: "DriftSync file synchronization client",
	Long: `DriftSync keeps a local directory in sync with a DriftSync server.

Log in once, then run 'driftsync start' to watch the sync directory and
mirror changes in both directions. Conflicting edits are parked next to
the original file and resolved with 'driftsync resolve'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("driftsync %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to client.properties (default: $XDG_CONFIG_HOME/driftsync/client.properties)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(importCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// configPath resolves the config file location.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return client.DefaultConfigPath()
}

// loadConfig reads the client configuration.
func loadConfig() (*client.Config, error) {
	return client.LoadConfig(configPath())
}

// requireLogin loads the config and fails if no credentials are stored.
func requireLogin() (*client.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("not logged in; run 'driftsync login' first")
	}
	return cfg, nil
}

// newAPI builds an API client that persists rotated tokens back to the
// config file.
func newAPI(cfg *client.Config) *client.API {
	api := client.NewAPI(cfg.ServerURL, cfg.Token, cfg.RefreshToken)
	api.OnTokenRotation(func(access, refresh string) {
		cfg.Token = access
		cfg.RefreshToken = refresh
		_ = client.SaveConfig(cfg, configPath())
	})
	return api
}
