package commands

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/cli/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show client and server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		loggedIn := "no"
		if cfg.Username != "" {
			loggedIn = cfg.Username
		}

		reachable := "unreachable"
		if pingServer(cfg.ServerURL) {
			reachable = "ok"
		}

		output.KeyValueTable(os.Stdout, [][2]string{
			{"Server", cfg.ServerURL},
			{"Server health", reachable},
			{"Logged in as", loggedIn},
			{"Client ID", cfg.ClientID},
			{"Sync directory", cfg.SyncPath},
			{"Sync interval", fmt.Sprintf("%ds", cfg.SyncIntervalSeconds)},
		})
		return nil
	},
}

// pingServer probes the health endpoint, which lives above the /api prefix.
func pingServer(apiURL string) bool {
	base := strings.TrimSuffix(apiURL, "/api")
	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Get(base + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
