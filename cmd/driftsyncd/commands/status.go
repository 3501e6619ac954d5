package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusPidFile string
	statusAPIPort int
	statusJSON    bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the current status of the DriftSync server.

This command checks the PID file and the readiness endpoint and reports
whether the server process is running and healthy.

Examples:
  # Check status (uses default settings)
  driftsyncd status

  # Check status with custom API port
  driftsyncd status --api-port 9080

  # Output as JSON
  driftsyncd status --json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/driftsync/driftsyncd.pid)")
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 8080, "API server port")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

// ServerStatus represents the server status information.
type ServerStatus struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	status := ServerStatus{Message: "Server is not running"}

	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	if pid, err := readPidFile(pidPath); err == nil {
		if process, err := os.FindProcess(pid); err == nil {
			if err := process.Signal(syscall.Signal(0)); err == nil {
				status.Running = true
				status.PID = pid
				status.Message = "Server is running"
			}
		}
	}

	if status.Running {
		status.Healthy = probeReadiness(statusAPIPort)
		if !status.Healthy {
			status.Message = "Server is running but not healthy"
		}
	}

	if statusJSON {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		fmt.Printf("Running: %v\n", status.Running)
		if status.PID != 0 {
			fmt.Printf("PID:     %d\n", status.PID)
		}
		fmt.Printf("Healthy: %v\n", status.Healthy)
		fmt.Printf("Status:  %s\n", status.Message)
	}

	if !status.Running {
		os.Exit(1)
	}
	return nil
}

// probeReadiness calls the readiness endpoint on localhost.
func probeReadiness(port int) bool {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/health/ready", port))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
