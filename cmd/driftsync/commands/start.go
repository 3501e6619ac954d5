package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/client"
	"github.com/driftsync/driftsync/pkg/client/state"
)

var startStateDir string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start syncing the local directory",
	Long: `Watch the sync directory and keep it in sync with the server.

Local changes upload as they happen; changes from other devices arrive
over the realtime connection. A periodic reconciliation walk catches
anything missed while offline. Runs until interrupted.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startStateDir, "state-dir", "", "Path to the local state database (default: $XDG_STATE_HOME/driftsync/client-state)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := requireLogin()
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{Level: "INFO", Format: "text", Output: "stdout"}); err != nil {
		return err
	}

	stateDir := startStateDir
	if stateDir == "" {
		stateDir = client.DefaultStatePath()
	}
	st, err := state.Open(stateDir)
	if err != nil {
		return fmt.Errorf("failed to open local state (is another driftsync running?): %w", err)
	}
	defer st.Close()

	syncer, err := client.NewSyncer(cfg, newAPI(cfg), st)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Syncing %s as %s. Press Ctrl+C to stop.\n", cfg.SyncPath, cfg.Username)

	if err := syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("Sync stopped")
	return nil
}
