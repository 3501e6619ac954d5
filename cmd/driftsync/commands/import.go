package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/pkg/client"
	"github.com/driftsync/driftsync/pkg/client/state"
)

var importNow bool

var importCmd = &cobra.Command{
	Use:   "import <path>...",
	Short: "Copy files into the sync directory",
	Long: `Copy one or more external files into the sync directory.

A running 'driftsync start' picks imports up automatically; --now pushes
them to the server immediately instead (requires the background sync to
be stopped, since it holds the local state database).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importNow, "now", false, "Upload immediately instead of waiting for the watcher")
	importCmd.Flags().StringVar(&startStateDir, "state-dir", "", "Path to the local state database")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := requireLogin()
	if err != nil {
		return err
	}

	if !importNow {
		// Plain copy; the watcher of a running client does the rest.
		for _, src := range args {
			data, err := os.ReadFile(src)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", src, err)
			}
			dst := filepath.Join(cfg.SyncPath, filepath.Base(src))
			if err := os.WriteFile(dst, data, 0644); err != nil {
				return fmt.Errorf("failed to import %s: %w", src, err)
			}
			fmt.Printf("Imported %s\n", filepath.Base(src))
		}
		return nil
	}

	stateDir := startStateDir
	if stateDir == "" {
		stateDir = client.DefaultStatePath()
	}
	st, err := state.Open(stateDir)
	if err != nil {
		return fmt.Errorf("failed to open local state (stop 'driftsync start' first): %w", err)
	}
	defer st.Close()

	syncer, err := client.NewSyncer(cfg, newAPI(cfg), st)
	if err != nil {
		return err
	}

	for _, src := range args {
		rel, err := syncer.Import(src)
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", src, err)
		}
		if err := syncer.SyncNow(cmd.Context(), rel); err != nil {
			return fmt.Errorf("failed to sync %s: %w", rel, err)
		}
		fmt.Printf("Imported and synced %s\n", rel)
	}
	return nil
}
