package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/cli/prompt"
	"github.com/driftsync/driftsync/pkg/client"
	"github.com/driftsync/driftsync/pkg/client/state"
)

var resolveUse string

var resolveCmd = &cobra.Command{
	Use:   "resolve [path]",
	Short: "Resolve a sync conflict",
	Long: `Resolve a conflict by choosing which content wins.

With no arguments, lists pending conflicts. With a path, applies the
choice from --use, or asks interactively. "merged" writes both versions
into the file between conflict markers for hand-editing; text formats
only.

Examples:
  # List pending conflicts
  driftsync resolve

  # Keep the local version
  driftsync resolve docs/notes.txt --use local

  # Choose interactively
  driftsync resolve docs/notes.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveUse, "use", "", "Winning side: local, server, or merged")
	resolveCmd.Flags().StringVar(&startStateDir, "state-dir", "", "Path to the local state database")
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := requireLogin()
	if err != nil {
		return err
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

	pending, err := syncer.PendingConflicts()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		if len(pending) == 0 {
			fmt.Println("No pending conflicts")
			return nil
		}
		fmt.Println("Pending conflicts:")
		for _, p := range pending {
			fmt.Printf("  %s\n", p)
		}
		fmt.Println("\nResolve with: driftsync resolve <path> --use local|server|merged")
		return nil
	}

	path := args[0]
	// Content is only needed for the small-document sniff; a read
	// failure just means the extension list decides alone.
	content, _ := os.ReadFile(filepath.Join(cfg.SyncPath, filepath.FromSlash(path)))
	choice, err := pickChoice(path, content)
	if err != nil {
		return err
	}
	if choice == client.Cancelled {
		return nil
	}

	if err := syncer.ResolveConflict(cmd.Context(), path, choice); err != nil {
		return err
	}
	fmt.Printf("Resolved %s using %s version\n", path, resolveUse)
	return nil
}

func pickChoice(path string, content []byte) (client.Choice, error) {
	switch resolveUse {
	case "local":
		return client.UseLocal, nil
	case "server":
		return client.UseServer, nil
	case "merged":
		if !client.IsMergeableContent(path, content) {
			return client.Cancelled, fmt.Errorf("%s is not a text format; choose local or server", path)
		}
		return client.UseMerged, nil
	case "":
	default:
		return client.Cancelled, fmt.Errorf("invalid --use value %q (valid: local, server, merged)", resolveUse)
	}

	options := []string{"local", "server"}
	if client.IsMergeableContent(path, content) {
		options = append(options, "merged")
	}
	picked, err := prompt.SelectString(fmt.Sprintf("Which version of %s should win", path), options)
	if err != nil {
		if prompt.IsAborted(err) {
			return client.Cancelled, nil
		}
		return client.Cancelled, err
	}
	resolveUse = picked
	return pickChoice(path, content)
}
