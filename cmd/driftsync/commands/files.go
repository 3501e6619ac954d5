package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/bytesize"
	"github.com/driftsync/driftsync/internal/cli/output"
	"github.com/driftsync/driftsync/internal/cli/timeutil"
)

var filesOutput string

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List files known to the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireLogin()
		if err != nil {
			return err
		}

		format, err := output.ParseFormat(filesOutput)
		if err != nil {
			return err
		}

		files, err := newAPI(cfg).ListFiles(cmd.Context())
		if err != nil {
			return err
		}

		printer := output.NewPrinter(os.Stdout, format, true)
		return printer.Print(files, func(w io.Writer) {
			if len(files) == 0 {
				fmt.Fprintln(w, "No files synced yet")
				return
			}
			rows := make([][]string, 0, len(files))
			for _, f := range files {
				rows = append(rows, []string{
					f.FilePath,
					bytesize.ByteSize(f.FileSize).String(),
					f.SyncStatus,
					f.ConflictStatus,
					timeutil.FormatAge(f.ModifiedAt),
				})
			}
			output.PrintTable(w, []string{"Path", "Size", "Status", "Conflict", "Modified"}, rows)
		})
	},
}

func init() {
	filesCmd.Flags().StringVarP(&filesOutput, "output", "o", "table", "Output format: table, json, yaml")
}
