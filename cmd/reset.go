package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/andresmejia3/vidface/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	resetDB    bool
	resetFiles bool
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset local state (run index, saved outputs)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = DB != nil
			resetFiles = true
		}

		reader := bufio.NewReader(cmd.InOrStdin())
		out := cmd.OutOrStdout()

		if resetDB {
			if DB == nil {
				return fmt.Errorf("no run index configured (set --db or the POSTGRES_* environment)")
			}
			if confirm(reader, out, "⚠️  Are you sure you want to DROP all run index tables?") {
				fmt.Fprintln(out, "🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					return fmt.Errorf("failed to reset database: %w", err)
				}
			}
		}

		if resetFiles {
			if confirm(reader, out, fmt.Sprintf("⚠️  Are you sure you want to delete everything under %s?", Settings.SaveDir)) {
				fmt.Fprintln(out, "🗑️  Clearing Output Files (Frames, Metadata, Face Results)...")
				if err := appFs.RemoveAll(Settings.SaveDir); err != nil {
					Log.Warn("Failed to remove save dir", zap.String("path", Settings.SaveDir), zap.Error(err))
				}
			}
		}

		fmt.Fprintln(out, "✨ Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "run-index", false, "Drop the PostgreSQL run index tables")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Delete the save directory")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	resetCmd.Flags().String("save-dir", config.DefaultSaveDir, "Directory to clear")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	if resetYes {
		return true
	}
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
