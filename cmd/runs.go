package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/andresmejia3/vidface/internal/store"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent pipeline runs from the run index",
	RunE: func(cmd *cobra.Command, args []string) error {
		if DB == nil {
			return fmt.Errorf("no run index configured (set --db or the POSTGRES_* environment)")
		}
		runs, err := DB.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		printRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs to show")
	rootCmd.AddCommand(runsCmd)
}

func printRuns(out io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tVIDEO\tSTATUS\tFRAMES\tSTARTED\tERROR")
	fmt.Fprintln(w, "------\t-----\t------\t------\t-------\t-----")

	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.VideoPath, r.Status, r.FrameCount, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Error)
	}
	w.Flush()
}
