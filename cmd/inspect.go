package cmd

import (
	"fmt"

	"github.com/andresmejia3/vidface/internal/facefile"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	inspectRun   string
	inspectFrame int
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [<frame>.jpg" + facefile.Suffix + "]",
	Short: "Print the face analysis stored in a result file or in the run index",
	Long: `Print a face analysis result as indented JSON. Give a result file, or --run and --frame to
read the copy kept in the run index.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			rec facefile.Record
			err error
		)
		switch {
		case inspectRun != "" && len(args) > 0:
			return fmt.Errorf("give either a result file or --run, not both")
		case inspectRun != "":
			rec, err = loadIndexedResult(cmd, inspectRun, inspectFrame)
		case len(args) == 1:
			rec, err = loadResultFile(args[0])
		default:
			return fmt.Errorf("a result file or --run is required")
		}
		if err != nil {
			return err
		}

		out, err := rec.PrettyResult()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectRun, "run", "", "Run ID to read the result from (needs the run index)")
	inspectCmd.Flags().IntVar(&inspectFrame, "frame", 0, "Frame index within --run")
	rootCmd.AddCommand(inspectCmd)
}

func loadResultFile(path string) (facefile.Record, error) {
	f, err := appFs.Open(path)
	if err != nil {
		return facefile.Record{}, fmt.Errorf("failed to open face result file: %w", err)
	}
	defer f.Close()

	rec, err := facefile.Read(f)
	if err != nil {
		return facefile.Record{}, fmt.Errorf("%s: %w", path, err)
	}
	Log.Debug("Face result loaded",
		zap.String("file", path),
		zap.Int("frame_idx", rec.FrameIdx),
		zap.String("image", rec.Image),
	)
	return rec, nil
}

func loadIndexedResult(cmd *cobra.Command, run string, frameIdx int) (facefile.Record, error) {
	if DB == nil {
		return facefile.Record{}, fmt.Errorf("no run index configured (set --db or the POSTGRES_* environment)")
	}
	runID, err := uuid.Parse(run)
	if err != nil {
		return facefile.Record{}, fmt.Errorf("invalid run ID %q: %w", run, err)
	}

	raw, err := DB.FrameFaceResult(cmd.Context(), runID, frameIdx)
	if err != nil {
		return facefile.Record{}, err
	}
	Log.Debug("Face result loaded from run index", zap.String("run_id", run), zap.Int("frame_idx", frameIdx))
	return facefile.New(frameIdx, "", raw), nil
}
