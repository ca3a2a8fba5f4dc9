package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresmejia3/vidface/internal/config"
	"github.com/andresmejia3/vidface/internal/logger"
	"github.com/andresmejia3/vidface/internal/metrics"
	"github.com/andresmejia3/vidface/internal/pipeline"
	"github.com/andresmejia3/vidface/internal/remote"
	"github.com/andresmejia3/vidface/internal/storage"
	"github.com/andresmejia3/vidface/internal/store"
	"github.com/andresmejia3/vidface/internal/tracing"
	"github.com/andresmejia3/vidface/internal/utils"
	"github.com/andresmejia3/vidface/internal/xerror"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Options holds the pipeline flags of the root command
type Options struct {
	Video2FramesURL string
	FaceURL         string
	VideoPath       string
	WidthMax        int
	HeightMax       int
	FPSMax          int
	SaveDir         string
	Timeout         time.Duration
	Progress        bool
}

var (
	// DB is the optional run index shared by subcommands
	DB *store.Store
	// Log is the process logger, built once the configuration is known
	Log = zap.NewNop()
	// Settings is the resolved configuration (flags > env > file > defaults)
	Settings *config.PipelineConfig

	opts    Options
	cfgFile string
	// appFs is where videos are read and outputs are written
	appFs = afero.NewOsFs()
	// newLogger builds Log once the configuration is resolved
	newLogger = logger.New
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "vidface",
	Short: "Send a video through frame extraction and face analysis and save the results",
	Long: `vidface posts a video to the video2frames service, saves every returned frame as
<save-dir>/<video>.<frame_idx>.jpg along with <video>.metadata.json, then posts each frame to
the face service and saves its answer next to the frame as .face-detection-recognition.pkl.`,
	Version:       Version, // This enables the --version flag
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader()
		if err := loader.BindFlags(cmd.Flags()); err != nil {
			return err
		}
		settings, err := loader.Read(cfgFile)
		if err != nil {
			return err
		}

		l, err := newLogger(settings.Log.Level, settings.Log.Format)
		if err != nil {
			return err
		}
		Log = l
		Settings = settings
		if f := loader.ConfigFileUsed(); f != "" {
			Log.Debug("Config file loaded", zap.String("file", f))
		}

		// The run index is optional: connect only when a database was asked for
		url := resolveDBURL(settings.DB)
		if url == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context(), Settings)
	},
}

// resolveDBURL prefers the explicit setting and falls back to the POSTGRES_* environment.
// It returns "" when neither is present.
func resolveDBURL(explicit string) string {
	if explicit != "" {
		return explicit
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

func runPipeline(ctx context.Context, cfg *config.PipelineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Tracing is optional and never blocks a run
	tp, err := tracing.InitTracer(ctx, cfg.Tracing.Endpoint)
	if err != nil {
		Log.Warn("Tracing init failed, continuing without tracing", zap.Error(err))
	} else if tp != nil {
		defer tp.Shutdown(context.Background())
	}

	sink, err := storage.New(ctx, cfg.Storage, appFs, cfg.SaveDir)
	if err != nil {
		return xerror.New(xerror.FileAccess, "prepare save dir "+cfg.SaveDir, err)
	}

	client := remote.NewClient(cfg.Video2FramesURL, cfg.FaceURL, cfg.Timeout, Log)

	var runOpts []pipeline.Option
	if DB != nil {
		runOpts = append(runOpts, pipeline.WithRecorder(DB))
	}
	if cfg.Progress {
		runOpts = append(runOpts, pipeline.WithProgress(newProgressBar))
	}

	runner := pipeline.NewRunner(cfg, client, sink, appFs, Log, runOpts...)
	runErr := runner.Run(ctx)

	if cfg.Metrics.Pushgateway != "" {
		if err := metrics.Push(context.Background(), cfg.Metrics.Pushgateway, runner.RunID().String()); err != nil {
			Log.Warn("Failed to push metrics", zap.String("pushgateway", cfg.Metrics.Pushgateway), zap.Error(err))
		}
	}
	return runErr
}

func newProgressBar(total int) pipeline.Progress {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🎞️  vidface frames"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := executeRoot(ctx); err != nil {
		stop()
		utils.Die("vidface failed", err)
	}
}

// executeRoot runs the command tree and releases the DB and logger whether or not it failed.
// Die exits the process, so this is the last chance to close them.
func executeRoot(ctx context.Context) error {
	defer shutdown()
	return rootCmd.ExecuteContext(ctx)
}

func shutdown() {
	if DB != nil {
		// Use Background here because the main context might be cancelled already (due to Ctrl+C)
		// and we still need to send the "Close" command to the DB.
		DB.Close(context.Background())
		DB = nil
	}
	Log.Sync()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (keys match the long flag names, e.g. save_dir, log.level)")
	rootCmd.PersistentFlags().String("db", "", "PostgreSQL connection string for the run index (default: POSTGRES_* env, or no index)")
	rootCmd.PersistentFlags().String("log-level", "debug", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", logger.FormatConsole, "Log format: console or json")

	f := rootCmd.Flags()
	f.StringVar(&opts.Video2FramesURL, "url-video2frames", config.DefaultVideo2FramesURL, "URL of the video2frames service")
	f.StringVar(&opts.FaceURL, "url-face", config.DefaultFaceURL, "URL of the face detection/recognition service")
	f.StringVar(&opts.VideoPath, "video-path", "", "Path to the input video (required)")
	f.IntVar(&opts.WidthMax, "width-max", config.DefaultWidthMax, "Maximum frame width")
	f.IntVar(&opts.HeightMax, "height-max", config.DefaultHeightMax, "Maximum frame height")
	f.IntVar(&opts.FPSMax, "fps-max", config.DefaultFPSMax, "Maximum frames per second to extract")
	f.StringVar(&opts.SaveDir, "save-dir", config.DefaultSaveDir, "Directory for frames, metadata and face results")
	f.DurationVar(&opts.Timeout, "timeout", 0, "Per request timeout (0 waits forever)")
	f.BoolVar(&opts.Progress, "progress", true, "Show a progress bar over frames")

	f.String("storage", "local", "Output backend: local, or s3 to also mirror every file to S3")
	f.String("s3-bucket", "", "S3 bucket for the mirror")
	f.String("s3-prefix", "", "Key prefix inside the S3 bucket")
	f.String("s3-region", "", "S3 region")
	f.String("s3-endpoint", "", "Custom S3 endpoint (MinIO, LocalStack)")
	f.String("tracing-endpoint", "", "OTLP/HTTP endpoint for traces (empty disables tracing)")
	f.String("metrics-pushgateway", "", "Prometheus Pushgateway URL to push run metrics to")
}
