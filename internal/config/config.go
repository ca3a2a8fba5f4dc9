// Package config resolves the pipeline settings from flags, environment and an optional file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/vidface/internal/storage"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. VIDFACE_SAVE_DIR.
const EnvPrefix = "VIDFACE"

const (
	DefaultVideo2FramesURL = "http://127.0.0.1:10001/"
	DefaultFaceURL         = "http://127.0.0.1:10002/"
	DefaultWidthMax        = 1280
	DefaultHeightMax       = 720
	DefaultFPSMax          = 1
	DefaultSaveDir         = "./data/"
)

// PipelineConfig is everything a run needs. It is not modified after Validate returns.
type PipelineConfig struct {
	Video2FramesURL string        `mapstructure:"url_video2frames"`
	FaceURL         string        `mapstructure:"url_face"`
	VideoPath       string        `mapstructure:"video_path"`
	WidthMax        int           `mapstructure:"width_max"`
	HeightMax       int           `mapstructure:"height_max"`
	FPSMax          int           `mapstructure:"fps_max"`
	SaveDir         string        `mapstructure:"save_dir"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Progress        bool          `mapstructure:"progress"`
	DB              string        `mapstructure:"db"`

	Log     LogConfig      `mapstructure:"log"`
	Storage storage.Config `mapstructure:"storage"`
	Tracing TracingConfig  `mapstructure:"tracing"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type MetricsConfig struct {
	Pushgateway string `mapstructure:"pushgateway"`
}

// flagKeys maps command line flag names to their configuration keys.
var flagKeys = map[string]string{
	"url-video2frames":    "url_video2frames",
	"url-face":            "url_face",
	"video-path":          "video_path",
	"width-max":           "width_max",
	"height-max":          "height_max",
	"fps-max":             "fps_max",
	"save-dir":            "save_dir",
	"timeout":             "timeout",
	"progress":            "progress",
	"db":                  "db",
	"log-level":           "log.level",
	"log-format":          "log.format",
	"storage":             "storage.type",
	"s3-bucket":           "storage.s3.bucket",
	"s3-prefix":           "storage.s3.prefix",
	"s3-region":           "storage.s3.region",
	"s3-endpoint":         "storage.s3.endpoint",
	"tracing-endpoint":    "tracing.endpoint",
	"metrics-pushgateway": "metrics.pushgateway",
}

// Loader layers flag > env > file > default.
type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("url_video2frames", DefaultVideo2FramesURL)
	v.SetDefault("url_face", DefaultFaceURL)
	v.SetDefault("video_path", "")
	v.SetDefault("width_max", DefaultWidthMax)
	v.SetDefault("height_max", DefaultHeightMax)
	v.SetDefault("fps_max", DefaultFPSMax)
	v.SetDefault("save_dir", DefaultSaveDir)
	v.SetDefault("timeout", time.Duration(0))
	v.SetDefault("progress", true)
	v.SetDefault("db", "")
	v.SetDefault("log.level", "debug")
	v.SetDefault("log.format", "console")
	v.SetDefault("storage.type", "local")
	for _, k := range []string{"bucket", "prefix", "region", "endpoint", "access_key_id", "secret_access_key"} {
		v.SetDefault("storage.s3."+k, "")
	}
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("metrics.pushgateway", "")

	return &Loader{v: v}
}

// BindFlags attaches every known flag present in fs. Flags the set does not define are skipped.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Read resolves every layer without validating. Subcommands that never touch a video use it.
func (l *Loader) Read(configFile string) (*PipelineConfig, error) {
	if configFile != "" {
		l.v.SetConfigFile(configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	var cfg PipelineConfig
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the file Read loaded, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Validate checks a configuration for a pipeline run and fills empty values with defaults.
func (cfg *PipelineConfig) Validate() error {
	if cfg.VideoPath == "" {
		return fmt.Errorf("video_path is required")
	}
	if cfg.SaveDir == "" {
		cfg.SaveDir = DefaultSaveDir
	}
	if cfg.Video2FramesURL == "" {
		cfg.Video2FramesURL = DefaultVideo2FramesURL
	}
	if cfg.FaceURL == "" {
		cfg.FaceURL = DefaultFaceURL
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return cfg.Storage.Validate()
}
