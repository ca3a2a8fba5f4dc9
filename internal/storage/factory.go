package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

type Config struct {
	Type string   `mapstructure:"type"`
	S3   S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Validate checks the backend settings and fills the default type.
func (c *Config) Validate() error {
	c.Type = strings.ToLower(c.Type)
	switch c.Type {
	case "", "local":
		c.Type = "local"
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket required")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("s3 region required")
		}
		if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
			return fmt.Errorf("s3 access_key_id and secret_access_key must be set together")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s", c.Type)
	}
	return nil
}

// New returns the sink for a run. Files always land in saveDir; the s3 backend adds a mirror.
func New(ctx context.Context, cfg Config, fs afero.Fs, saveDir string) (Sink, error) {
	local, err := NewLocalStorage(fs, saveDir)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "", "local":
		return local, nil
	case "s3":
		remote, err := NewS3Storage(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return MultiSink{local, remote}, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Type)
	}
}
