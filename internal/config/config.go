package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "LISTMAT"

type Config struct {
	DBDSN           string        `envconfig:"DB"`
	SQLitePath      string        `envconfig:"SQLITE_PATH" default:"./listmat.sqlite"`
	ContentDSN      string        `envconfig:"CONTENT_DB"`
	EntitiesDir     string        `envconfig:"ENTITIES_DIR" default:"./entities"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	BindAddr        string        `envconfig:"BIND_ADDR" default:":8080"`
	Workers         int           `envconfig:"WORKERS" default:"4"`
	QueueSize       int           `envconfig:"QUEUE_SIZE" default:"64"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	Refresh RefreshConfig `envconfig:"REFRESH"`
	Export  ExportConfig  `envconfig:"EXPORT"`
	Blob    BlobConfig    `envconfig:"BLOB"`
}

type RefreshConfig struct {
	BatchSize       int   `envconfig:"BATCH_SIZE" default:"10000"`
	MaxListSize     int64 `envconfig:"MAX_LIST_SIZE" default:"1000000"`
	CancelPollEvery int   `envconfig:"CANCEL_POLL_EVERY" default:"10"`
}

type ExportConfig struct {
	PageSize        int           `envconfig:"PAGE_SIZE" default:"100000"`
	RotateBytes     int64         `envconfig:"ROTATE_BYTES" default:"5242880"`
	CancelPollEvery int           `envconfig:"CANCEL_POLL_EVERY" default:"10"`
	MaxAttempts     int           `envconfig:"MAX_ATTEMPTS" default:"5"`
	InitialBackoff  time.Duration `envconfig:"INITIAL_BACKOFF" default:"1s"`
	MaxBackoff      time.Duration `envconfig:"MAX_BACKOFF" default:"16s"`
	TempDir         string        `envconfig:"TEMP_DIR"`
}

type BlobConfig struct {
	Driver string   `envconfig:"DRIVER" default:"fs"`
	Dir    string   `envconfig:"DIR" default:"./exports"`
	Prefix string   `envconfig:"PREFIX" default:"exports"`
	S3     S3Config `envconfig:"S3"`
}

type S3Config struct {
	Bucket          string `envconfig:"BUCKET"`
	Region          string `envconfig:"REGION" default:"us-east-1"`
	Endpoint        string `envconfig:"ENDPOINT"`
	PathStyle       bool   `envconfig:"PATH_STYLE"`
	AccessKeyID     string `envconfig:"ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"SECRET_ACCESS_KEY"`
}

// Load reads LISTMAT_* environment variables, applies defaults and validates.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.DBDSN = strings.TrimSpace(c.DBDSN)
	c.ContentDSN = strings.TrimSpace(c.ContentDSN)
	c.Blob.Driver = strings.ToLower(strings.TrimSpace(c.Blob.Driver))

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0, got %d", c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue size must be >= 0, got %d", c.QueueSize)
	}
	if c.Refresh.BatchSize <= 0 {
		return fmt.Errorf("refresh batch size must be > 0, got %d", c.Refresh.BatchSize)
	}
	if c.Refresh.MaxListSize <= 0 {
		return fmt.Errorf("refresh max list size must be > 0, got %d", c.Refresh.MaxListSize)
	}
	if c.Export.PageSize <= 0 {
		return fmt.Errorf("export page size must be > 0, got %d", c.Export.PageSize)
	}
	if c.Export.MaxAttempts <= 0 {
		return fmt.Errorf("export max attempts must be > 0, got %d", c.Export.MaxAttempts)
	}
	switch c.Blob.Driver {
	case "fs":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("LISTMAT_BLOB_S3_BUCKET required for s3 driver")
		}
	default:
		return fmt.Errorf("unsupported blob driver: %s", c.Blob.Driver)
	}
	return nil
}

// UsesPostgres reports whether the store is Postgres rather than SQLite.
func (c *Config) UsesPostgres() bool { return c.DBDSN != "" }
