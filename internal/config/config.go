// Package config loads racecore settings from a YAML file with RACECORE_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"racecore/internal/blob"
	"racecore/internal/core"
)

// DefaultPath is read when no --config flag is given. A missing file at the
// default path is not an error.
const DefaultPath = "racecore.yaml"

// Config is the top-level settings document.
type Config struct {
	Storage core.StorageConfig `yaml:"storage"`
	Blob    blob.Config        `yaml:"blob"`
	Log     LogConfig          `yaml:"log"`
	Metrics MetricsConfig      `yaml:"metrics"`
}

// LogConfig controls the slog handler built by the CLI.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error (default info)
	Format string `yaml:"format"` // text|json (default text)
	// Trace writes one JSON line per service operation to stderr.
	Trace bool `yaml:"trace"`
}

// Metrics exporters.
const (
	ExporterPrometheus = "prometheus"
	ExporterExpvar     = "expvar"
)

// MetricsConfig picks how operation metrics are exported.
type MetricsConfig struct {
	Exporter string `yaml:"exporter"` // prometheus|expvar (default prometheus)
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage: core.StorageConfig{
			Driver:     core.StorageSQLite,
			SQLitePath: "racecore.db",
		},
		Blob: blob.Config{
			Driver: blob.DriverFilesystem,
			FSRoot: "blobdata",
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Exporter: ExporterPrometheus},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path means DefaultPath, which may be absent.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	optional := path == ""
	if optional {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var storageDriver, blobDriver string
	str("RACECORE_STORAGE_DRIVER", &storageDriver)
	if storageDriver != "" {
		cfg.Storage.Driver = core.StorageDriver(storageDriver)
	}
	str("RACECORE_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("RACECORE_POSTGRES_DSN", &cfg.Storage.PostgresDSN)

	str("RACECORE_BLOB_DRIVER", &blobDriver)
	if blobDriver != "" {
		cfg.Blob.Driver = blob.Driver(blobDriver)
	}
	str("RACECORE_BLOB_FS_ROOT", &cfg.Blob.FSRoot)
	str("RACECORE_BLOB_S3_BUCKET", &cfg.Blob.S3.Bucket)
	str("RACECORE_BLOB_S3_REGION", &cfg.Blob.S3.Region)
	str("RACECORE_BLOB_S3_ENDPOINT", &cfg.Blob.S3.Endpoint)
	str("RACECORE_BLOB_S3_ACCESS_KEY_ID", &cfg.Blob.S3.AccessKeyID)
	str("RACECORE_BLOB_S3_SECRET_ACCESS_KEY", &cfg.Blob.S3.SecretAccessKey)
	if v, ok := lookup("RACECORE_BLOB_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RACECORE_BLOB_S3_PATH_STYLE: %w", err)
		}
		cfg.Blob.S3.PathStyle = b
	}

	str("RACECORE_LOG_LEVEL", &cfg.Log.Level)
	str("RACECORE_LOG_FORMAT", &cfg.Log.Format)
	if v, ok := lookup("RACECORE_LOG_TRACE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RACECORE_LOG_TRACE: %w", err)
		}
		cfg.Log.Trace = b
	}
	str("RACECORE_METRICS_EXPORTER", &cfg.Metrics.Exporter)
	return nil
}

// Validate rejects driver and log settings the CLI cannot act on.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case core.StorageMemory, core.StorageSQLite, "":
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case blob.DriverFilesystem, blob.DriverMemory, "":
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return errors.New("blob.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	switch c.Metrics.Exporter {
	case "", ExporterPrometheus, ExporterExpvar:
	default:
		return fmt.Errorf("unknown metrics exporter %q", c.Metrics.Exporter)
	}
	return nil
}

// SlogLevel maps the configured level name onto slog.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", l.Level, err)
	}
	return level, nil
}
