// Package config loads the volload YAML settings file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/volume"
)

// Config mirrors volload.yaml. Every field is optional; Default fills the
// gaps and command-line flags override the result.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Orthanc  OrthancConfig  `yaml:"orthanc"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Loader   LoaderConfig   `yaml:"loader"`
	Storage  StorageConfig  `yaml:"storage"`
	Notify   NotifyConfig   `yaml:"notify"`
	ObjStore ObjStoreConfig `yaml:"objstore"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

type OrthancConfig struct {
	URL      string   `yaml:"url"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Timeout  Duration `yaml:"timeout"`
}

// Backends of the command oracle.
const (
	BackendThreaded  = "threaded"
	BackendEventLoop = "eventloop"
)

type OracleConfig struct {
	Backend string `yaml:"backend"`
	Workers int    `yaml:"workers"`
	// Timeout bounds every command; zero leaves it to the HTTP client.
	Timeout Duration `yaml:"timeout"`
}

type LoaderConfig struct {
	Limit     int    `yaml:"limit"`
	Strategy  string `yaml:"strategy"`
	BlockSize int    `yaml:"block_size"`
}

// Storage backends for load records.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type StorageConfig struct {
	Backend string `yaml:"backend"`
	// DSN falls back to the POSTGRES_* variables when empty.
	DSN string `yaml:"dsn"`
}

type NotifyConfig struct {
	RedisURL string   `yaml:"redis_url"`
	Channel  string   `yaml:"channel"`
	Timeout  Duration `yaml:"timeout"`
	// Websocket turns the /events endpoint on.
	Websocket *bool `yaml:"websocket,omitempty"`
}

// ObjStoreConfig selects a pre-exported series tree instead of Orthanc.
// Root and S3Bucket are exclusive.
type ObjStoreConfig struct {
	Root        string `yaml:"root"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File rotates through lumberjack; empty logs to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Duration wraps time.Duration for YAML strings such as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Default is the configuration used when no file is given.
func Default() *Config {
	websocket := true
	return &Config{
		Server: ServerConfig{
			Addr:            ":9090",
			ReadTimeout:     Duration{5 * time.Second},
			IdleTimeout:     Duration{120 * time.Second},
			ShutdownTimeout: Duration{30 * time.Second},
		},
		Orthanc: OrthancConfig{Timeout: Duration{10 * time.Second}},
		Oracle:  OracleConfig{Backend: BackendThreaded, Workers: 4},
		Loader:  LoaderConfig{Limit: 4, Strategy: volume.SorterCenterOut},
		Storage: StorageConfig{Backend: StorageMemory},
		Notify:  NotifyConfig{Timeout: Duration{2 * time.Second}, Websocket: &websocket},
		Log:     LogConfig{Level: "info", Format: "text", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
	}
}

// WebsocketEnabled defaults to true when the key is absent.
func (n NotifyConfig) WebsocketEnabled() bool { return n.Websocket == nil || *n.Websocket }

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format+": %w", append(args, data.ErrInvalidArgument)...))
	}
	switch c.Oracle.Backend {
	case BackendThreaded, BackendEventLoop:
	default:
		bad("oracle.backend %q", c.Oracle.Backend)
	}
	if c.Oracle.Backend == BackendThreaded && c.Oracle.Workers <= 0 {
		bad("oracle.workers %d", c.Oracle.Workers)
	}
	if c.Oracle.Timeout.Duration < 0 {
		bad("oracle.timeout %s", c.Oracle.Timeout)
	}
	if c.Loader.Limit <= 0 {
		bad("loader.limit %d", c.Loader.Limit)
	}
	if c.Loader.BlockSize < 0 {
		bad("loader.block_size %d", c.Loader.BlockSize)
	}
	if _, err := volume.NewItemSorter(c.Loader.Strategy, 1); err != nil {
		errs = append(errs, fmt.Errorf("loader.strategy: %w", err))
	}
	switch c.Storage.Backend {
	case StorageMemory, StoragePostgres:
	default:
		bad("storage.backend %q", c.Storage.Backend)
	}
	if c.ObjStore.Root != "" && c.ObjStore.S3Bucket != "" {
		bad("objstore.root and objstore.s3_bucket are exclusive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		bad("log.format %q", c.Log.Format)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
