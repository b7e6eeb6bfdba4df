package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tinoosan/volload/internal/config"
	"github.com/tinoosan/volload/internal/loader"
	"github.com/tinoosan/volload/internal/oracle"
	"github.com/tinoosan/volload/internal/oracle/eventloop"
	"github.com/tinoosan/volload/internal/oracle/objstore"
	"github.com/tinoosan/volload/internal/oracle/threaded"
	"github.com/tinoosan/volload/internal/orthanc"
	"github.com/tinoosan/volload/internal/repo"
)

// loadConfig reads --config, fills the gaps from the environment and
// applies the global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// newLogger writes to stderr, or to a rotated file when log.file is set.
func newLogger(cfg config.LogConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	lvl, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	var (
		w      io.Writer = stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		w, closer = lj, lj
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer, nil
}

// newSource picks the object store when one is configured and Orthanc
// otherwise. The runner executes the HTTP commands of the Orthanc source;
// object store commands carry their own execution.
func newSource(ctx context.Context, cfg *config.Config) (loader.Source, *oracle.Runner, error) {
	switch {
	case cfg.ObjStore.Root != "":
		fs, err := objstore.NewFileStore(cfg.ObjStore.Root)
		if err != nil {
			return nil, nil, err
		}
		return objstore.NewSource(fs), oracle.NewRunner(nil, nil), nil
	case cfg.ObjStore.S3Bucket != "":
		bucket, prefix := objstore.ParseS3Path(cfg.ObjStore.S3Bucket)
		s3, err := objstore.NewS3Store(ctx, objstore.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.ObjStore.S3Region,
			Endpoint:     cfg.ObjStore.S3Endpoint,
			UsePathStyle: cfg.ObjStore.S3PathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		return objstore.NewSource(s3), oracle.NewRunner(nil, nil), nil
	}

	var (
		client *orthanc.Client
		err    error
	)
	if cfg.Orthanc.URL == "" {
		client, err = orthanc.NewClientFromEnv()
	} else {
		client, err = orthanc.NewClient(cfg.Orthanc.URL, cfg.Orthanc.Username, cfg.Orthanc.Password, cfg.Orthanc.Timeout.Duration)
	}
	if err != nil {
		return nil, nil, err
	}
	return &orthanc.Source{Timeout: cfg.Oracle.Timeout.Duration}, client.Runner(), nil
}

func newBackend(log *slog.Logger, cfg config.OracleConfig, runner *oracle.Runner) oracle.Backend {
	if cfg.Backend == config.BackendEventLoop {
		return eventloop.New(log, runner)
	}
	return threaded.New(log, runner, cfg.Workers)
}

// newRepo returns the record store and a close function.
func newRepo(cfg config.StorageConfig) (repo.LoadRepo, func() error, error) {
	if cfg.Backend != config.StoragePostgres {
		return repo.NewInMemoryLoadRepo(), func() error { return nil }, nil
	}
	dsn := cfg.DSN
	if dsn == "" {
		dsn = repo.DSNFromEnv()
	}
	pg, err := repo.NewPostgresRepo(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	return pg, pg.Close, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
