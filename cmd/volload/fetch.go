package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/loader"
	"github.com/tinoosan/volload/internal/scheduler"
)

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Load one series to completion and print a summary",
		ArgsUsage: "SERIES_ID",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "instance", Usage: "treat the id as a single instance"},
			&cli.IntFlag{Name: "limit", Usage: "overrides loader.limit"},
			&cli.StringFlag{Name: "strategy", Usage: "overrides loader.strategy (center-out, sequential)"},
			&cli.BoolFlag{Name: "progress", Usage: "print a line per content update"},
		},
		Action: fetchAction,
	}
}

func fetchAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("fetch expects exactly one SERIES_ID", 2)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if n := c.Int("limit"); n > 0 {
		cfg.Loader.Limit = n
	}
	if s := c.String("strategy"); s != "" {
		cfg.Loader.Strategy = s
	}
	log, logCloser, err := newLogger(cfg.Log, c.App.ErrWriter)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	src, runner, err := newSource(ctx, cfg)
	if err != nil {
		return err
	}
	sched := scheduler.New(log, newBackend(log, cfg.Oracle, runner))
	if err := sched.Start(); err != nil {
		return err
	}

	id := uuid.NewString()
	l := loader.New(sched, src, loader.Options{
		ID:        id,
		Limit:     cfg.Loader.Limit,
		Order:     cfg.Loader.Strategy,
		BlockSize: cfg.Loader.BlockSize,
		Log:       log,
	})
	events := make(chan loader.Event, eventBuffer)
	defer func() {
		// observers report from the loading context; keep them unblocked
		// until nothing can send any more
		go func() {
			for range events {
			}
		}()
		l.Close()
		sched.Stop()
		close(events)
	}()
	if err := l.AddObserver(loader.ReportTo(id, loader.NewChanReporter(events), l)); err != nil {
		return err
	}

	started := time.Now()
	source := c.Args().First()
	if c.Bool("instance") {
		err = l.LoadInstance(source)
	} else {
		err = l.LoadSeries(source)
	}
	if err != nil {
		return err
	}

	var progress io.Writer
	if c.Bool("progress") {
		progress = c.App.Writer
	}
	if err := waitForLoad(ctx, events, progress); err != nil {
		return err
	}
	snap := l.Snapshot()
	fmt.Fprintln(c.App.Writer, renderSummary(source, snap, time.Since(started)))
	if snap.Status == data.StatusFailed {
		return cli.Exit("", 1)
	}
	return nil
}

// waitForLoad drains events until a terminal one arrives.
func waitForLoad(ctx context.Context, events <-chan loader.Event, progress io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-events:
			switch e.Type {
			case loader.EventVolumeReady, loader.EventFailed:
				return nil
			case loader.EventContentUpdated:
				if progress != nil && e.Progress != nil {
					fmt.Fprintf(progress, "rev %d: %d/%d slices, %d at full quality\n",
						e.Revision, e.Progress.Written, e.Progress.Total, e.Progress.Best)
				}
			}
		}
	}
}
