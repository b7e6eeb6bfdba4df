package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/tinoosan/volload/internal/auth"
	"github.com/tinoosan/volload/internal/loader"
	"github.com/tinoosan/volload/internal/metrics"
	"github.com/tinoosan/volload/internal/notify"
	"github.com/tinoosan/volload/internal/reconciler"
	"github.com/tinoosan/volload/internal/router"
	"github.com/tinoosan/volload/internal/scheduler"
	"github.com/tinoosan/volload/internal/service"
)

// eventBuffer absorbs bursts of slice updates while the reconciler writes.
const eventBuffer = 256

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "overrides server.addr"},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	log, logCloser, err := newLogger(cfg.Log, c.App.ErrWriter)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	store, closeStore, err := newRepo(cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	src, runner, err := newSource(ctx, cfg)
	if err != nil {
		return err
	}
	sched := scheduler.New(log, newBackend(log, cfg.Oracle, runner))
	if err := sched.Start(); err != nil {
		return err
	}

	notifiers := notify.Multi{}
	var hub *notify.Hub
	if cfg.Notify.WebsocketEnabled() {
		hub = notify.NewHub(log)
		notifiers = append(notifiers, hub)
	}
	if cfg.Notify.RedisURL != "" {
		rn, err := notify.NewRedis(notify.RedisConfig{
			URL:     cfg.Notify.RedisURL,
			Channel: cfg.Notify.Channel,
			Timeout: cfg.Notify.Timeout.Duration,
		})
		if err != nil {
			sched.Stop()
			return err
		}
		defer rn.Close()
		notifiers = append(notifiers, rn)
	}

	events := make(chan loader.Event, eventBuffer)
	rec := reconciler.New(log, store, events, notifiers)
	rec.Run()

	svc := service.NewLoad(log, store, sched, src, loader.NewChanReporter(events), service.Defaults{
		Limit:     cfg.Loader.Limit,
		Strategy:  cfg.Loader.Strategy,
		BlockSize: cfg.Loader.BlockSize,
	})
	if _, err := svc.Recover(ctx); err != nil {
		log.Error("recover loads", "err", err)
	}

	if os.Getenv(auth.TokenEnv) == "" {
		log.Warn("API token unset; every /v1 request will be refused", "env", auth.TokenEnv)
	}
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router.New(log, svc, hub),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting volload API", "addr", server.Addr, "backend", cfg.Oracle.Backend, "storage", cfg.Storage.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("received terminate, graceful shutdown")
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Error("http shutdown", "err", serr)
	}
	// loaders first so no continuation reports into a stopped reconciler
	svc.Close()
	sched.Stop()
	rec.Stop()
	return err
}
