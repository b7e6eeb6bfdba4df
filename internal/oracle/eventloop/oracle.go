package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/metrics"
	"github.com/tinoosan/volload/internal/oracle"
)

// Oracle dispatches commands from a single loop goroutine. Completions come
// back on the loop, so the sink is never called concurrently and no lock is
// held. Every completion checks the generation of its handle first: a
// receiver torn down while the command was in flight loses its completion
// silently.
type Oracle struct {
	loop   *Loop
	runner *oracle.Runner
	log    *slog.Logger
	sink   oracle.Sink

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool

	// loop-owned
	closing bool
	ops     sync.WaitGroup
}

func New(log *slog.Logger, runner *oracle.Runner) *Oracle {
	if log == nil {
		log = slog.Default()
	}
	return &Oracle{loop: NewLoop(), runner: runner, log: log}
}

var (
	errAlreadyStarted = errors.New("oracle already started")
	errNotStarted     = errors.New("oracle not started")
	errStopped        = errors.New("oracle stopped")
)

// Start runs the loop goroutine.
func (o *Oracle) Start(sink oracle.Sink) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return errStopped
	}
	if o.started {
		return errAlreadyStarted
	}
	o.started = true
	o.sink = sink
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.log = o.log.With("operation_id", uuid.NewString())
	go o.loop.Run(o.ctx)
	o.log.Info("event loop oracle started")
	return nil
}

// Dispatch registers the command and returns at once. It runs on the loop.
func (o *Oracle) Dispatch(h oracle.Handle, cmd *oracle.Command) {
	if o.closing {
		o.log.Debug("dispatch after stop", "handle", h, "command", cmd)
		return
	}
	if cmd.Kind() == oracle.KindTimer {
		o.loop.SetTimeout(cmd.Delay, func() {
			o.complete(h, oracle.Succeed(cmd, oracle.Result{}))
		})
		return
	}
	o.ops.Add(1)
	Go(o.loop, func() oracle.Completion {
		defer o.ops.Done()
		return o.runner.Execute(o.ctx, cmd)
	}, func(c oracle.Completion) {
		o.complete(h, c)
	})
}

func (o *Oracle) complete(h oracle.Handle, c oracle.Completion) {
	if o.closing {
		metrics.CompletionsDropped.WithLabelValues("shutdown").Inc()
		return
	}
	if !o.sink.Alive(h) {
		metrics.CompletionsDropped.WithLabelValues("receiver_gone").Inc()
		o.log.Debug("dropping completion for stale handle", "handle", h, "command", c.Command())
		return
	}
	o.sink.Deliver(h, c)
}

// Do runs fn on the loop and waits for it. Calling Do from the loop itself
// deadlocks.
func (o *Oracle) Do(fn func()) error {
	o.mu.Lock()
	started, stopped := o.started, o.stopped
	o.mu.Unlock()
	if !started {
		return fmt.Errorf("event loop oracle: %w: %w", data.ErrInvalidState, errNotStarted)
	}
	if stopped {
		return fmt.Errorf("event loop oracle: %w: %w", data.ErrInvalidState, errStopped)
	}
	ran := false
	o.run(func() {
		// Stop may have flagged the loop after the check above
		if o.closing {
			return
		}
		ran = true
		fn()
	})
	if !ran {
		return fmt.Errorf("event loop oracle: %w: %w", data.ErrInvalidState, errStopped)
	}
	return nil
}

// run posts fn and waits until it ran or the loop exited.
func (o *Oracle) run(fn func()) {
	done := make(chan struct{})
	if !o.loop.Post(func() {
		defer close(done)
		fn()
	}) {
		return
	}
	select {
	case <-done:
	case <-o.loop.Done():
	}
}

// Stop cancels outstanding I/O, waits for it to return and closes the loop.
// Completions that were not yet applied are dropped.
func (o *Oracle) Stop() {
	o.mu.Lock()
	if !o.started || o.stopped {
		o.stopped = true
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.mu.Unlock()

	o.run(func() { o.closing = true })
	o.cancel()
	o.ops.Wait()
	o.loop.Close()
	o.log.Info("event loop oracle stopped")
}
