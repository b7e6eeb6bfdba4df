// Package threaded is the worker-pool dispatcher: a fixed pool of goroutines
// performs blocking I/O and a single pump applies completions.
package threaded

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/metrics"
	"github.com/tinoosan/volload/internal/oracle"
)

// DefaultWorkers matches the scheduler default per-loader limit.
const DefaultWorkers = 4

type delivery struct {
	h oracle.Handle
	c oracle.Completion
}

type sleeper struct {
	job
	at time.Time
}

// Oracle runs commands on a pool of worker goroutines. Workers and the timer
// goroutine push completions into one channel; a single pump goroutine
// drains it and calls the sink while holding the loading-context mutex, so
// receiver state is never mutated concurrently.
type Oracle struct {
	runner  *oracle.Runner
	workers int
	log     *slog.Logger

	mu   sync.Mutex
	sink oracle.Sink

	queue  *jobQueue
	timers chan job
	out    chan delivery

	ctx     context.Context
	cancel  context.CancelFunc
	stop    chan struct{}
	wg      sync.WaitGroup
	pumpWG  sync.WaitGroup
	started bool
	stopped bool
}

// New creates a worker-pool oracle; workers <= 0 selects DefaultWorkers.
func New(log *slog.Logger, runner *oracle.Runner, workers int) *Oracle {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Oracle{
		runner:  runner,
		workers: workers,
		log:     log,
		queue:   newJobQueue(),
		timers:  make(chan job, 64),
		out:     make(chan delivery, 64),
	}
}

var (
	errAlreadyStarted = errors.New("oracle already started")
	errNotStarted     = errors.New("oracle not started")
	errStopped        = errors.New("oracle stopped")
)

// Start launches the workers, the timer goroutine and the pump.
func (o *Oracle) Start(sink oracle.Sink) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return errAlreadyStarted
	}
	o.started = true
	o.sink = sink
	o.stop = make(chan struct{})
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.log = o.log.With("operation_id", uuid.NewString())

	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	o.wg.Add(1)
	go o.sleeper()

	o.pumpWG.Add(1)
	go o.pump()

	o.log.Info("threaded oracle started", "workers", o.workers)
	return nil
}

// Dispatch queues cmd for a worker, or for the timer goroutine.
func (o *Oracle) Dispatch(h oracle.Handle, cmd *oracle.Command) {
	j := job{h: h, cmd: cmd}
	if cmd.Kind() == oracle.KindTimer {
		select {
		case o.timers <- j:
		default:
			// timer goroutine is busy; never block the loading context
			go func() {
				select {
				case o.timers <- j:
				case <-o.stop:
				}
			}()
		}
		return
	}
	if !o.queue.push(j) {
		metrics.CompletionsDropped.WithLabelValues("shutdown").Inc()
		o.log.Debug("dispatch after stop", "handle", h, "command", cmd)
	}
}

// Do runs fn while holding the loading-context mutex.
func (o *Oracle) Do(fn func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return fmt.Errorf("threaded oracle: %w: %w", data.ErrInvalidState, errNotStarted)
	}
	if o.stopped {
		return fmt.Errorf("threaded oracle: %w: %w", data.ErrInvalidState, errStopped)
	}
	fn()
	return nil
}

// Stop cancels outstanding I/O, waits for every worker to finish its current
// command, then stops the pump. Completions not yet applied are discarded.
func (o *Oracle) Stop() {
	o.mu.Lock()
	if !o.started || o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.mu.Unlock()

	dropped := o.queue.close()
	close(o.stop)
	o.cancel()
	o.wg.Wait()
	o.pumpWG.Wait()
	if dropped > 0 {
		o.log.Info("discarded queued commands at shutdown", "count", dropped)
	}
	o.log.Info("threaded oracle stopped")
}

func (o *Oracle) worker() {
	defer o.wg.Done()
	for {
		j, ok := o.queue.pop()
		if !ok {
			return
		}
		c := o.runner.Execute(o.ctx, j.cmd)
		o.emit(delivery{h: j.h, c: c})
	}
}

func (o *Oracle) emit(d delivery) {
	select {
	case o.out <- d:
	case <-o.stop:
		// stopping: hand over while the pump still runs, drop afterwards
		select {
		case o.out <- d:
		case <-o.ctx.Done():
			metrics.CompletionsDropped.WithLabelValues("shutdown").Inc()
		}
	}
}

func (o *Oracle) sleeper() {
	defer o.wg.Done()
	var pending []sleeper
	for {
		var wake <-chan time.Time
		var t *time.Timer
		if len(pending) > 0 {
			next := pending[0].at
			for _, s := range pending[1:] {
				if s.at.Before(next) {
					next = s.at
				}
			}
			t = time.NewTimer(time.Until(next))
			wake = t.C
		}

		select {
		case <-o.stop:
			if t != nil {
				t.Stop()
			}
			return
		case j := <-o.timers:
			pending = append(pending, sleeper{job: j, at: time.Now().Add(j.cmd.Delay)})
		case now := <-wake:
			kept := pending[:0]
			for _, s := range pending {
				if s.at.After(now) {
					kept = append(kept, s)
					continue
				}
				o.emit(delivery{h: s.h, c: oracle.Succeed(s.cmd, oracle.Result{})})
			}
			pending = kept
		}
		if t != nil {
			t.Stop()
		}
	}
}

// pump is the only goroutine that calls the sink.
func (o *Oracle) pump() {
	defer o.pumpWG.Done()
	for {
		select {
		case d := <-o.out:
			o.deliver(d)
		case <-o.ctx.Done():
			return
		}
	}
}

func (o *Oracle) deliver(d delivery) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.sink.Alive(d.h) {
		metrics.CompletionsDropped.WithLabelValues("receiver_gone").Inc()
		o.log.Debug("dropping completion for stale handle", "handle", d.h, "command", d.c.Command())
		return
	}
	o.sink.Deliver(d.h, d.c)
}
