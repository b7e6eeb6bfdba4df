// Package scheduler bounds the number of commands each loader has in flight
// and routes completions back to their continuations.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/metrics"
	"github.com/tinoosan/volload/internal/oracle"
)

// DefaultLimit is the per-loader in-flight bound.
const DefaultLimit = 4

// FailureHandler is told once about the first failure of a queue. It runs
// inside the loading context.
type FailureHandler func(err error)

// Scheduler owns one Queue per loader and is the sink of a single backend.
// All of its state is confined to the loading context: methods other than
// Start, Stop and Do must be called from inside Do or from a continuation.
type Scheduler struct {
	backend oracle.Backend
	log     *slog.Logger

	slots []*slot
	free  []uint32
}

type slot struct {
	gen   uint32
	queue *Queue
}

func New(log *slog.Logger, backend oracle.Backend) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{backend: backend, log: log}
}

// Start launches the backend with the scheduler as its sink.
func (s *Scheduler) Start() error {
	if s.backend == nil {
		return fmt.Errorf("scheduler without backend: %w", data.ErrNullReference)
	}
	return s.backend.Start(s)
}

// Stop shuts the backend down. No continuation runs once it returns.
func (s *Scheduler) Stop() { s.backend.Stop() }

// Do runs fn inside the loading context. It fails with ErrInvalidState
// once the backend is stopped, without running fn.
func (s *Scheduler) Do(fn func()) error { return s.backend.Do(fn) }

// Register creates a queue admitting at most limit commands at once.
func (s *Scheduler) Register(name string, limit int, onFailure FailureHandler) (*Queue, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit %d for %q: %w", limit, name, data.ErrInvalidArgument)
	}
	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		idx = uint32(len(s.slots))
		s.slots = append(s.slots, &slot{})
	}
	sl := s.slots[idx]
	sl.gen++
	q := &Queue{
		s:         s,
		h:         oracle.Handle{Slot: idx, Gen: sl.gen},
		name:      name,
		limit:     limit,
		onFailure: onFailure,
		log:       s.log.With("loader", name),
	}
	sl.queue = q
	return q, nil
}

func (s *Scheduler) lookup(h oracle.Handle) *Queue {
	if int(h.Slot) >= len(s.slots) {
		return nil
	}
	sl := s.slots[h.Slot]
	if sl.gen != h.Gen || sl.queue == nil {
		return nil
	}
	return sl.queue
}

func (s *Scheduler) release(h oracle.Handle) {
	if s.lookup(h) == nil {
		return
	}
	s.slots[h.Slot].queue = nil
	s.free = append(s.free, h.Slot)
}

// Alive reports whether h still names a registered queue.
func (s *Scheduler) Alive(h oracle.Handle) bool { return s.lookup(h) != nil }

// Deliver applies one completion. Backends call it inside the loading
// context.
func (s *Scheduler) Deliver(h oracle.Handle, c oracle.Completion) {
	q := s.lookup(h)
	if q == nil {
		metrics.CompletionsDropped.WithLabelValues("receiver_gone").Inc()
		return
	}
	q.complete(c)
}

// Stats is a snapshot of a queue.
type Stats struct {
	Pending  int
	InFlight int
	Limit    int
	Started  bool
	Draining bool
}

// Queue is the bounded scheduler of one loader.
type Queue struct {
	s         *Scheduler
	h         oracle.Handle
	name      string
	log       *slog.Logger
	onFailure FailureHandler

	pending  []*oracle.Command
	inFlight int
	limit    int
	started  bool
	draining bool
	closed   bool
}

var errClosed = errors.New("queue closed")

func (q *Queue) Handle() oracle.Handle { return q.h }

// SetLimit changes the in-flight bound before Start.
func (q *Queue) SetLimit(n int) error {
	if q.started {
		return fmt.Errorf("set limit of started %q: %w", q.name, data.ErrInvalidState)
	}
	if n <= 0 {
		return fmt.Errorf("limit %d: %w", n, data.ErrInvalidArgument)
	}
	q.limit = n
	return nil
}

// Submit enqueues cmd and tries to admit it. Commands are admitted in
// submission order.
func (q *Queue) Submit(cmd *oracle.Command) error {
	if cmd == nil {
		return fmt.Errorf("submit to %q: %w", q.name, data.ErrNullReference)
	}
	if cmd.Continuation() == nil {
		return fmt.Errorf("%s has no continuation: %w", cmd, data.ErrInvalidArgument)
	}
	if q.closed {
		return fmt.Errorf("submit to %q: %w: %w", q.name, data.ErrInvalidState, errClosed)
	}
	if q.draining {
		return fmt.Errorf("submit to failed %q: %w", q.name, data.ErrInvalidState)
	}
	q.pending = append(q.pending, cmd)
	metrics.CommandsPending.Inc()
	q.tryAdmitMore()
	return nil
}

// Start opens admission. It may be called once.
func (q *Queue) Start() error {
	if q.closed {
		return fmt.Errorf("start %q: %w: %w", q.name, data.ErrInvalidState, errClosed)
	}
	if q.started {
		return fmt.Errorf("%q already started: %w", q.name, data.ErrInvalidState)
	}
	q.started = true
	q.tryAdmitMore()
	return nil
}

func (q *Queue) tryAdmitMore() {
	if !q.started || q.draining || q.closed {
		return
	}
	for len(q.pending) > 0 && q.inFlight < q.limit {
		cmd := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.inFlight++
		metrics.CommandsPending.Dec()
		metrics.CommandsInFlight.Inc()
		q.s.backend.Dispatch(q.h, cmd)
	}
}

func (q *Queue) complete(c oracle.Completion) {
	q.inFlight--
	metrics.CommandsInFlight.Dec()
	if q.draining {
		metrics.CompletionsDropped.WithLabelValues("draining").Inc()
		return
	}

	var err error
	switch c := c.(type) {
	case *oracle.Success:
		if then := c.Cmd.Continuation(); then != nil {
			err = then(c)
		}
	case *oracle.Failure:
		err = c
	}
	if err != nil {
		q.fail(err)
		return
	}
	q.tryAdmitMore()
}

func (q *Queue) fail(err error) {
	if q.draining || q.closed {
		return
	}
	q.draining = true
	metrics.CommandsPending.Sub(float64(len(q.pending)))
	q.pending = nil
	q.log.Error("loader pipeline failed", "err", err)
	if q.onFailure != nil {
		q.onFailure(err)
	}
}

// Close unregisters the queue. Pending commands are discarded and
// completions of in-flight ones are dropped by the backend.
func (q *Queue) Close() {
	if q.closed {
		return
	}
	q.closed = true
	metrics.CommandsPending.Sub(float64(len(q.pending)))
	metrics.CommandsInFlight.Sub(float64(q.inFlight))
	q.pending = nil
	q.s.release(q.h)
}

func (q *Queue) Stats() Stats {
	return Stats{
		Pending:  len(q.pending),
		InFlight: q.inFlight,
		Limit:    q.limit,
		Started:  q.started,
		Draining: q.draining,
	}
}
