package scheduler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/oracle"
)

type dispatched struct {
	h   oracle.Handle
	cmd *oracle.Command
}

// fakeBackend records dispatches and lets the test decide when and how
// each command completes.
type fakeBackend struct {
	sink     oracle.Sink
	inflight []dispatched
	order    []*oracle.Command
}

func (b *fakeBackend) Start(sink oracle.Sink) error { b.sink = sink; return nil }
func (b *fakeBackend) Do(fn func()) error           { fn(); return nil }
func (b *fakeBackend) Stop()                        {}

func (b *fakeBackend) Dispatch(h oracle.Handle, cmd *oracle.Command) {
	b.inflight = append(b.inflight, dispatched{h, cmd})
	b.order = append(b.order, cmd)
}

// finish completes the i-th in-flight command the way a backend would,
// dropping it when the receiver is gone.
func (b *fakeBackend) finish(i int, fail error) {
	d := b.inflight[i]
	b.inflight = append(b.inflight[:i], b.inflight[i+1:]...)
	if !b.sink.Alive(d.h) {
		return
	}
	if fail != nil {
		b.sink.Deliver(d.h, oracle.Fail(d.cmd, fail))
		return
	}
	b.sink.Deliver(d.h, oracle.Succeed(d.cmd, oracle.Result{}))
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestScheduler(t *testing.T) (*Scheduler, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{}
	s := New(quietLogger(), b)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	return s, b
}

func cmd(name string, then oracle.Continuation) *oracle.Command {
	if then == nil {
		then = func(*oracle.Success) error { return nil }
	}
	return oracle.NewTimer(0).Then(then).WithHeader("X-Name", name)
}

func TestQueue_SubmitRejects(t *testing.T) {
	s, _ := newTestScheduler(t)
	q, err := s.Register("series-1", 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Submit(nil); !errors.Is(err, data.ErrNullReference) {
		t.Errorf("nil command: err = %v", err)
	}
	if err := q.Submit(oracle.NewTimer(0)); !errors.Is(err, data.ErrInvalidArgument) {
		t.Errorf("no continuation: err = %v", err)
	}
	if err := q.Start(); err != nil {
		t.Fatal(err)
	}
	if err := q.Start(); !errors.Is(err, data.ErrInvalidState) {
		t.Errorf("second start: err = %v", err)
	}
	if err := q.SetLimit(3); !errors.Is(err, data.ErrInvalidState) {
		t.Errorf("limit after start: err = %v", err)
	}
}

func TestRegister_RejectsLimit(t *testing.T) {
	s, _ := newTestScheduler(t)
	if _, err := s.Register("x", 0, nil); !errors.Is(err, data.ErrInvalidArgument) {
		t.Errorf("err = %v", err)
	}
}

func TestQueue_NothingAdmittedBeforeStart(t *testing.T) {
	s, b := newTestScheduler(t)
	q, _ := s.Register("series-1", 2, nil)
	for i := 0; i < 3; i++ {
		if err := q.Submit(cmd(fmt.Sprint(i), nil)); err != nil {
			t.Fatal(err)
		}
	}
	if len(b.inflight) != 0 {
		t.Fatalf("dispatched %d commands before start", len(b.inflight))
	}
	if err := q.Start(); err != nil {
		t.Fatal(err)
	}
	if got := q.Stats(); got.InFlight != 2 || got.Pending != 1 {
		t.Errorf("stats = %+v, want 2 in flight and 1 pending", got)
	}
}

func TestQueue_ContinuationSubmitsFollowUp(t *testing.T) {
	s, b := newTestScheduler(t)
	q, _ := s.Register("series-1", 1, nil)
	var ran []string
	first := cmd("first", func(*oracle.Success) error {
		ran = append(ran, "first")
		return q.Submit(cmd("second", func(*oracle.Success) error {
			ran = append(ran, "second")
			return nil
		}))
	})
	if err := q.Submit(first); err != nil {
		t.Fatal(err)
	}
	_ = q.Start()
	b.finish(0, nil)
	b.finish(0, nil)
	if len(ran) != 2 || ran[1] != "second" {
		t.Errorf("ran = %v", ran)
	}
	if got := q.Stats(); got.InFlight != 0 || got.Pending != 0 {
		t.Errorf("stats = %+v", got)
	}
}

func TestQueue_DrainOnFailure(t *testing.T) {
	s, b := newTestScheduler(t)
	var failures []error
	q, _ := s.Register("series-1", 2, func(err error) { failures = append(failures, err) })
	calls := 0
	for i := 0; i < 5; i++ {
		_ = q.Submit(cmd(fmt.Sprint(i), func(*oracle.Success) error { calls++; return nil }))
	}
	_ = q.Start()

	b.finish(0, fmt.Errorf("boom: %w", data.ErrNetwork))
	if len(failures) != 1 || !errors.Is(failures[0], data.ErrNetwork) {
		t.Fatalf("failures = %v", failures)
	}
	st := q.Stats()
	if !st.Draining || st.Pending != 0 {
		t.Errorf("stats after failure = %+v", st)
	}
	if len(b.inflight) != 1 {
		t.Fatalf("admitted more work while draining: %d in flight", len(b.inflight))
	}

	// the other in-flight success is dropped
	b.finish(0, nil)
	if calls != 0 {
		t.Errorf("continuation ran %d times while draining", calls)
	}
	if err := q.Submit(cmd("late", nil)); !errors.Is(err, data.ErrInvalidState) {
		t.Errorf("submit while draining: err = %v", err)
	}
	if len(failures) != 1 {
		t.Errorf("failure handler ran %d times", len(failures))
	}
}

func TestQueue_ContinuationErrorFails(t *testing.T) {
	s, b := newTestScheduler(t)
	var got error
	q, _ := s.Register("series-1", 1, func(err error) { got = err })
	_ = q.Submit(cmd("bad", func(*oracle.Success) error { return data.ErrBadGeometry }))
	_ = q.Start()
	b.finish(0, nil)
	if !errors.Is(got, data.ErrBadGeometry) {
		t.Errorf("failure = %v", got)
	}
}

func TestQueue_CloseDropsCompletions(t *testing.T) {
	s, b := newTestScheduler(t)
	q, _ := s.Register("series-1", 1, nil)
	ran := false
	_ = q.Submit(cmd("a", func(*oracle.Success) error { ran = true; return nil }))
	_ = q.Submit(cmd("b", nil))
	_ = q.Start()
	h := q.Handle()
	q.Close()

	if s.Alive(h) {
		t.Fatal("closed handle still alive")
	}
	// slot reuse must not revive the old handle
	q2, _ := s.Register("series-2", 1, nil)
	if q2.Handle().Slot != h.Slot || q2.Handle().Gen == h.Gen {
		t.Fatalf("handle reuse = %v after %v", q2.Handle(), h)
	}
	b.finish(0, nil)
	if ran {
		t.Error("continuation ran for a closed queue")
	}
	if len(b.order) != 1 {
		t.Errorf("dispatched %d commands, pending work of a closed queue must never be admitted", len(b.order))
	}
	if err := q.Submit(cmd("c", nil)); !errors.Is(err, data.ErrInvalidState) {
		t.Errorf("submit after close: err = %v", err)
	}
}

// Randomized interleaving of submissions and completions across loaders:
// in-flight never exceeds the limit and admission follows submission order.
func TestQueue_BoundedFIFOProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		s, b := newTestScheduler(t)
		type loader struct {
			q         *Queue
			submitted []*oracle.Command
			limit     int
		}
		loaders := make([]*loader, 1+rng.Intn(3))
		for i := range loaders {
			limit := 1 + rng.Intn(4)
			q, err := s.Register(fmt.Sprintf("l%d", i), limit, nil)
			if err != nil {
				t.Fatal(err)
			}
			_ = q.Start()
			loaders[i] = &loader{q: q, limit: limit}
		}
		byHandle := map[oracle.Handle]*loader{}
		for _, l := range loaders {
			byHandle[l.q.Handle()] = l
		}

		for step := 0; step < 200; step++ {
			if len(b.inflight) > 0 && rng.Intn(2) == 0 {
				b.finish(rng.Intn(len(b.inflight)), nil)
			} else {
				l := loaders[rng.Intn(len(loaders))]
				c := cmd(fmt.Sprint(step), nil)
				l.submitted = append(l.submitted, c)
				if err := l.q.Submit(c); err != nil {
					t.Fatal(err)
				}
			}
			counts := map[oracle.Handle]int{}
			for _, d := range b.inflight {
				counts[d.h]++
			}
			for h, n := range counts {
				if n > byHandle[h].limit {
					t.Fatalf("round %d: %d in flight for limit %d", round, n, byHandle[h].limit)
				}
			}
		}

		admitted := map[*Queue][]*oracle.Command{}
		for _, c := range b.order {
			for _, l := range loaders {
				for _, sc := range l.submitted {
					if sc == c {
						admitted[l.q] = append(admitted[l.q], c)
					}
				}
			}
		}
		for _, l := range loaders {
			got := admitted[l.q]
			for i, c := range got {
				if l.submitted[i] != c {
					t.Fatalf("round %d: admission %d out of submission order", round, i)
				}
			}
		}
	}
}
