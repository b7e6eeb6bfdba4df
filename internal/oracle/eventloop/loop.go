// Package eventloop is the cooperative dispatcher: every callback runs on a
// single loop goroutine and I/O is registered without blocking it.
package eventloop

import (
	"context"
	"sync"
	"time"
)

// Loop runs posted tasks one at a time on its own goroutine.
type Loop struct {
	tasks chan func()
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

func NewLoop() *Loop {
	return &Loop{tasks: make(chan func(), 256), done: make(chan struct{})}
}

// Run processes tasks until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn, ok := <-l.tasks:
			if !ok {
				return
			}
			fn()
		}
	}
}

// Post queues fn for the loop. It reports false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending.Add(1)
	l.mu.Unlock()
	defer l.pending.Done()

	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Go starts work off the loop and posts then(result) back onto it. This is
// the non-blocking registration of an asynchronous operation.
func Go[T any](l *Loop, work func() T, then func(T)) {
	go func() {
		v := work()
		l.Post(func() { then(v) })
	}()
}

// SetTimeout posts fn after d.
func (l *Loop) SetTimeout(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

// Close stops accepting tasks, lets the loop drain what was already queued
// and waits for the loop goroutine to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.pending.Wait()
	close(l.tasks)
	<-l.done
}

// Done is closed when the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }
