package oracle

import "fmt"

// Handle names a registered receiver. Gen changes every time a slot is
// reused, so a completion for a torn-down receiver can be recognised and
// dropped.
type Handle struct {
	Slot uint32
	Gen  uint32
}

func (h Handle) String() string { return fmt.Sprintf("%d.%d", h.Slot, h.Gen) }

// Sink receives completions. Deliver is only ever called inside the
// loading context.
type Sink interface {
	Alive(h Handle) bool
	Deliver(h Handle, c Completion)
}

// Backend executes commands and reports exactly one completion per
// dispatched command to its sink.
type Backend interface {
	// Start binds the sink and launches the backend.
	Start(sink Sink) error

	// Dispatch hands over an admitted command. It is called inside the
	// loading context and must not block on I/O.
	Dispatch(h Handle, cmd *Command)

	// Do runs fn inside the loading context, serialized with completion
	// handling. It must not be called from a continuation. Before Start and
	// after Stop fn is not run and Do returns an error wrapping
	// data.ErrInvalidState.
	Do(fn func()) error

	// Stop blocks until no backend goroutine can touch receiver state.
	Stop()
}
