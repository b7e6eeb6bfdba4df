// Package notify fans load progress out of the process: to websocket
// subscribers of one load and to a Redis pub/sub channel.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/tinoosan/volload/internal/data"
)

// Message is one load progress notification. It is encoded as JSON or,
// for websocket clients that negotiate it, msgpack.
type Message struct {
	LoadID   string          `json:"loadId" msgpack:"load_id"`
	Type     string          `json:"type" msgpack:"type"`
	Status   data.LoadStatus `json:"status" msgpack:"status"`
	Revision uint64          `json:"revision" msgpack:"revision"`
	Written  int             `json:"written" msgpack:"written"`
	Slices   int             `json:"slices" msgpack:"slices"`
	Error    string          `json:"error,omitempty" msgpack:"error,omitempty"`
	At       time.Time       `json:"at" msgpack:"at"`
}

// Terminal reports whether no message can follow this one.
func (m Message) Terminal() bool { return m.Status.Terminal() }

// FromLoad describes the current state of a load record.
func FromLoad(eventType string, l *data.Load) Message {
	return Message{
		LoadID:   l.ID,
		Type:     eventType,
		Status:   l.Status,
		Revision: l.Revision,
		Written:  l.Written,
		Slices:   l.Slices,
		Error:    l.Error,
		At:       l.UpdatedAt,
	}
}

// Notifier delivers messages. Implementations must not block the caller
// for longer than their own timeout.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// Multi notifies every notifier in order and joins their errors.
type Multi []Notifier

func (n Multi) Notify(ctx context.Context, m Message) error {
	var errs []error
	for _, x := range n {
		if x == nil {
			continue
		}
		if err := x.Notify(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
