package loader

import "github.com/tinoosan/volload/internal/geometry"

// Event is a loader notification in the form the reconciler consumes.
//
// GeometryReady carries the volume geometry, ContentUpdated the buffer
// revision and progress, VolumeReady and Failed are terminal.
type Event struct {
	LoadID   string
	Type     EventType
	Geometry *geometry.VolumeGeometry
	Revision uint64
	Progress *Progress
	Err      error
}

type EventType string

const (
	EventGeometryReady  EventType = "GeometryReady"
	EventContentUpdated EventType = "ContentUpdated"
	EventVolumeReady    EventType = "VolumeReady"
	EventFailed         EventType = "Failed"
)

// Progress counts slices, not bytes.
type Progress struct {
	Written int
	Best    int
	Total   int
}

// Reporter publishes loader events.
type Reporter interface {
	Report(Event)
}

// ChanReporter writes events to a channel.
type ChanReporter struct {
	ch chan<- Event
}

func NewChanReporter(ch chan<- Event) *ChanReporter { return &ChanReporter{ch: ch} }

func (r *ChanReporter) Report(e Event) {
	if r == nil {
		return
	}
	r.ch <- e
}
