package data

import "time"

// LoadStatus is the state of one progressive loader.
type LoadStatus string

const (
	StatusIdle            LoadStatus = "Idle"
	StatusGeometryPending LoadStatus = "GeometryPending"
	StatusGeometryReady   LoadStatus = "GeometryReady"
	StatusStreaming       LoadStatus = "Streaming"
	StatusComplete        LoadStatus = "Complete"
	StatusFailed          LoadStatus = "Failed"
)

// Terminal reports whether no further transition can leave the status.
func (s LoadStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// LoadKind selects what a load job fetches.
type LoadKind string

const (
	KindSeries   LoadKind = "series"
	KindInstance LoadKind = "instance"
)

// Load is the persisted record of one load job. The loader owns the live
// pixel data; the record tracks what the reconciler has observed.
type Load struct {
	ID        string     `json:"id"`
	Kind      LoadKind   `json:"kind"`
	Source    string     `json:"source"`
	Strategy  string     `json:"strategy,omitempty"`
	Status    LoadStatus `json:"status"`
	Slices    int        `json:"slices"`
	Written   int        `json:"written"`
	Revision  uint64     `json:"revision"`
	Current   int        `json:"current"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type Loads []*Load

// Clone returns a copy that can be handed out without sharing state.
func (l *Load) Clone() *Load {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

// Clone copies every record of the list.
func (l Loads) Clone() Loads {
	out := make(Loads, 0, len(l))
	for _, ld := range l {
		out = append(out, ld.Clone())
	}
	return out
}
