package loader

import "github.com/tinoosan/volload/internal/geometry"

// Observer is notified synchronously inside the loading context. It must
// not call back into a loader operation that enters the loading context
// (LoadSeries, LoadInstance, Close); ExtractSlice and SetCurrent are safe.
type Observer interface {
	OnGeometryReady(g geometry.VolumeGeometry)
	OnContentUpdated(revision uint64)
	OnVolumeReady()
	OnFailed(err error)
}

// reportingObserver turns notifications into events for one load.
type reportingObserver struct {
	id string
	r  Reporter
	l  *Loader
}

// ReportTo adapts r into an Observer of l.
func ReportTo(id string, r Reporter, l *Loader) Observer {
	return &reportingObserver{id: id, r: r, l: l}
}

func (o *reportingObserver) OnGeometryReady(g geometry.VolumeGeometry) {
	o.r.Report(Event{LoadID: o.id, Type: EventGeometryReady, Geometry: &g, Progress: o.l.progress()})
}

func (o *reportingObserver) OnContentUpdated(revision uint64) {
	o.r.Report(Event{LoadID: o.id, Type: EventContentUpdated, Revision: revision, Progress: o.l.progress()})
}

func (o *reportingObserver) OnVolumeReady() {
	o.r.Report(Event{LoadID: o.id, Type: EventVolumeReady, Revision: o.l.revision(), Progress: o.l.progress()})
}

func (o *reportingObserver) OnFailed(err error) {
	o.r.Report(Event{LoadID: o.id, Type: EventFailed, Err: err, Revision: o.l.revision(), Progress: o.l.progress()})
}
