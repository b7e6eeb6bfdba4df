package loader

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/geometry"
	"github.com/tinoosan/volload/internal/oracle"
	"github.com/tinoosan/volload/internal/oracle/objstore"
	"github.com/tinoosan/volload/internal/scheduler"
	"github.com/tinoosan/volload/internal/volume"
)

func newStepLoader(t *testing.T, store objstore.Store, limit int) (*Loader, *stepBackend, *recorder) {
	t.Helper()
	b := &stepBackend{runner: oracle.NewRunner(nil, nil)}
	s := scheduler.New(quietLogger(), b)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	l := New(s, objstore.NewSource(store), Options{ID: "load-1", Limit: limit, Log: quietLogger()})
	rec := newRecorder()
	if err := l.AddObserver(rec); err != nil {
		t.Fatal(err)
	}
	return l, b, rec
}

func TestLoader_FourSlicesLimitTwo(t *testing.T) {
	l, b, rec := newStepLoader(t, storeSeries(t, 4, 1), 2)

	if err := l.LoadSeries("s1"); err != nil {
		t.Fatal(err)
	}
	if len(b.inflight) != 1 || l.Snapshot().Status != data.StatusGeometryPending {
		t.Fatalf("after LoadSeries: %d in flight, status %s", len(b.inflight), l.Snapshot().Status)
	}

	b.finish(t)
	if len(rec.geometry) != 1 {
		t.Fatalf("geometry notifications = %d", len(rec.geometry))
	}
	g := rec.geometry[0]
	if g.Width != 2 || g.Height != 2 || g.Depth != 4 || g.SpacingZ != 1 {
		t.Errorf("geometry = %+v", g)
	}
	if l.Snapshot().Status != data.StatusStreaming {
		t.Errorf("status = %s", l.Snapshot().Status)
	}
	// axial index 0 is the lowest slice, held by the last instance
	if got, want := b.names(), []string{"i3.pam", "i2.pam"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("first fetches = %v, want %v", got, want)
	}

	for n := 1; n <= 4; n++ {
		b.finish(t)
		if got := l.Snapshot().Revision; got != uint64(n) {
			t.Errorf("revision after %d writes = %d", n, got)
		}
		if len(b.inflight) > 2 {
			t.Fatalf("%d fetches in flight", len(b.inflight))
		}
		if n < 4 && rec.ready != 0 {
			t.Fatalf("ready after %d of 4 slices", n)
		}
	}

	snap := l.Snapshot()
	if snap.Status != data.StatusComplete || rec.ready != 1 {
		t.Fatalf("status %s with %d ready notifications", snap.Status, rec.ready)
	}
	if snap.Progress != (Progress{Written: 4, Best: 4, Total: 4}) {
		t.Errorf("progress = %+v", snap.Progress)
	}
	if !reflect.DeepEqual(rec.revisions, []uint64{1, 2, 3, 4}) {
		t.Errorf("content updates = %v", rec.revisions)
	}

	for z := 0; z < 4; z++ {
		e, err := l.ExtractIndex(geometry.Axial, z)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := binary.LittleEndian.Uint16(e.Image.Pix), uint16(4-z); got != want {
			t.Errorf("slice %d holds %d, want %d", z, got, want)
		}
		if e.Revision != 1 {
			t.Errorf("slice %d revision = %d", z, e.Revision)
		}
	}
}

func TestLoader_RejectsInvalidCalls(t *testing.T) {
	l, _, _ := newStepLoader(t, storeSeries(t, 2, 1), 2)

	if err := l.SetSimultaneousDownloads(0); !errors.Is(err, data.ErrInvalidArgument) {
		t.Errorf("zero downloads: err = %v", err)
	}
	if err := l.SetCurrent(0); !errors.Is(err, data.ErrInvalidState) {
		t.Errorf("hint before geometry: err = %v", err)
	}
	if err := l.LoadSeries(""); !errors.Is(err, data.ErrInvalidArgument) {
		t.Errorf("empty id: err = %v", err)
	}
	if e := l.ExtractSlice(geometry.Plane{}); e.Valid {
		t.Error("extraction before geometry is valid")
	}

	if err := l.LoadSeries("s1"); err != nil {
		t.Fatal(err)
	}
	if err := l.LoadSeries("s1"); !errors.Is(err, data.ErrInvalidState) {
		t.Errorf("second load: err = %v", err)
	}
	if err := l.LoadInstance("i0"); !errors.Is(err, data.ErrInvalidState) {
		t.Errorf("instance load on a busy loader: err = %v", err)
	}
	if err := l.SetSimultaneousDownloads(3); !errors.Is(err, data.ErrInvalidState) {
		t.Errorf("downloads while active: err = %v", err)
	}
	if err := l.AddObserver(newRecorder()); !errors.Is(err, data.ErrInvalidState) {
		t.Errorf("late observer: err = %v", err)
	}
}

func TestLoader_MetadataFailure(t *testing.T) {
	l, b, rec := newStepLoader(t, &memStore{objects: map[string][]byte{}}, 2)
	if err := l.LoadSeries("s1"); err != nil {
		t.Fatal(err)
	}
	b.finish(t)

	snap := l.Snapshot()
	if snap.Status != data.StatusFailed || !errors.Is(snap.Err, data.ErrNetwork) {
		t.Fatalf("status %s err %v", snap.Status, snap.Err)
	}
	if len(rec.failures) != 1 || len(rec.geometry) != 0 {
		t.Errorf("failures %v geometry %v", rec.failures, rec.geometry)
	}
	if _, err := l.ExtractIndex(geometry.Axial, 0); !errors.Is(err, data.ErrInvalidState) {
		t.Errorf("extract after geometry failure: err = %v", err)
	}
}

func TestLoader_IrregularSpacingFails(t *testing.T) {
	store := storeSeries(t, 3, 1)
	store.objects["series/s1/instances-tags.json"] = mustJSON(t, map[string]any{
		"i0": sliceTags(0),
		"i1": sliceTags(1),
		"i2": sliceTags(3),
	})
	l, b, rec := newStepLoader(t, store, 2)
	if err := l.LoadSeries("s1"); err != nil {
		t.Fatal(err)
	}
	b.finish(t)
	if snap := l.Snapshot(); snap.Status != data.StatusFailed || !errors.Is(snap.Err, data.ErrBadGeometry) {
		t.Fatalf("status %s err %v", snap.Status, snap.Err)
	}
	if len(b.inflight) != 0 || len(rec.geometry) != 0 {
		t.Errorf("pixel fetches after a geometry failure: %v", b.names())
	}
}

func TestLoader_SliceFailureFreezesVolume(t *testing.T) {
	store := storeSeries(t, 4, 1)
	delete(store.objects, "instances/i2.pam")
	l, b, rec := newStepLoader(t, store, 2)
	_ = l.LoadSeries("s1")
	b.finish(t) // geometry; i3 and i2 in flight

	b.finish(t) // i3 written
	b.finish(t) // i2 missing
	snap := l.Snapshot()
	if snap.Status != data.StatusFailed || len(rec.failures) != 1 {
		t.Fatalf("status %s failures %v", snap.Status, rec.failures)
	}
	if len(b.inflight) != 1 {
		t.Fatalf("in flight = %v", b.names())
	}
	b.finish(t) // dropped while draining
	if got := l.Snapshot(); got.Revision != 1 || got.Progress.Written != 1 {
		t.Errorf("revision %d written %d, want the first slice only", got.Revision, got.Progress.Written)
	}
	e, err := l.ExtractIndex(geometry.Axial, 0)
	if err != nil || binary.LittleEndian.Uint16(e.Image.Pix) != 4 {
		t.Errorf("written slice lost after failure: %v", err)
	}
}

func TestLoader_PriorityHint(t *testing.T) {
	l, b, _ := newStepLoader(t, storeSeries(t, 5, 1), 1)
	_ = l.LoadSeries("s1")
	b.finish(t)
	if got := b.names(); !reflect.DeepEqual(got, []string{"i4.pam"}) {
		t.Fatalf("first fetch = %v", got)
	}

	// extracting the top axial slice moves the strategy there
	top := l.ExtractSlice(rec0Geometry(t, l).SlicePlane(geometry.Axial, 4))
	if !top.Valid || top.Index != 4 || top.Revision != 0 {
		t.Fatalf("extract = %+v", top)
	}
	b.finish(t)
	if got := b.names(); !reflect.DeepEqual(got, []string{"i0.pam"}) {
		t.Errorf("fetch after hint = %v, want the top slice", got)
	}

	if err := l.SetCurrent(2); err != nil {
		t.Fatal(err)
	}
	if err := l.SetCurrent(5); !errors.Is(err, data.ErrInvalidArgument) {
		t.Errorf("hint out of range: err = %v", err)
	}
	b.finish(t)
	if got := b.names(); !reflect.DeepEqual(got, []string{"i2.pam"}) {
		t.Errorf("fetch after SetCurrent = %v", got)
	}
}

func TestLoader_CloseDropsInFlight(t *testing.T) {
	l, b, rec := newStepLoader(t, storeSeries(t, 4, 1), 2)
	_ = l.LoadSeries("s1")
	b.finish(t)
	b.finish(t)
	l.Close()
	b.finish(t)
	b.finish(t)

	if len(b.inflight) != 0 {
		t.Errorf("fetches after close: %v", b.names())
	}
	if rec.ready != 0 || len(rec.failures) != 0 {
		t.Errorf("terminal notification after close")
	}
	if l.Snapshot().Revision != 1 {
		t.Errorf("revision = %d", l.Snapshot().Revision)
	}
	if err := l.LoadSeries("s1"); !errors.Is(err, data.ErrInvalidState) {
		t.Errorf("reload after close: err = %v", err)
	}
	l.Close()
}

func TestLoader_LoadInstance(t *testing.T) {
	store := storeSeries(t, 1, 1)
	store.objects["instances/i0/tags.json"] = mustJSON(t, sliceTags(0))
	l, b, rec := newStepLoader(t, store, 2)
	if err := l.LoadInstance("i0"); err != nil {
		t.Fatal(err)
	}
	b.finish(t)
	b.finish(t)
	if snap := l.Snapshot(); snap.Status != data.StatusComplete || rec.ready != 1 {
		t.Fatalf("status %s ready %d", snap.Status, rec.ready)
	}
	if g := rec.geometry[0]; g.Depth != 1 || g.SpacingZ != 1 {
		t.Errorf("geometry = %+v", g)
	}
}

func TestLoader_MultiFrameInstanceFails(t *testing.T) {
	tags := sliceTags(0)
	tags["0028,0008"] = tag("NumberOfFrames", "12")
	store := &memStore{objects: map[string][]byte{"instances/i0/tags.json": mustJSON(t, tags)}}
	l, b, _ := newStepLoader(t, store, 2)
	_ = l.LoadInstance("i0")
	b.finish(t)
	if snap := l.Snapshot(); !errors.Is(snap.Err, data.ErrBadGeometry) {
		t.Errorf("err = %v", snap.Err)
	}
}

func rec0Geometry(t *testing.T, l *Loader) geometry.VolumeGeometry {
	t.Helper()
	g := l.Snapshot().Geometry
	if g == nil {
		t.Fatal("no geometry")
	}
	return *g
}

func TestQualityOf(t *testing.T) {
	tests := []struct {
		level, max int
		want       volume.Quality
	}{
		{0, 0, volume.QualityBest},
		{0, 2, volume.QualityLow},
		{1, 2, volume.QualityMiddle},
		{2, 2, volume.QualityBest},
		{0, 5, volume.QualityLow},
		{2, 5, volume.QualityLow},
		{3, 5, volume.QualityLow},
		{4, 5, volume.QualityMiddle},
		{5, 5, volume.QualityBest},
	}
	for _, tt := range tests {
		if got := qualityOf(tt.level, tt.max); got != tt.want {
			t.Errorf("qualityOf(%d, %d) = %s, want %s", tt.level, tt.max, got, tt.want)
		}
	}
}
