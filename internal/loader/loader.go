// Package loader drives the progressive load of one volume: it fetches the
// slice metadata, builds the geometry and then streams slice pixels at
// increasing quality into a shared buffer.
package loader

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/dicom"
	"github.com/tinoosan/volload/internal/geometry"
	"github.com/tinoosan/volload/internal/imaging"
	"github.com/tinoosan/volload/internal/metrics"
	"github.com/tinoosan/volload/internal/oracle"
	"github.com/tinoosan/volload/internal/scheduler"
	"github.com/tinoosan/volload/internal/volume"
)

// Source builds the commands of a load. Metadata commands answer with a
// DICOM-as-JSON body; slice commands answer with a decoded image of the
// expected format. Levels is the number of quality levels, the last being
// lossless.
type Source interface {
	SeriesTags(seriesID string) *oracle.Command
	InstanceTags(instanceID string) *oracle.Command
	Slice(instanceID string, expected imaging.Format, level int) (*oracle.Command, error)
	Levels() int
}

type Options struct {
	ID string
	// Limit bounds the slice fetches in flight; 0 selects the scheduler
	// default.
	Limit int
	// Order names the item sorter of the fetching strategy.
	Order string
	// BlockSize is the number of neighbours promoted per quality level.
	BlockSize int
	Log       *slog.Logger
}

// Loader is the progressive volume loader. Its pipeline runs inside the
// loading context of the scheduler; the exported methods enter that context
// themselves and must not be called from an Observer, except ExtractSlice,
// ExtractIndex, SetCurrent and Snapshot which never enter it.
type Loader struct {
	id        string
	sched     *scheduler.Scheduler
	src       Source
	log       *slog.Logger
	observers []Observer

	// guards the fields read by Snapshot
	mu      sync.RWMutex
	status  data.LoadStatus
	limit   int
	order   string
	blockSz int
	geom    *geometry.VolumeGeometry
	slices  []geometry.SliceDescriptor
	err     error
	buffer  atomic.Pointer[volume.Buffer]
	hint    atomic.Int64

	// loading context only
	strategy    *volume.BasicStrategy
	queue       *scheduler.Queue
	outstanding int
	ready       bool
	closed      bool
}

func New(sched *scheduler.Scheduler, src Source, opts Options) *Loader {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = scheduler.DefaultLimit
	}
	blockSz := opts.BlockSize
	if blockSz <= 0 {
		blockSz = volume.DefaultBlockSize
	}
	l := &Loader{
		id:      opts.ID,
		sched:   sched,
		src:     src,
		log:     log.With("load_id", opts.ID),
		status:  data.StatusIdle,
		limit:   limit,
		order:   opts.Order,
		blockSz: blockSz,
	}
	l.hint.Store(-1)
	return l
}

func (l *Loader) ID() string { return l.id }

// AddObserver subscribes o. Observers are fixed once loading starts.
func (l *Loader) AddObserver(o Observer) error {
	if o == nil {
		return fmt.Errorf("observer: %w", data.ErrNullReference)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != data.StatusIdle {
		return fmt.Errorf("add observer to %s loader: %w", l.status, data.ErrInvalidState)
	}
	l.observers = append(l.observers, o)
	return nil
}

// SetSimultaneousDownloads changes the in-flight bound before loading.
func (l *Loader) SetSimultaneousDownloads(n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != data.StatusIdle {
		return fmt.Errorf("set downloads of %s loader: %w", l.status, data.ErrInvalidState)
	}
	if n <= 0 {
		return fmt.Errorf("%d simultaneous downloads: %w", n, data.ErrInvalidArgument)
	}
	l.limit = n
	return nil
}

// LoadSeries starts loading every instance of a series as one volume.
func (l *Loader) LoadSeries(seriesID string) error {
	if seriesID == "" {
		return fmt.Errorf("empty series id: %w", data.ErrInvalidArgument)
	}
	return l.start(func() *oracle.Command {
		return l.src.SeriesTags(seriesID).Then(l.onSeriesTags)
	})
}

// LoadInstance loads a single instance as a one-slice volume.
func (l *Loader) LoadInstance(instanceID string) error {
	if instanceID == "" {
		return fmt.Errorf("empty instance id: %w", data.ErrInvalidArgument)
	}
	return l.start(func() *oracle.Command {
		return l.src.InstanceTags(instanceID).Then(func(s *oracle.Success) error {
			return l.onInstanceTags(instanceID, s)
		})
	})
}

func (l *Loader) start(metadata func() *oracle.Command) error {
	if l.src == nil || l.sched == nil {
		return fmt.Errorf("loader without source or scheduler: %w", data.ErrNullReference)
	}
	var err error
	if derr := l.sched.Do(func() { err = l.startLocked(metadata) }); derr != nil {
		return derr
	}
	return err
}

func (l *Loader) startLocked(metadata func() *oracle.Command) error {
	l.mu.Lock()
	if l.status != data.StatusIdle || l.closed {
		st := l.status
		l.mu.Unlock()
		return fmt.Errorf("load with a %s loader: %w", st, data.ErrInvalidState)
	}
	limit := l.limit
	l.mu.Unlock()

	q, err := l.sched.Register(l.id, limit, l.fail)
	if err != nil {
		return err
	}
	if err := q.Submit(metadata()); err != nil {
		q.Close()
		return err
	}
	l.queue = q
	l.setStatus(data.StatusGeometryPending)
	metrics.ActiveLoads.Inc()
	l.log.Info("load started", "limit", limit)
	return q.Start()
}

func (l *Loader) onSeriesTags(s *oracle.Success) error {
	instances, err := dicom.ParseInstancesTags(s.Body)
	if err != nil {
		return err
	}
	descs, err := dicom.Descriptors(instances)
	if err != nil {
		return err
	}
	return l.setGeometry(descs)
}

func (l *Loader) onInstanceTags(instanceID string, s *oracle.Success) error {
	tags, err := dicom.ParseTags(s.Body)
	if err != nil {
		return err
	}
	d, err := dicom.Descriptor(instanceID, tags)
	if err != nil {
		return err
	}
	return l.setGeometry([]geometry.SliceDescriptor{d})
}

func (l *Loader) setGeometry(descs []geometry.SliceDescriptor) error {
	g, sorted, err := geometry.Compute(descs)
	if err != nil {
		return err
	}
	buf, err := volume.NewBuffer(g, sorted[0].Format)
	if err != nil {
		return err
	}
	levels := l.src.Levels()
	if levels <= 0 {
		return fmt.Errorf("source with %d quality levels: %w", levels, data.ErrInvalidArgument)
	}
	l.mu.RLock()
	order, blockSz, limit := l.order, l.blockSz, l.limit
	l.mu.RUnlock()

	sorter, err := volume.NewItemSorter(order, g.Depth)
	if err != nil {
		return err
	}
	strategy, err := volume.NewBasicStrategy(sorter, levels-1)
	if err != nil {
		return err
	}
	if err := strategy.SetBlockSize(blockSz); err != nil {
		return err
	}
	if err := strategy.SetCurrent(0); err != nil {
		return err
	}

	l.mu.Lock()
	l.geom = &g
	l.slices = sorted
	l.strategy = strategy
	l.status = data.StatusGeometryReady
	l.mu.Unlock()
	l.buffer.Store(buf)

	l.log.Info("geometry ready", "width", g.Width, "height", g.Height, "depth", g.Depth,
		"spacing_z", g.SpacingZ, "format", buf.Format())
	for _, o := range l.observers {
		o.OnGeometryReady(g)
	}

	l.setStatus(data.StatusStreaming)
	for i := 0; i < limit; i++ {
		if err := l.scheduleNext(); err != nil {
			return err
		}
	}
	return nil
}

// quality maps a strategy level onto the quality tiers so that the last
// level is always QualityBest.
func (l *Loader) quality(level int) volume.Quality {
	return qualityOf(level, l.strategy.MaxQuality())
}

// qualityOf aligns the top levels with the tiers. Sources with more levels
// than tiers share QualityLow for their earliest ones.
func qualityOf(level, maxLevel int) volume.Quality {
	q := volume.Quality(int(volume.QualityBest) - (maxLevel - level))
	if q < volume.QualityLow {
		return volume.QualityLow
	}
	return q
}

func (l *Loader) scheduleNext() error {
	if l.currentStatus() != data.StatusStreaming || l.closed {
		return nil
	}
	if hint := l.hint.Swap(-1); hint >= 0 {
		if err := l.strategy.SetCurrent(int(hint)); err != nil {
			l.log.Warn("ignoring priority hint", "index", hint, "err", err)
		}
	}

	item, level, ok := l.strategy.Next()
	if !ok {
		if l.outstanding == 0 {
			l.complete()
		}
		return nil
	}
	d := l.slices[item]
	q := l.quality(level)
	cmd, err := l.src.Slice(d.SourceID, d.Format, level)
	if err != nil {
		return err
	}
	cmd.Then(func(s *oracle.Success) error { return l.onSlice(item, q, s) })
	l.outstanding++
	return l.queue.Submit(cmd)
}

func (l *Loader) onSlice(index int, q volume.Quality, s *oracle.Success) error {
	l.outstanding--
	if s.Image == nil {
		return fmt.Errorf("%s returned no pixels: %w", s.Cmd, data.ErrDecode)
	}
	buf := l.buffer.Load()
	applied, err := buf.WriteSlice(index, s.Image, q)
	if err != nil {
		return err
	}
	if applied {
		rev := buf.Revision()
		for _, o := range l.observers {
			o.OnContentUpdated(rev)
		}
	}
	return l.scheduleNext()
}

func (l *Loader) complete() {
	if l.ready {
		return
	}
	l.ready = true
	l.setStatus(data.StatusComplete)
	metrics.ActiveLoads.Dec()
	l.log.Info("volume ready", "revision", l.revision())
	for _, o := range l.observers {
		o.OnVolumeReady()
	}
}

// fail is the exception handler of the queue: the pipeline is frozen in
// place and already written slices stay visible.
func (l *Loader) fail(err error) {
	if l.closed || l.currentStatus().Terminal() {
		return
	}
	l.mu.Lock()
	l.err = err
	l.status = data.StatusFailed
	l.mu.Unlock()
	metrics.ActiveLoads.Dec()
	for _, o := range l.observers {
		o.OnFailed(err)
	}
}

// Close tears the loader down: queued fetches are discarded and the
// completions of in-flight ones are dropped. Extraction keeps working on
// the pixels loaded so far.
func (l *Loader) Close() {
	closeFn := func() {
		if l.closed {
			return
		}
		l.closed = true
		if l.queue != nil {
			l.queue.Close()
		}
		st := l.currentStatus()
		if st != data.StatusIdle && !st.Terminal() {
			metrics.ActiveLoads.Dec()
		}
		l.log.Info("load closed", "status", st)
	}
	// a stopped scheduler runs no continuation any more
	if err := l.sched.Do(closeFn); err != nil {
		closeFn()
	}
}

// SetCurrent asks the strategy to prioritize the slices around index. It
// takes effect at the next scheduling decision; in-flight fetches are kept.
func (l *Loader) SetCurrent(index int) error {
	l.mu.RLock()
	g := l.geom
	l.mu.RUnlock()
	if g == nil {
		return fmt.Errorf("priority hint before geometry: %w", data.ErrInvalidState)
	}
	if index < 0 || index >= g.Depth {
		return fmt.Errorf("slice %d out of range [0,%d): %w", index, g.Depth, data.ErrInvalidArgument)
	}
	l.hint.Store(int64(index))
	return nil
}

// ExtractSlice cuts the volume along plane with whatever has been loaded so
// far. Extracting an axial slice makes it the current item of the strategy.
func (l *Loader) ExtractSlice(plane geometry.Plane) volume.Extracted {
	buf := l.buffer.Load()
	if buf == nil {
		return volume.Extracted{Plane: plane}
	}
	e := buf.Extract(plane)
	if e.Valid && e.Projection == geometry.Axial {
		l.hint.Store(int64(e.Index))
	}
	return e
}

// ExtractIndex is ExtractSlice addressed by projection and index.
func (l *Loader) ExtractIndex(p geometry.Projection, index int) (volume.Extracted, error) {
	buf := l.buffer.Load()
	if buf == nil {
		return volume.Extracted{}, fmt.Errorf("extract before geometry: %w", data.ErrInvalidState)
	}
	e, err := buf.ExtractIndex(p, index)
	if err != nil {
		return e, err
	}
	if p == geometry.Axial {
		l.hint.Store(int64(index))
	}
	return e, nil
}

// Snapshot is a consistent view of the loader for reporting.
type Snapshot struct {
	ID       string
	Status   data.LoadStatus
	Geometry *geometry.VolumeGeometry
	Progress Progress
	Revision uint64
	Err      error
}

func (l *Loader) Snapshot() Snapshot {
	l.mu.RLock()
	s := Snapshot{ID: l.id, Status: l.status, Geometry: l.geom, Err: l.err}
	l.mu.RUnlock()
	if p := l.progress(); p != nil {
		s.Progress = *p
	}
	s.Revision = l.revision()
	return s
}

func (l *Loader) setStatus(st data.LoadStatus) {
	l.mu.Lock()
	l.status = st
	l.mu.Unlock()
}

func (l *Loader) currentStatus() data.LoadStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

func (l *Loader) progress() *Progress {
	buf := l.buffer.Load()
	if buf == nil {
		return nil
	}
	written, best := buf.Progress()
	return &Progress{Written: written, Best: best, Total: buf.Geometry().Depth}
}

func (l *Loader) revision() uint64 {
	if buf := l.buffer.Load(); buf != nil {
		return buf.Revision()
	}
	return 0
}
