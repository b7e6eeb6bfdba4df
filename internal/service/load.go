package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/fp"
	"github.com/tinoosan/volload/internal/geometry"
	"github.com/tinoosan/volload/internal/loader"
	"github.com/tinoosan/volload/internal/repo"
	"github.com/tinoosan/volload/internal/scheduler"
	"github.com/tinoosan/volload/internal/volume"
)

// Load is the control surface over load jobs.
type Load interface {
	List(ctx context.Context) (data.Loads, error)
	Get(ctx context.Context, id string) (*data.Load, error)
	// Create starts a load, or returns the existing one for the same
	// source with false.
	Create(ctx context.Context, req CreateRequest) (*data.Load, bool, error)
	Prioritize(ctx context.Context, id string, current int) (*data.Load, error)
	Extract(ctx context.Context, id string, p geometry.Projection, index int) (volume.Extracted, error)
	Geometry(ctx context.Context, id string) (*geometry.VolumeGeometry, error)
	Cancel(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

type CreateRequest struct {
	Kind     data.LoadKind `json:"kind"`
	Source   string        `json:"source"`
	Limit    int           `json:"limit,omitempty"`
	Strategy string        `json:"strategy,omitempty"`
}

// Defaults applies to requests that leave a field empty.
type Defaults struct {
	Limit     int
	Strategy  string
	BlockSize int
}

type pinger interface {
	Ping(ctx context.Context) error
}

// LoadService keeps the live loaders of this process next to their records.
type LoadService struct {
	repo     repo.LoadRepo
	sched    *scheduler.Scheduler
	src      loader.Source
	reporter loader.Reporter
	defaults Defaults
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	loaders map[string]*loader.Loader
	closed  bool
}

func NewLoad(log *slog.Logger, repo repo.LoadRepo, sched *scheduler.Scheduler, src loader.Source, reporter loader.Reporter, defaults Defaults) *LoadService {
	if log == nil {
		log = slog.Default()
	}
	return &LoadService{
		repo:     repo,
		sched:    sched,
		src:      src,
		reporter: reporter,
		defaults: defaults,
		log:      log,
		now:      time.Now,
		loaders:  make(map[string]*loader.Loader),
	}
}

func (s *LoadService) List(ctx context.Context) (data.Loads, error) {
	return s.repo.List(ctx)
}

func (s *LoadService) Get(ctx context.Context, id string) (*data.Load, error) {
	return s.repo.Get(ctx, id)
}

func (s *LoadService) validate(req *CreateRequest) error {
	switch req.Kind {
	case "":
		req.Kind = data.KindSeries
	case data.KindSeries, data.KindInstance:
	default:
		return fmt.Errorf("load kind %q: %w", req.Kind, data.ErrInvalidArgument)
	}
	req.Source = fp.NormalizeSource(req.Source)
	if req.Source == "" {
		return data.ErrBadSource
	}
	if req.Limit < 0 {
		return fmt.Errorf("limit %d: %w", req.Limit, data.ErrInvalidArgument)
	}
	if req.Limit == 0 {
		req.Limit = s.defaults.Limit
	}
	if req.Strategy == "" {
		req.Strategy = s.defaults.Strategy
	}
	if _, err := volume.NewItemSorter(req.Strategy, 1); err != nil {
		return err
	}
	return nil
}

func (s *LoadService) Create(ctx context.Context, req CreateRequest) (*data.Load, bool, error) {
	if err := s.validate(&req); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, false, fmt.Errorf("create load on a closed service: %w", data.ErrInvalidState)
	}

	fprint := fp.Fingerprint(string(req.Kind), req.Source)
	now := s.now()
	rec := &data.Load{Kind: req.Kind, Source: req.Source, Strategy: req.Strategy, Status: data.StatusIdle, CreatedAt: now, UpdatedAt: now}
	saved, created, err := s.repo.AddWithFingerprint(ctx, rec, fprint)
	if err != nil {
		return nil, false, err
	}
	if !created {
		if saved.Status != data.StatusFailed {
			return saved, false, nil
		}
		// a failed load is replaced by a fresh attempt
		if err := s.Cancel(ctx, saved.ID); err != nil && !errors.Is(err, data.ErrNotFound) {
			return nil, false, err
		}
		if saved, created, err = s.repo.AddWithFingerprint(ctx, rec, fprint); err != nil {
			return nil, false, err
		}
		if !created {
			return saved, false, nil
		}
	}

	l := loader.New(s.sched, s.src, loader.Options{
		ID:        saved.ID,
		Limit:     req.Limit,
		Order:     req.Strategy,
		BlockSize: s.defaults.BlockSize,
		Log:       s.log,
	})
	if s.reporter != nil {
		if err := l.AddObserver(loader.ReportTo(saved.ID, s.reporter, l)); err != nil {
			return nil, false, err
		}
	}
	s.mu.Lock()
	if s.closed {
		// Close ran while the record was being stored
		s.mu.Unlock()
		l.Close()
		_ = s.repo.Delete(ctx, saved.ID)
		return nil, false, fmt.Errorf("create load on a closed service: %w", data.ErrInvalidState)
	}
	s.loaders[saved.ID] = l
	s.mu.Unlock()

	if req.Kind == data.KindInstance {
		err = l.LoadInstance(req.Source)
	} else {
		err = l.LoadSeries(req.Source)
	}
	if err != nil {
		s.forget(saved.ID)
		_ = s.repo.Delete(ctx, saved.ID)
		return nil, false, err
	}

	started, err := s.repo.Update(ctx, saved.ID, func(ld *data.Load) error {
		if ld.Status == data.StatusIdle {
			ld.Status = data.StatusGeometryPending
			ld.UpdatedAt = s.now()
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	s.log.Info("load created", "id", saved.ID, "kind", req.Kind, "source", req.Source, "limit", req.Limit)
	return started, true, nil
}

func (s *LoadService) loader(ctx context.Context, id string) (*loader.Loader, error) {
	s.mu.Lock()
	l, ok := s.loaders[id]
	s.mu.Unlock()
	if ok {
		return l, nil
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("load %s has no live loader in this process: %w", id, data.ErrInvalidState)
}

func (s *LoadService) forget(id string) *loader.Loader {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.loaders[id]
	delete(s.loaders, id)
	return l
}

// Prioritize moves the fetching strategy to the slice at current.
func (s *LoadService) Prioritize(ctx context.Context, id string, current int) (*data.Load, error) {
	l, err := s.loader(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := l.SetCurrent(current); err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, id, func(ld *data.Load) error {
		ld.Current = current
		ld.UpdatedAt = s.now()
		return nil
	})
}

func (s *LoadService) Extract(ctx context.Context, id string, p geometry.Projection, index int) (volume.Extracted, error) {
	l, err := s.loader(ctx, id)
	if err != nil {
		return volume.Extracted{}, err
	}
	return l.ExtractIndex(p, index)
}

func (s *LoadService) Geometry(ctx context.Context, id string) (*geometry.VolumeGeometry, error) {
	l, err := s.loader(ctx, id)
	if err != nil {
		return nil, err
	}
	g := l.Snapshot().Geometry
	if g == nil {
		return nil, fmt.Errorf("load %s: geometry not ready: %w", id, data.ErrInvalidState)
	}
	return g, nil
}

// Cancel tears the loader down and removes the record.
func (s *LoadService) Cancel(ctx context.Context, id string) error {
	if l := s.forget(id); l != nil {
		l.Close()
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("load cancelled", "id", id)
	return nil
}

// Recover marks the records left unfinished by a previous process as
// failed: their loaders did not survive it.
func (s *LoadService) Recover(ctx context.Context) (int, error) {
	loads, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ld := range loads {
		s.mu.Lock()
		_, live := s.loaders[ld.ID]
		s.mu.Unlock()
		if live || ld.Status.Terminal() {
			continue
		}
		if _, err := s.repo.Update(ctx, ld.ID, func(ld *data.Load) error {
			ld.Status = data.StatusFailed
			ld.Error = "interrupted by restart"
			ld.UpdatedAt = s.now()
			return nil
		}); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.log.Warn("marked interrupted loads as failed", "count", n)
	}
	return n, nil
}

// Ping reports whether the repository is reachable.
func (s *LoadService) Ping(ctx context.Context) error {
	if p, ok := s.repo.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close tears down every live loader. Records are kept.
func (s *LoadService) Close() {
	s.mu.Lock()
	s.closed = true
	loaders := s.loaders
	s.loaders = make(map[string]*loader.Loader)
	s.mu.Unlock()
	for _, l := range loaders {
		l.Close()
	}
}

var _ Load = (*LoadService)(nil)
