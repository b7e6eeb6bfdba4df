package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/loader"
	"github.com/tinoosan/volload/internal/metrics"
	"github.com/tinoosan/volload/internal/notify"
	"github.com/tinoosan/volload/internal/repo"
)

var errStale = errors.New("load already terminal")

// Reconciler consumes loader events, records them on the load records and
// forwards the updated records to the notifier.
type Reconciler struct {
	repo   repo.LoadRepo
	events <-chan loader.Event
	notify notify.Notifier
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Reconciler; n may be nil.
func New(log *slog.Logger, repo repo.LoadRepo, events <-chan loader.Event, n notify.Notifier) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{repo: repo, events: events, notify: n, log: log, ctx: context.Background(), now: time.Now}
}

// Run starts the reconciliation loop.
func (r *Reconciler) Run() {
	r.stop = make(chan struct{})
	r.ctx, r.cancel = context.WithCancel(r.ctx)
	r.log = r.log.With("operation_id", uuid.NewString())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.stop:
				return
			case e, ok := <-r.events:
				if !ok {
					return
				}
				r.handle(e)
			}
		}
	}()
}

// Stop terminates the reconciliation loop.
func (r *Reconciler) Stop() {
	if r.stop != nil {
		close(r.stop)
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	}
}

func (r *Reconciler) handle(e loader.Event) {
	metrics.LoaderEvents.WithLabelValues(strings.ToLower(string(e.Type))).Inc()

	updated, err := r.repo.Update(r.ctx, e.LoadID, func(l *data.Load) error {
		if l.Status.Terminal() {
			return errStale
		}
		switch e.Type {
		case loader.EventGeometryReady:
			l.Status = data.StatusGeometryReady
			if e.Geometry != nil {
				l.Slices = e.Geometry.Depth
			}
		case loader.EventContentUpdated:
			l.Status = data.StatusStreaming
		case loader.EventVolumeReady:
			l.Status = data.StatusComplete
		case loader.EventFailed:
			l.Status = data.StatusFailed
			if e.Err != nil {
				l.Error = e.Err.Error()
			}
		}
		// events of one load arrive in order, but never move the revision back
		if e.Revision > l.Revision {
			l.Revision = e.Revision
		}
		if e.Progress != nil {
			l.Written = e.Progress.Written
			l.Slices = e.Progress.Total
		}
		l.UpdatedAt = r.now()
		return nil
	})
	switch {
	case errors.Is(err, errStale):
		r.log.Info("ignoring event of terminal load", "id", e.LoadID, "type", e.Type)
		return
	case errors.Is(err, data.ErrNotFound):
		// cancelled loads are deleted while their last events are queued
		r.log.Debug("event for removed load", "id", e.LoadID, "type", e.Type)
		return
	case err != nil:
		r.log.Error("update", "id", e.LoadID, "type", e.Type, "err", err)
		return
	}

	if e.Type == loader.EventContentUpdated {
		r.log.Debug("content updated", "id", e.LoadID, "revision", updated.Revision, "written", updated.Written)
	} else {
		r.log.Info("reconciled event", "id", e.LoadID, "type", e.Type, "status", updated.Status)
	}
	if r.notify == nil {
		return
	}
	if err := r.notify.Notify(r.ctx, notify.FromLoad(string(e.Type), updated)); err != nil {
		r.log.Warn("notify", "id", e.LoadID, "type", e.Type, "err", err)
	}
}
