package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/geometry"
	"github.com/tinoosan/volload/internal/loader"
	"github.com/tinoosan/volload/internal/metrics"
	"github.com/tinoosan/volload/internal/notify"
	"github.com/tinoosan/volload/internal/repo"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *recordingNotifier) Notify(_ context.Context, m notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, m)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

func seed(t *testing.T, rpo repo.LoadRepo) *data.Load {
	t.Helper()
	l, _, err := rpo.AddWithFingerprint(context.Background(), &data.Load{Kind: data.KindSeries, Source: "s1", Status: data.StatusGeometryPending}, "fp")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return l
}

// TestHandle walks a load through its events and checks that terminal
// records ignore late events.
func TestHandle(t *testing.T) {
	rpo := repo.NewInMemoryLoadRepo()
	l := seed(t, rpo)
	n := &recordingNotifier{}
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)), rpo, nil, n)
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return at }

	r.handle(loader.Event{LoadID: l.ID, Type: loader.EventGeometryReady, Geometry: &geometry.VolumeGeometry{Depth: 4}})
	got, _ := rpo.Get(context.Background(), l.ID)
	if got.Status != data.StatusGeometryReady || got.Slices != 4 || !got.UpdatedAt.Equal(at) {
		t.Fatalf("after geometry: %+v", got)
	}

	r.handle(loader.Event{LoadID: l.ID, Type: loader.EventContentUpdated, Revision: 2, Progress: &loader.Progress{Written: 2, Total: 4}})
	got, _ = rpo.Get(context.Background(), l.ID)
	if got.Status != data.StatusStreaming || got.Revision != 2 || got.Written != 2 {
		t.Fatalf("after content: %+v", got)
	}

	r.handle(loader.Event{LoadID: l.ID, Type: loader.EventFailed, Err: data.ErrNetwork, Revision: 2})
	got, _ = rpo.Get(context.Background(), l.ID)
	if got.Status != data.StatusFailed || got.Error != data.ErrNetwork.Error() {
		t.Fatalf("after failure: %+v", got)
	}

	r.handle(loader.Event{LoadID: l.ID, Type: loader.EventVolumeReady, Revision: 9})
	got, _ = rpo.Get(context.Background(), l.ID)
	if got.Status != data.StatusFailed || got.Revision != 2 {
		t.Fatalf("terminal record changed: %+v", got)
	}

	if n.count() != 3 {
		t.Fatalf("notifications = %d, want 3", n.count())
	}
	if last := n.msgs[2]; last.Type != string(loader.EventFailed) || last.Status != data.StatusFailed || last.LoadID != l.ID {
		t.Errorf("last notification = %+v", last)
	}
}

func TestHandle_RemovedLoad(t *testing.T) {
	n := &recordingNotifier{}
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)), repo.NewInMemoryLoadRepo(), nil, n)
	r.handle(loader.Event{LoadID: "gone", Type: loader.EventVolumeReady})
	if n.count() != 0 {
		t.Error("notified for a removed load")
	}
}

func TestRunConsumesChannel(t *testing.T) {
	rpo := repo.NewInMemoryLoadRepo()
	l := seed(t, rpo)
	events := make(chan loader.Event, 4)
	n := &recordingNotifier{}
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)), rpo, events, n)

	before := testutil.ToFloat64(metrics.LoaderEvents.WithLabelValues("volumeready"))
	r.Run()
	events <- loader.Event{LoadID: l.ID, Type: loader.EventVolumeReady, Revision: 4, Progress: &loader.Progress{Written: 4, Best: 4, Total: 4}}

	deadline := time.Now().Add(2 * time.Second)
	for n.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()

	got, err := rpo.Get(context.Background(), l.ID)
	if err != nil || got.Status != data.StatusComplete || got.Written != 4 {
		t.Fatalf("record %+v err %v", got, err)
	}
	if d := testutil.ToFloat64(metrics.LoaderEvents.WithLabelValues("volumeready")) - before; d != 1 {
		t.Errorf("event counter delta = %v", d)
	}
}

type failingRepo struct{ repo.LoadRepo }

func (failingRepo) Update(context.Context, string, func(*data.Load) error) (*data.Load, error) {
	return nil, errors.New("db down")
}

func TestHandle_RepoError(t *testing.T) {
	n := &recordingNotifier{}
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)), failingRepo{repo.NewInMemoryLoadRepo()}, nil, n)
	r.handle(loader.Event{LoadID: "x", Type: loader.EventContentUpdated})
	if n.count() != 0 {
		t.Error("notified after a failed update")
	}
}
