package loader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/geometry"
	"github.com/tinoosan/volload/internal/oracle"
	"github.com/tinoosan/volload/internal/oracle/eventloop"
	"github.com/tinoosan/volload/internal/oracle/threaded"
	"github.com/tinoosan/volload/internal/orthanc"
	"github.com/tinoosan/volload/internal/scheduler"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// fakeOrthanc serves a 4-slice series: previews hold 10 and 20, the
// lossless image of instance iN holds 1000+N.
func fakeOrthanc(t *testing.T) roundTripFunc {
	t.Helper()
	const n = 4
	routes := map[string][]byte{"/series/s1/instances-tags": series(t, n, 2.5)}
	for i := 0; i < n; i++ {
		routes[fmt.Sprintf("/web-viewer/instances/jpeg50-i%d_0", i)] = stretchedJPEG(t, 10, 0, 255)
		routes[fmt.Sprintf("/web-viewer/instances/jpeg90-i%d_0", i)] = stretchedJPEG(t, 20, 0, 255)
		routes[fmt.Sprintf("/instances/i%d/image-uint16", i)] = pam(t, slicePixels(uint16(1000+i)))
	}
	return func(r *http.Request) (*http.Response, error) {
		b, ok := routes[r.URL.Path]
		if !ok {
			return &http.Response{StatusCode: http.StatusNotFound, Header: http.Header{}, Body: io.NopCloser(strings.NewReader("unknown"))}, nil
		}
		h := http.Header{}
		if strings.HasPrefix(r.URL.Path, "/instances/") {
			h.Set("Content-Type", "image/x-portable-arbitrarymap")
		}
		return &http.Response{StatusCode: http.StatusOK, Header: h, Body: io.NopCloser(bytes.NewReader(b))}, nil
	}
}

func TestLoader_StreamsToBestQuality(t *testing.T) {
	base, _ := url.Parse("http://orthanc.test")
	tests := []struct {
		name    string
		backend func(r *oracle.Runner) oracle.Backend
	}{
		{"threaded", func(r *oracle.Runner) oracle.Backend { return threaded.New(quietLogger(), r, 3) }},
		{"eventloop", func(r *oracle.Runner) oracle.Backend { return eventloop.New(quietLogger(), r) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := oracle.NewRunner(base, &http.Client{Transport: fakeOrthanc(t)})
			s := scheduler.New(quietLogger(), tt.backend(runner))
			if err := s.Start(); err != nil {
				t.Fatal(err)
			}
			defer s.Stop()

			l := New(s, &orthanc.Source{Timeout: time.Second}, Options{ID: tt.name, Limit: 2, Log: quietLogger()})
			rec := newRecorder()
			events := make(chan Event, 64)
			_ = l.AddObserver(rec)
			_ = l.AddObserver(ReportTo(tt.name, NewChanReporter(events), l))
			if err := l.LoadSeries("s1"); err != nil {
				t.Fatal(err)
			}

			select {
			case <-rec.done:
			case <-time.After(5 * time.Second):
				t.Fatalf("load did not finish: %+v", l.Snapshot())
			}

			snap := l.Snapshot()
			if snap.Status != data.StatusComplete {
				t.Fatalf("status %s err %v", snap.Status, snap.Err)
			}
			if snap.Progress != (Progress{Written: 4, Best: 4, Total: 4}) {
				t.Errorf("progress = %+v", snap.Progress)
			}
			for z := 0; z < 4; z++ {
				e, _ := l.ExtractIndex(geometry.Axial, z)
				if got, want := binary.LittleEndian.Uint16(e.Image.Pix), uint16(1000+3-z); got != want {
					t.Errorf("slice %d holds %d, want %d", z, got, want)
				}
			}
			if snap.Geometry.SpacingZ != 2.5 {
				t.Errorf("spacing = %g", snap.Geometry.SpacingZ)
			}

			var types []EventType
			for len(events) > 0 {
				types = append(types, (<-events).Type)
			}
			if len(types) < 2 || types[0] != EventGeometryReady || types[len(types)-1] != EventVolumeReady {
				t.Errorf("events = %v", types)
			}
			ready := 0
			for _, ty := range types {
				if ty == EventVolumeReady {
					ready++
				}
			}
			rec.mu.Lock()
			defer rec.mu.Unlock()
			if ready != 1 || rec.ready != 1 {
				t.Errorf("ready notifications: %d events, %d callbacks", ready, rec.ready)
			}
		})
	}
}

func TestLoader_StoppedSchedulerRejectsLoad(t *testing.T) {
	base, _ := url.Parse("http://orthanc.test")
	tests := []struct {
		name    string
		backend func(r *oracle.Runner) oracle.Backend
	}{
		{"threaded", func(r *oracle.Runner) oracle.Backend { return threaded.New(quietLogger(), r, 1) }},
		{"eventloop", func(r *oracle.Runner) oracle.Backend { return eventloop.New(quietLogger(), r) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := oracle.NewRunner(base, &http.Client{Transport: fakeOrthanc(t)})
			s := scheduler.New(quietLogger(), tt.backend(runner))
			if err := s.Start(); err != nil {
				t.Fatal(err)
			}
			s.Stop()

			l := New(s, &orthanc.Source{Timeout: time.Second}, Options{ID: tt.name, Limit: 2, Log: quietLogger()})
			done := make(chan error, 1)
			go func() { done <- l.LoadSeries("s1") }()
			select {
			case err := <-done:
				if !errors.Is(err, data.ErrInvalidState) {
					t.Errorf("LoadSeries = %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("LoadSeries blocked on a stopped scheduler")
			}
			if st := l.Snapshot().Status; st != data.StatusIdle {
				t.Errorf("status = %s", st)
			}
			l.Close()
		})
	}
}
