package loader

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/tinoosan/volload/internal/geometry"
	"github.com/tinoosan/volload/internal/imaging"
	"github.com/tinoosan/volload/internal/oracle"
	"github.com/tinoosan/volload/internal/oracle/objstore"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func tag(name, value string) map[string]string {
	return map[string]string{"Name": name, "Type": "String", "Value": value}
}

// sliceTags describes a 2x2 Gray16 axial slice at height z.
func sliceTags(z float64) map[string]map[string]string {
	return map[string]map[string]string{
		"0028,0010": tag("Rows", "2"),
		"0028,0011": tag("Columns", "2"),
		"0028,0030": tag("PixelSpacing", "1\\1"),
		"0020,0032": tag("ImagePositionPatient", fmt.Sprintf("0\\0\\%g", z)),
		"0020,0037": tag("ImageOrientationPatient", "1\\0\\0\\0\\1\\0"),
	}
}

// series builds n instances "i0".."i{n-1}" stacked top down: instance i
// lies at z = (n-1-i)*spacing, so the stacking order reverses the ids.
func series(t *testing.T, n int, spacing float64) []byte {
	t.Helper()
	all := map[string]any{}
	for i := 0; i < n; i++ {
		all[fmt.Sprintf("i%d", i)] = sliceTags(float64(n-1-i) * spacing)
	}
	return mustJSON(t, all)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// slicePixels fills a 2x2 Gray16 slice with v.
func slicePixels(v uint16) *imaging.Image {
	img := imaging.NewImage(imaging.Gray16, 2, 2)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint16(img.Pix[2*i:], v)
	}
	return img
}

func pam(t *testing.T, img *imaging.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.EncodePAM(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// stretchedJPEG is a web viewer answer for a uniform 8-bit image v
// stretched over [low, high].
func stretchedJPEG(t *testing.T, v uint8, low, high int) []byte {
	t.Helper()
	g := image.NewGray(image.Rect(0, 0, 2, 2))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, g, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(map[string]any{"Orthanc": map[string]any{
		"PixelData":   base64.StdEncoding.EncodeToString(buf.Bytes()),
		"Stretched":   true,
		"Compression": "Jpeg",
		"IsSigned":    false,
		"StretchLow":  low,
		"StretchHigh": high,
	}})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, objstore.ErrNotExist)
	}
	return b, nil
}

// storeSeries lays out n slices where instance i holds the value i+1.
func storeSeries(t *testing.T, n int, spacing float64) *memStore {
	t.Helper()
	s := &memStore{objects: map[string][]byte{
		"series/s1/instances-tags.json": series(t, n, spacing),
	}}
	for i := 0; i < n; i++ {
		s.objects[fmt.Sprintf("instances/i%d.pam", i)] = pam(t, slicePixels(uint16(i+1)))
	}
	return s
}

type dispatched struct {
	h   oracle.Handle
	cmd *oracle.Command
}

// stepBackend runs one command at a time when the test asks for it, so the
// test observes every intermediate state of the pipeline.
type stepBackend struct {
	sink     oracle.Sink
	runner   *oracle.Runner
	inflight []dispatched
}

func (b *stepBackend) Start(sink oracle.Sink) error { b.sink = sink; return nil }
func (b *stepBackend) Do(fn func()) error           { fn(); return nil }
func (b *stepBackend) Stop()                        {}

func (b *stepBackend) Dispatch(h oracle.Handle, cmd *oracle.Command) {
	b.inflight = append(b.inflight, dispatched{h, cmd})
}

// finish executes the oldest in-flight command and delivers its completion.
func (b *stepBackend) finish(t *testing.T) *oracle.Command {
	t.Helper()
	if len(b.inflight) == 0 {
		t.Fatal("nothing in flight")
	}
	d := b.inflight[0]
	b.inflight = b.inflight[1:]
	c := b.runner.Execute(context.Background(), d.cmd)
	if b.sink.Alive(d.h) {
		b.sink.Deliver(d.h, c)
	}
	return d.cmd
}

func (b *stepBackend) names() []string {
	var out []string
	for _, d := range b.inflight {
		out = append(out, strings.TrimPrefix(d.cmd.Name, "slice instances/"))
	}
	return out
}

type recorder struct {
	mu        sync.Mutex
	geometry  []geometry.VolumeGeometry
	revisions []uint64
	ready     int
	failures  []error
	done      chan struct{}
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{}, 1)} }

func (r *recorder) OnGeometryReady(g geometry.VolumeGeometry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.geometry = append(r.geometry, g)
}

func (r *recorder) OnContentUpdated(rev uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revisions = append(r.revisions, rev)
}

func (r *recorder) OnVolumeReady() {
	r.mu.Lock()
	r.ready++
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recorder) OnFailed(err error) {
	r.mu.Lock()
	r.failures = append(r.failures, err)
	r.mu.Unlock()
	r.done <- struct{}{}
}
