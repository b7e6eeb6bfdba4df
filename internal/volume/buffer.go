// Package volume holds the shared 3D pixel store that loaders fill and
// renderers read, plus the strategies deciding what to fetch next.
package volume

import (
	"fmt"
	"sync"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/geometry"
	"github.com/tinoosan/volload/internal/imaging"
	"github.com/tinoosan/volload/internal/metrics"
)

// Buffer is a zero-initialized stack of axial slices with a global revision
// and one revision per slice. Writes replace whole slices under the write
// lock, so readers never observe a half-written slice.
type Buffer struct {
	geom   geometry.VolumeGeometry
	format imaging.Format

	mu       sync.RWMutex
	pix      []byte
	revision uint64
	sliceRev []uint64
	quality  []Quality
	written  []bool
}

// NewBuffer allocates the pixels for g.
func NewBuffer(g geometry.VolumeGeometry, f imaging.Format) (*Buffer, error) {
	bpp := f.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("volume of %s pixels: %w", f, data.ErrIncompatibleImageFormat)
	}
	if g.Width <= 0 || g.Height <= 0 || g.Depth <= 0 {
		return nil, fmt.Errorf("volume of %dx%dx%d voxels: %w", g.Width, g.Height, g.Depth, data.ErrBadGeometry)
	}
	return &Buffer{
		geom:     g,
		format:   f,
		pix:      make([]byte, g.Width*g.Height*g.Depth*bpp),
		sliceRev: make([]uint64, g.Depth),
		quality:  make([]Quality, g.Depth),
		written:  make([]bool, g.Depth),
	}, nil
}

func (b *Buffer) Geometry() geometry.VolumeGeometry { return b.geom }

func (b *Buffer) Format() imaging.Format { return b.format }

func (b *Buffer) sliceBytes() int { return b.geom.Width * b.geom.Height * b.format.BytesPerPixel() }

// WriteSlice copies img into the axial slice index if it was never written
// or q is not lower than the quality already recorded for it. It reports whether the write was
// applied; a stale write leaves every revision untouched.
func (b *Buffer) WriteSlice(index int, img *imaging.Image, q Quality) (bool, error) {
	if index < 0 || index >= b.geom.Depth {
		return false, fmt.Errorf("slice %d out of range [0,%d): %w", index, b.geom.Depth, data.ErrInvalidArgument)
	}
	if err := img.Validate(); err != nil {
		return false, fmt.Errorf("slice %d: %w: %w", index, data.ErrDecode, err)
	}
	if img.Format != b.format {
		return false, fmt.Errorf("slice %d is %s, volume is %s: %w", index, img.Format, b.format, data.ErrIncompatibleImageFormat)
	}
	if img.Width != b.geom.Width || img.Height != b.geom.Height {
		return false, fmt.Errorf("slice %d is %dx%d, volume is %dx%d: %w",
			index, img.Width, img.Height, b.geom.Width, b.geom.Height, data.ErrIncompatibleImageSize)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.written[index] && q < b.quality[index] {
		metrics.SliceWrites.WithLabelValues("stale").Inc()
		return false, nil
	}
	n := b.sliceBytes()
	copy(b.pix[index*n:(index+1)*n], img.Pix)
	b.revision++
	b.sliceRev[index]++
	b.quality[index] = q
	b.written[index] = true
	metrics.SliceWrites.WithLabelValues("applied").Inc()
	return true, nil
}

// Revision is bumped on every applied write.
func (b *Buffer) Revision() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.revision
}

// SliceState returns the revision and quality of one axial slice. written
// is false until the first applied write.
func (b *Buffer) SliceState(index int) (revision uint64, q Quality, written bool, err error) {
	if index < 0 || index >= b.geom.Depth {
		return 0, 0, false, fmt.Errorf("slice %d out of range [0,%d): %w", index, b.geom.Depth, data.ErrInvalidArgument)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sliceRev[index], b.quality[index], b.written[index], nil
}

// Progress counts written slices and slices at best quality.
func (b *Buffer) Progress() (written, best int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i, w := range b.written {
		if w {
			written++
			if b.quality[i] == QualityBest {
				best++
			}
		}
	}
	return written, best
}
