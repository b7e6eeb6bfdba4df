package volume

import (
	"fmt"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/geometry"
	"github.com/tinoosan/volload/internal/imaging"
)

// Extracted is a 2D cut of the volume as it was when extracted. Revision is
// the per-slice revision for axial cuts and the global revision otherwise,
// since any slice change alters a coronal or sagittal cut.
type Extracted struct {
	Valid          bool
	Projection     geometry.Projection
	Index          int
	Plane          geometry.Plane
	Revision       uint64
	GlobalRevision uint64
	Image          *imaging.Image
}

// Extract copies the cut lying in plane. An oblique or out-of-volume plane
// yields an invalid result, not an error.
func (b *Buffer) Extract(plane geometry.Plane) Extracted {
	p, idx, ok := b.geom.DetectSlice(plane)
	if !ok {
		return Extracted{Plane: plane}
	}
	e, _ := b.ExtractIndex(p, idx)
	return e
}

// ExtractIndex copies the index-th cut along p.
func (b *Buffer) ExtractIndex(p geometry.Projection, index int) (Extracted, error) {
	g := b.geom
	if index < 0 || index >= g.SliceCount(p) {
		return Extracted{}, fmt.Errorf("%s slice %d out of range [0,%d): %w", p, index, g.SliceCount(p), data.ErrInvalidArgument)
	}
	w, h := g.SliceSize(p)
	out := imaging.NewImage(b.format, w, h)
	bpp := b.format.BytesPerPixel()
	row := g.Width * bpp
	slice := g.Height * row

	b.mu.RLock()
	defer b.mu.RUnlock()

	e := Extracted{
		Valid:          true,
		Projection:     p,
		Index:          index,
		Plane:          g.SlicePlane(p, index),
		Revision:       b.revision,
		GlobalRevision: b.revision,
		Image:          out,
	}

	switch p {
	case geometry.Axial:
		copy(out.Pix, b.pix[index*slice:(index+1)*slice])
		e.Revision = b.sliceRev[index]
	case geometry.Coronal:
		// rows run from the top of the stack down
		for r := 0; r < h; r++ {
			z := g.Depth - 1 - r
			src := b.pix[z*slice+index*row:]
			copy(out.Pix[r*row:(r+1)*row], src[:row])
		}
	case geometry.Sagittal:
		for r := 0; r < h; r++ {
			z := g.Depth - 1 - r
			for c := 0; c < w; c++ {
				src := z*slice + c*row + index*bpp
				copy(out.Pix[(r*w+c)*bpp:(r*w+c+1)*bpp], b.pix[src:src+bpp])
			}
		}
	}
	return e, nil
}
