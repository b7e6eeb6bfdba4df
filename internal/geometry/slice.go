package geometry

import (
	"fmt"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/imaging"
)

// SliceDescriptor describes one acquired 2D slice before any pixel is
// fetched. It is never mutated once built; per-slice revisions live with the
// volume buffer.
type SliceDescriptor struct {
	SourceID string         `json:"sourceId"`
	Plane    Plane          `json:"plane"`
	Width    int            `json:"width"`
	Height   int            `json:"height"`
	SpacingX float64        `json:"spacingX"`
	SpacingY float64        `json:"spacingY"`
	Format   imaging.Format `json:"format"`
	Frames   int            `json:"frames"`
}

// CheckCompatible validates that s can be stacked onto ref in one volume.
func CheckCompatible(ref, s SliceDescriptor) error {
	if !IsParallel(ref.Plane.Normal, s.Plane.Normal) {
		return fmt.Errorf("slice %q is not parallel to %q: %w", s.SourceID, ref.SourceID, data.ErrBadGeometry)
	}
	if ref.Format != s.Format {
		return fmt.Errorf("slice %q is %s, expected %s: %w", s.SourceID, s.Format, ref.Format, data.ErrIncompatibleImageFormat)
	}
	if ref.Width != s.Width || ref.Height != s.Height {
		return fmt.Errorf("slice %q is %dx%d, expected %dx%d: %w",
			s.SourceID, s.Width, s.Height, ref.Width, ref.Height, data.ErrIncompatibleImageSize)
	}
	if !IsNear(ref.SpacingX, s.SpacingX) || !IsNear(ref.SpacingY, s.SpacingY) {
		return fmt.Errorf("slice %q has pixel spacing %gx%g, expected %gx%g: %w",
			s.SourceID, s.SpacingX, s.SpacingY, ref.SpacingX, ref.SpacingY, data.ErrBadGeometry)
	}
	return nil
}
