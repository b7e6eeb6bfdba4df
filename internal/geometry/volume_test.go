package geometry

import (
	"errors"
	"testing"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/imaging"
)

func TestCompute(t *testing.T) {
	slices := []SliceDescriptor{
		axialSlice("c", 2.5),
		axialSlice("a", 0.5),
		coronalSlice("preview"),
		axialSlice("b", 1.5),
	}
	g, sorted, err := Compute(slices)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if g.Width != 4 || g.Height != 3 || g.Depth != 3 {
		t.Fatalf("unexpected size %dx%dx%d", g.Width, g.Height, g.Depth)
	}
	if !IsNear(g.SpacingZ, 1) || !IsNear(g.SpacingX, 0.5) || !IsNear(g.SpacingY, 0.5) {
		t.Fatalf("unexpected spacing %g %g %g", g.SpacingX, g.SpacingY, g.SpacingZ)
	}
	if sorted[0].SourceID != "a" || sorted[2].SourceID != "c" {
		t.Fatalf("unexpected order %v", sorted)
	}
	if g.Axial.Origin != (Vector{0, 0, 0.5}) {
		t.Fatalf("axial plane must be the first sorted slice, got %v", g.Axial.Origin)
	}
}

func TestCompute_Rejects(t *testing.T) {
	withFormat := axialSlice("b", 1)
	withFormat.Format = imaging.Gray8
	withSize := axialSlice("b", 1)
	withSize.Width = 8
	withSpacing := axialSlice("b", 1)
	withSpacing.SpacingX = 0.7
	multiFrame := axialSlice("b", 1)
	multiFrame.Frames = 12

	tests := []struct {
		name   string
		slices []SliceDescriptor
		want   error
	}{
		{"empty", nil, data.ErrBadGeometry},
		{"format", []SliceDescriptor{axialSlice("a", 0), withFormat}, data.ErrIncompatibleImageFormat},
		{"size", []SliceDescriptor{axialSlice("a", 0), withSize}, data.ErrIncompatibleImageSize},
		{"pixel spacing", []SliceDescriptor{axialSlice("a", 0), withSpacing}, data.ErrBadGeometry},
		{"multi-frame", []SliceDescriptor{axialSlice("a", 0), multiFrame}, data.ErrBadGeometry},
		{"no consensus", []SliceDescriptor{
			axialSlice("a", 0), axialSlice("b", 1), coronalSlice("c"), coronalSlice("d"),
		}, data.ErrBadGeometry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Compute(tt.slices)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !data.IsGeometry(err) {
				t.Fatalf("expected a geometry error, got %v", err)
			}
		})
	}
}

func TestVolumeGeometry_DetectSlice(t *testing.T) {
	g, _, err := Compute([]SliceDescriptor{axialSlice("a", 0), axialSlice("b", 2), axialSlice("c", 4)})
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range []Projection{Axial, Coronal, Sagittal} {
		for i := 0; i < g.SliceCount(p); i++ {
			plane := g.SlicePlane(p, i)
			gotP, gotI, ok := g.DetectSlice(plane)
			if !ok || gotP != p || gotI != i {
				t.Fatalf("%s[%d]: detected %s[%d] ok=%v", p, i, gotP, gotI, ok)
			}
		}
	}

	if _, _, ok := g.DetectSlice(g.SlicePlane(Axial, 3)); ok {
		t.Fatalf("expected out of range axial cut to be rejected")
	}
	oblique := NewPlane(Vector{}, Vector{1, 1, 0}, Vector{0, 0, 1})
	if _, _, ok := g.DetectSlice(oblique); ok {
		t.Fatalf("expected oblique cut to be rejected")
	}

	w, h := g.SliceSize(Sagittal)
	if w != 3 || h != 3 {
		t.Fatalf("unexpected sagittal size %dx%d", w, h)
	}
}
