package geometry

import (
	"fmt"
	"math"

	"github.com/tinoosan/volload/internal/data"
)

// VolumeGeometry is computed once from a sorted, validated slice set and
// never mutated afterwards.
type VolumeGeometry struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Depth    int     `json:"depth"`
	Axial    Plane   `json:"axial"`
	SpacingX float64 `json:"spacingX"`
	SpacingY float64 `json:"spacingY"`
	SpacingZ float64 `json:"spacingZ"`
}

// Compute runs the slice consensus over slices and derives the volume
// geometry. The returned descriptors are in stacking order and exclude the
// outlier slice, if any.
func Compute(slices []SliceDescriptor) (VolumeGeometry, []SliceDescriptor, error) {
	if len(slices) == 0 {
		return VolumeGeometry{}, nil, fmt.Errorf("empty series: %w", data.ErrBadGeometry)
	}

	var s Sorter
	for _, d := range slices {
		if d.Frames > 1 {
			return VolumeGeometry{}, nil, fmt.Errorf("instance %q has %d frames: %w", d.SourceID, d.Frames, data.ErrBadGeometry)
		}
		s.AddSlice(d)
	}

	normal, ok := s.SelectNormal()
	if !ok {
		return VolumeGeometry{}, nil, fmt.Errorf("no normal shared by the slices: %w", data.ErrBadGeometry)
	}
	s.FilterNormal(normal)
	s.SetNormal(normal)
	if err := s.Sort(); err != nil {
		return VolumeGeometry{}, nil, err
	}

	sorted := s.Slices()
	ref := sorted[0]
	for _, d := range sorted[1:] {
		if err := CheckCompatible(ref, d); err != nil {
			return VolumeGeometry{}, nil, err
		}
	}
	if ref.Width <= 0 || ref.Height <= 0 {
		return VolumeGeometry{}, nil, fmt.Errorf("slice %q is %dx%d: %w", ref.SourceID, ref.Width, ref.Height, data.ErrIncompatibleImageSize)
	}
	if ref.SpacingX <= 0 || ref.SpacingY <= 0 {
		return VolumeGeometry{}, nil, fmt.Errorf("slice %q has no pixel spacing: %w", ref.SourceID, data.ErrBadGeometry)
	}

	spacingZ, err := s.ComputeSpacingBetweenSlices()
	if err != nil {
		return VolumeGeometry{}, nil, err
	}

	return VolumeGeometry{
		Width:    ref.Width,
		Height:   ref.Height,
		Depth:    len(sorted),
		Axial:    ref.Plane,
		SpacingX: ref.SpacingX,
		SpacingY: ref.SpacingY,
		SpacingZ: spacingZ,
	}, sorted, nil
}

// far corner of the stack, shared by the coronal and sagittal planes
func (g VolumeGeometry) top() Vector {
	return g.Axial.Origin.Add(g.Axial.Normal.Scale(float64(g.Depth-1) * g.SpacingZ))
}

// Plane returns the reference plane of a projection, at index 0.
func (g VolumeGeometry) Plane(p Projection) Plane {
	switch p {
	case Coronal:
		return NewPlane(g.top(), g.Axial.AxisX, g.Axial.Normal.Scale(-1))
	case Sagittal:
		return NewPlane(g.top(), g.Axial.AxisY, g.Axial.Normal.Scale(-1))
	}
	return g.Axial
}

// SliceCount is the number of cuts available along a projection.
func (g VolumeGeometry) SliceCount(p Projection) int {
	switch p {
	case Coronal:
		return g.Height
	case Sagittal:
		return g.Width
	}
	return g.Depth
}

// SliceSize is the pixel size of a cut along a projection.
func (g VolumeGeometry) SliceSize(p Projection) (width, height int) {
	switch p {
	case Coronal:
		return g.Width, g.Depth
	case Sagittal:
		return g.Height, g.Depth
	}
	return g.Width, g.Height
}

func (g VolumeGeometry) step(p Projection) (Vector, float64) {
	switch p {
	case Coronal:
		return g.Axial.AxisY, g.SpacingY
	case Sagittal:
		return g.Axial.AxisX, g.SpacingX
	}
	return g.Axial.Normal, g.SpacingZ
}

// SlicePlane is the plane of the index-th cut along p.
func (g VolumeGeometry) SlicePlane(p Projection, index int) Plane {
	ref := g.Plane(p)
	dir, spacing := g.step(p)
	ref.Origin = ref.Origin.Add(dir.Scale(float64(index) * spacing))
	return ref
}

// DetectProjection finds the projection whose normal matches plane.
func (g VolumeGeometry) DetectProjection(plane Plane) (Projection, bool) {
	for _, p := range []Projection{Axial, Coronal, Sagittal} {
		if IsParallel(plane.Normal, g.Plane(p).Normal) {
			return p, true
		}
	}
	return Axial, false
}

// DetectSlice maps plane to the nearest cut of the volume. ok is false when
// the plane is oblique or falls outside the volume.
func (g VolumeGeometry) DetectSlice(plane Plane) (Projection, int, bool) {
	p, ok := g.DetectProjection(plane)
	if !ok {
		return p, 0, false
	}
	dir, spacing := g.step(p)
	if spacing <= 0 {
		return p, 0, false
	}
	pos := plane.Origin.Sub(g.Axial.Origin).Dot(dir) / spacing
	idx := int(math.Round(pos))
	if idx < 0 || idx >= g.SliceCount(p) {
		return p, 0, false
	}
	return p, idx, true
}
