package geometry

import (
	"fmt"
	"sort"

	"github.com/tinoosan/volload/internal/data"
)

// Two consecutive gaps count as equal when they differ by less than this
// many millimetres. Plane containment uses the same bound.
const spacingTolerance = 0.001

type sortedSlice struct {
	desc  SliceDescriptor
	depth float64
}

// Sorter orders the slices of one series along a common normal.
type Sorter struct {
	slices    []sortedSlice
	normal    Vector
	hasNormal bool
}

func (s *Sorter) AddSlice(d SliceDescriptor) {
	s.slices = append(s.slices, sortedSlice{desc: d})
}

func (s *Sorter) Len() int { return len(s.slices) }

// Slice returns the i-th slice in the current order.
func (s *Sorter) Slice(i int) (SliceDescriptor, error) {
	if i < 0 || i >= len(s.slices) {
		return SliceDescriptor{}, fmt.Errorf("slice %d out of range [0,%d): %w", i, len(s.slices), data.ErrInvalidArgument)
	}
	return s.slices[i].desc, nil
}

// Slices returns a copy of the slices in the current order.
func (s *Sorter) Slices() []SliceDescriptor {
	out := make([]SliceDescriptor, len(s.slices))
	for i := range s.slices {
		out[i] = s.slices[i].desc
	}
	return out
}

// SelectNormal looks for a normal shared by every slice, or by all but one.
// At most three distinct normals are tracked; further ones are ignored so
// the scan stays linear. A series can therefore carry a single frame that is
// not parallel to the others, such as a generated preview.
func (s *Sorter) SelectNormal() (Vector, bool) {
	var candidates []Vector
	var counts []int

	for i := range s.slices {
		n := s.slices[i].desc.Plane.Normal
		add := true
		for j := 0; add && j < len(candidates); j++ {
			if IsParallel(n, candidates[j]) {
				counts[j]++
				add = false
			}
		}
		if add && len(counts) <= 2 {
			candidates = append(candidates, n)
			counts = append(counts, 1)
		}
	}

	total := len(s.slices)
	for i, c := range counts {
		if c == total || c+1 == total {
			return candidates[i], true
		}
	}
	return Vector{}, false
}

// FilterNormal drops the slices that are not parallel to normal.
func (s *Sorter) FilterNormal(normal Vector) {
	kept := s.slices[:0]
	for _, sl := range s.slices {
		if IsParallel(normal, sl.desc.Plane.Normal) {
			kept = append(kept, sl)
		}
	}
	s.slices = kept
}

// SetNormal fixes the stacking direction and computes every slice depth.
func (s *Sorter) SetNormal(normal Vector) {
	for i := range s.slices {
		s.slices[i].depth = s.slices[i].desc.Plane.DepthAlong(normal)
	}
	s.normal = normal
	s.hasNormal = true
}

func (s *Sorter) Normal() (Vector, bool) { return s.normal, s.hasNormal }

// Sort orders the slices by ascending depth. Slices at equal depth keep
// their insertion order.
func (s *Sorter) Sort() error {
	if !s.hasNormal {
		return fmt.Errorf("sort before a normal was set: %w", data.ErrInvalidState)
	}
	sort.SliceStable(s.slices, func(i, j int) bool {
		return s.slices[i].depth < s.slices[j].depth
	})
	return nil
}

// ComputeSpacingBetweenSlices returns the regular gap between consecutive
// sorted slices. A lone slice is given a 1mm thickness.
func (s *Sorter) ComputeSpacingBetweenSlices() (float64, error) {
	if !s.hasNormal {
		return 0, fmt.Errorf("spacing before a normal was set: %w", data.ErrInvalidState)
	}
	if len(s.slices) < 2 {
		return 1, nil
	}
	spacing := s.slices[1].depth - s.slices[0].depth
	if spacing <= spacingTolerance {
		return 0, fmt.Errorf("slices %q and %q overlap: %w",
			s.slices[0].desc.SourceID, s.slices[1].desc.SourceID, data.ErrBadGeometry)
	}
	for i := 2; i < len(s.slices); i++ {
		gap := s.slices[i].depth - s.slices[i-1].depth
		if !IsNearWithin(gap, spacing, spacingTolerance) {
			return 0, fmt.Errorf("irregular spacing at slice %d (%gmm, expected %gmm): %w",
				i, gap, spacing, data.ErrBadGeometry)
		}
	}
	return spacing, nil
}

// LookupSlice finds the slice lying in plane.
func (s *Sorter) LookupSlice(plane Plane) (int, bool) {
	for i := range s.slices {
		if s.slices[i].desc.Plane.Contains(plane) {
			return i, true
		}
	}
	return 0, false
}
