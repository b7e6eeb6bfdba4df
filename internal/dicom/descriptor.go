package dicom

import (
	"fmt"

	"github.com/tinoosan/volload/internal/data"
	"github.com/tinoosan/volload/internal/geometry"
	"github.com/tinoosan/volload/internal/imaging"
)

// Descriptor builds the slice descriptor of one instance. Missing position
// or orientation fall back to an axial plane at the origin; missing pixel
// spacing falls back to 1mm.
func Descriptor(instanceID string, t Tags) (geometry.SliceDescriptor, error) {
	rows, okR := t.Int(TagRows)
	cols, okC := t.Int(TagColumns)
	if !okR || !okC {
		return geometry.SliceDescriptor{}, fmt.Errorf("instance %q has no image size: %w", instanceID, data.ErrDecode)
	}

	frames := 1
	if n, ok := t.Int(TagNumberOfFrames); ok {
		frames = n
	}
	if frames <= 0 {
		return geometry.SliceDescriptor{}, fmt.Errorf("instance %q has %d frames: %w", instanceID, frames, data.ErrDecode)
	}

	d := geometry.SliceDescriptor{
		SourceID: instanceID,
		Plane:    geometry.NewPlane(geometry.Vector{}, geometry.Vector{1, 0, 0}, geometry.Vector{0, 1, 0}),
		Width:    cols,
		Height:   rows,
		SpacingX: 1,
		SpacingY: 1,
		Format:   ExpectedFormat(t),
		Frames:   frames,
	}

	// PixelSpacing is row spacing then column spacing
	if ps, ok := t.Floats(TagPixelSpacing); ok && len(ps) == 2 {
		d.SpacingX, d.SpacingY = ps[1], ps[0]
	}

	pos, okP := t.Floats(TagImagePositionPatient)
	ori, okO := t.Floats(TagImageOrientationPatient)
	if okP && okO {
		if len(pos) != 3 || len(ori) != 6 {
			return geometry.SliceDescriptor{}, fmt.Errorf("instance %q has a malformed plane: %w", instanceID, data.ErrDecode)
		}
		d.Plane = geometry.NewPlane(
			geometry.Vector{pos[0], pos[1], pos[2]},
			geometry.Vector{ori[0], ori[1], ori[2]},
			geometry.Vector{ori[3], ori[4], ori[5]},
		)
	}
	return d, nil
}

// ExpectedFormat is the layout the best-quality endpoint returns for the
// instance: color images come as RGB24, grayscale ones as 16-bit.
func ExpectedFormat(t Tags) imaging.Format {
	photometric, _ := t.Lookup(TagPhotometricInterpretation)
	samples, ok := t.Int(TagSamplesPerPixel)
	if !ok {
		samples = 1
	}
	if samples == 3 || (photometric != "" && photometric != "MONOCHROME1" && photometric != "MONOCHROME2") {
		return imaging.RGB24
	}
	if rep, _ := t.Int(TagPixelRepresentation); rep == 1 {
		return imaging.SignedGray16
	}
	return imaging.Gray16
}

// Descriptors builds one descriptor per instance, in input order.
func Descriptors(instances []Instance) ([]geometry.SliceDescriptor, error) {
	out := make([]geometry.SliceDescriptor, 0, len(instances))
	for _, inst := range instances {
		d, err := Descriptor(inst.ID, inst.Tags)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
