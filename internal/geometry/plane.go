package geometry

// Projection names the three orthogonal cuts of a volume.
type Projection int

const (
	Axial Projection = iota
	Coronal
	Sagittal
)

func (p Projection) String() string {
	switch p {
	case Axial:
		return "axial"
	case Coronal:
		return "coronal"
	case Sagittal:
		return "sagittal"
	}
	return "unknown"
}

// ParseProjection accepts the lowercase names produced by String.
func ParseProjection(s string) (Projection, bool) {
	switch s {
	case "axial":
		return Axial, true
	case "coronal":
		return Coronal, true
	case "sagittal":
		return Sagittal, true
	}
	return Axial, false
}

// Plane is a 2D coordinate system embedded in 3D: an origin and two
// orthonormal in-plane axes. Normal is AxisX × AxisY.
type Plane struct {
	Origin Vector `json:"origin"`
	AxisX  Vector `json:"axisX"`
	AxisY  Vector `json:"axisY"`
	Normal Vector `json:"normal"`
}

// NewPlane normalizes the axes and derives the normal.
func NewPlane(origin, axisX, axisY Vector) Plane {
	ax := axisX.Normalize()
	ay := axisY.Normalize()
	return Plane{Origin: origin, AxisX: ax, AxisY: ay, Normal: ax.Cross(ay).Normalize()}
}

// DepthAlong is the scalar projection of the origin on normal.
func (p Plane) DepthAlong(normal Vector) float64 { return p.Origin.Dot(normal) }

// Contains reports whether other lies in the same plane as p, whatever the
// in-plane axes.
func (p Plane) Contains(other Plane) bool {
	parallel, _ := ParallelOrOpposite(p.Normal, other.Normal)
	if !parallel {
		return false
	}
	return IsNearWithin(p.Origin.Dot(p.Normal), other.Origin.Dot(p.Normal), spacingTolerance)
}
