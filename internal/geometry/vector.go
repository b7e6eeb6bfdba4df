// Package geometry holds the 3D toolbox used to reach consensus on how a set
// of 2D slices stacks into one volume.
package geometry

import "math"

// Most coordinates come from single-precision DICOM strings, so comparisons
// use ten float32 machine epsilons as the default tolerance.
const epsilon = 10 * 1.1920928955078125e-07

// Vector is a point or direction in patient coordinates (mm).
type Vector [3]float64

func (v Vector) Add(u Vector) Vector { return Vector{v[0] + u[0], v[1] + u[1], v[2] + u[2]} }

func (v Vector) Sub(u Vector) Vector { return Vector{v[0] - u[0], v[1] - u[1], v[2] - u[2]} }

func (v Vector) Scale(s float64) Vector { return Vector{v[0] * s, v[1] * s, v[2] * s} }

func (v Vector) Dot(u Vector) float64 { return v[0]*u[0] + v[1]*u[1] + v[2]*u[2] }

func (v Vector) Norm() float64 { return math.Sqrt(v.Dot(v)) }

func (v Vector) Cross(u Vector) Vector {
	return Vector{
		v[1]*u[2] - v[2]*u[1],
		v[2]*u[0] - v[0]*u[2],
		v[0]*u[1] - v[1]*u[0],
	}
}

// Normalize returns v scaled to unit length. Null vectors are returned as is.
func (v Vector) Normalize() Vector {
	n := v.Norm()
	if IsCloseToZero(n) {
		return v
	}
	return v.Scale(1 / n)
}

// IsNear compares two scalars with the default tolerance.
func IsNear(x, y float64) bool { return IsNearWithin(x, y, epsilon) }

func IsNearWithin(x, y, threshold float64) bool { return math.Abs(x-y) <= threshold }

func IsCloseToZero(x float64) bool { return IsNear(x, 0) }

// ParallelOrOpposite reports whether u and v share a direction. opposite is
// set when they point in opposite senses. Null vectors are never parallel.
func ParallelOrOpposite(u, v Vector) (parallel, opposite bool) {
	nu, nv := u.Norm(), v.Norm()
	if IsCloseToZero(nu) || IsCloseToZero(nv) {
		return false, false
	}
	cos := u.Dot(v) / (nu * nv)
	switch {
	case IsCloseToZero(cos - 1):
		return true, false
	case IsCloseToZero(math.Abs(cos) - 1):
		return true, true
	}
	return false, false
}

// IsParallel is true only for vectors pointing the same way.
func IsParallel(u, v Vector) bool {
	parallel, opposite := ParallelOrOpposite(u, v)
	return parallel && !opposite
}
