package spatialmath

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats/scalar"
)

// AlmostEqual reports whether a and b are equal within an absolute or a
// relative tolerance.
func AlmostEqual(a, b, abs, rel float64) bool {
	return scalar.EqualWithinAbsOrRel(a, b, abs, rel)
}

// VectorAlmostEqual compares vectors component-wise with AlmostEqual.
func VectorAlmostEqual(a, b r3.Vector, abs, rel float64) bool {
	return AlmostEqual(a.X, b.X, abs, rel) &&
		AlmostEqual(a.Y, b.Y, abs, rel) &&
		AlmostEqual(a.Z, b.Z, abs, rel)
}

// PointAlmostEqual compares 2D points component-wise with AlmostEqual.
func PointAlmostEqual(a, b r2.Point, abs, rel float64) bool {
	return AlmostEqual(a.X, b.X, abs, rel) && AlmostEqual(a.Y, b.Y, abs, rel)
}

// IsFinite reports whether none of the values is NaN or infinite.
func IsFinite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// VectorIsFinite reports whether every component of v is finite.
func VectorIsFinite(v r3.Vector) bool {
	return IsFinite(v.X, v.Y, v.Z)
}

// IsUnit reports whether |v| is 1 within tol.
func IsUnit(v r3.Vector, tol float64) bool {
	return math.Abs(v.Norm()-1) <= tol
}
