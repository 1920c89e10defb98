package spatialmath

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Quaternion is a rotation expressed as a quaternion (W, X, Y, Z). A valid
// rotation quaternion has unit norm.
type Quaternion quat.Number

// NewQuaternion returns the quaternion w + xi + yj + zk.
func NewQuaternion(w, x, y, z float64) Quaternion {
	return Quaternion{Real: w, Imag: x, Jmag: y, Kmag: z}
}

// IdentityQuaternion returns the quaternion of no rotation.
func IdentityQuaternion() Quaternion {
	return Quaternion{Real: 1}
}

// Number returns q as a gonum quaternion.
func (q Quaternion) Number() quat.Number {
	return quat.Number(q)
}

// Norm returns the magnitude of q.
func (q Quaternion) Norm() float64 {
	return quat.Abs(quat.Number(q))
}

// Normalize returns q scaled to unit norm. The zero quaternion is returned
// unchanged.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 {
		return q
	}
	return Quaternion(quat.Scale(1/n, quat.Number(q)))
}

// Components returns W, X, Y, Z in that order.
func (q Quaternion) Components() [4]float64 {
	return [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}
}

func (q Quaternion) finite() bool {
	for _, c := range q.Components() {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// RotationMatrix converts a unit quaternion to its rotation matrix.
// See: https://www.euclideanspace.com/maths/geometry/rotations/conversions/quaternionToMatrix/index.htm
func (q Quaternion) RotationMatrix() RotationMatrix {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return RotationMatrix{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

// QuaternionAlmostEqual reports whether two quaternions describe the same
// rotation within tol. Since q and -q are the same rotation, both signs are
// considered.
func QuaternionAlmostEqual(a, b Quaternion, tol float64) bool {
	return quatWithin(a, b, tol) || quatWithin(a, Quaternion(quat.Scale(-1, quat.Number(b))), tol)
}

func quatWithin(a, b Quaternion, tol float64) bool {
	ac, bc := a.Components(), b.Components()
	for i := range ac {
		if math.Abs(ac[i]-bc[i]) > tol {
			return false
		}
	}
	return true
}
