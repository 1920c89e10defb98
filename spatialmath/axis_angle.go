package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// R4AA represents an R4 axis angle: a rotation of Theta radians about the
// axis (RX, RY, RZ).
type R4AA struct {
	Theta float64 `json:"th"`
	RX    float64 `json:"x"`
	RY    float64 `json:"y"`
	RZ    float64 `json:"z"`
}

// ToQuat converts an R4 axis angle to a unit quaternion. A zero axis yields
// the identity.
// See: https://www.euclideanspace.com/maths/geometry/rotations/conversions/angleToQuaternion/index.htm
func (r4 R4AA) ToQuat() Quaternion {
	axis := r3.Vector{X: r4.RX, Y: r4.RY, Z: r4.RZ}
	norm := axis.Norm()
	if norm == 0 {
		return IdentityQuaternion()
	}
	axis = axis.Mul(1 / norm)
	sinA := math.Sin(r4.Theta / 2)
	return NewQuaternion(math.Cos(r4.Theta/2), axis.X*sinA, axis.Y*sinA, axis.Z*sinA)
}

// Rotation returns r4 as a quaternion-form Rotation.
func (r4 R4AA) Rotation() Rotation {
	return NewQuaternionRotation(r4.ToQuat())
}
