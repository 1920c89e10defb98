package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// RotationForm tells which parameterization a Rotation was built from.
type RotationForm int

const (
	// QuaternionForm rotations hold a unit quaternion.
	QuaternionForm RotationForm = iota
	// MatrixForm rotations hold a 3x3 orthonormal matrix.
	MatrixForm
)

func (f RotationForm) String() string {
	switch f {
	case QuaternionForm:
		return "quaternion"
	case MatrixForm:
		return "matrix"
	default:
		return fmt.Sprintf("RotationForm(%d)", int(f))
	}
}

// Rotation is a camera rotation held in the form it was read or built in, so
// that it is written back in the same form. The zero value is the identity
// quaternion-form rotation.
type Rotation struct {
	form RotationForm
	q    Quaternion
	m    RotationMatrix
	set  bool
}

// NewQuaternionRotation returns a quaternion-form rotation. The quaternion is
// stored as given; Validate reports whether it has unit norm.
func NewQuaternionRotation(q Quaternion) Rotation {
	return Rotation{form: QuaternionForm, q: q, set: true}
}

// NewMatrixRotation returns a matrix-form rotation, stored as given.
func NewMatrixRotation(m RotationMatrix) Rotation {
	return Rotation{form: MatrixForm, m: m, set: true}
}

// Form returns the parameterization of r.
func (r Rotation) Form() RotationForm {
	return r.form
}

// Quaternion returns r as a quaternion, converting from matrix form if needed.
func (r Rotation) Quaternion() Quaternion {
	if !r.set {
		return IdentityQuaternion()
	}
	if r.form == MatrixForm {
		return r.m.Quaternion()
	}
	return r.q
}

// RotationMatrix returns r as a matrix, converting from quaternion form if
// needed.
func (r Rotation) RotationMatrix() RotationMatrix {
	if !r.set {
		return IdentityRotationMatrix()
	}
	if r.form == QuaternionForm {
		return r.q.Normalize().RotationMatrix()
	}
	return r.m
}

// As returns r converted to the given form.
func (r Rotation) As(form RotationForm) Rotation {
	if form == MatrixForm {
		return NewMatrixRotation(r.RotationMatrix())
	}
	return NewQuaternionRotation(r.Quaternion())
}

// Apply rotates v by r.
func (r Rotation) Apply(v r3.Vector) r3.Vector {
	return MatrixMulVec(r.RotationMatrix(), v)
}

// Validate checks that r is a proper rotation within tol.
func (r Rotation) Validate(tol float64) error {
	if !r.set {
		return nil
	}
	switch r.form {
	case QuaternionForm:
		if !r.q.finite() {
			return errors.New("quaternion has non-finite components")
		}
		if n := r.q.Norm(); math.Abs(n-1) > tol {
			return errors.Errorf("quaternion norm %g is not 1 within %g", n, tol)
		}
	case MatrixForm:
		if !r.m.finite() {
			return errors.New("rotation matrix has non-finite elements")
		}
		if e := r.m.OrthonormalityError(); e > tol {
			return errors.Errorf("rotation matrix is not orthonormal (error %g > %g)", e, tol)
		}
		if d := r.m.Det(); math.Abs(d-1) > tol {
			return errors.Errorf("rotation matrix determinant %g is not +1 within %g", d, tol)
		}
	default:
		return errors.Errorf("unknown rotation form %v", r.form)
	}
	return nil
}

// RotationAlmostEqual reports whether a and b describe the same rotation
// within tol, regardless of form.
func RotationAlmostEqual(a, b Rotation, tol float64) bool {
	return QuaternionAlmostEqual(a.Quaternion(), b.Quaternion(), tol)
}

// MatrixMulVec returns m·v.
func MatrixMulVec(m RotationMatrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		Z: m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}
