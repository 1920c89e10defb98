package spatialmath

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// RotationMatrix is a row-major 3x3 rotation matrix.
type RotationMatrix [9]float64

// IdentityRotationMatrix returns the matrix of no rotation.
func IdentityRotationMatrix() RotationMatrix {
	return RotationMatrix{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Transpose returns the transpose, which is the inverse of a proper rotation.
func (rm RotationMatrix) Transpose() RotationMatrix {
	var t RotationMatrix
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			t[c*3+r] = rm[r*3+c]
		}
	}
	return t
}

// Dense returns rm as a gonum matrix.
func (rm RotationMatrix) Dense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, rm[:])
	return mat.NewDense(3, 3, data)
}

// Det returns the determinant.
func (rm RotationMatrix) Det() float64 {
	return mat.Det(rm.Dense())
}

// OrthonormalityError returns max |(RᵀR - I)ij|.
func (rm RotationMatrix) OrthonormalityError() float64 {
	var prod mat.Dense
	d := rm.Dense()
	prod.Mul(d.T(), d)
	var worst float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			want := 0.
			if r == c {
				want = 1
			}
			if diff := math.Abs(prod.At(r, c) - want); diff > worst {
				worst = diff
			}
		}
	}
	return worst
}

func (rm RotationMatrix) finite() bool {
	for _, v := range rm {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Quaternion converts a rotation matrix to a unit quaternion with a
// non-negative real part.
// See: https://www.euclideanspace.com/maths/geometry/rotations/conversions/matrixToQuaternion/index.htm
func (rm RotationMatrix) Quaternion() Quaternion {
	m00, m01, m02 := rm[0], rm[1], rm[2]
	m10, m11, m12 := rm[3], rm[4], rm[5]
	m20, m21, m22 := rm[6], rm[7], rm[8]

	var q Quaternion
	switch tr := m00 + m11 + m22; {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = NewQuaternion(0.25*s, (m21-m12)/s, (m02-m20)/s, (m10-m01)/s)
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = NewQuaternion((m21-m12)/s, 0.25*s, (m01+m10)/s, (m02+m20)/s)
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = NewQuaternion((m02-m20)/s, (m01+m10)/s, 0.25*s, (m12+m21)/s)
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = NewQuaternion((m10-m01)/s, (m02+m20)/s, (m12+m21)/s, 0.25*s)
	}
	if q.Real < 0 {
		q = NewQuaternion(-q.Real, -q.Imag, -q.Jmag, -q.Kmag)
	}
	return q.Normalize()
}
