package registration

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// RigidTransform maps camera coordinates to machine coordinates: p_machine = R·p_camera + t.
// Rotation is stored row-major and is always a proper rotation (det = +1).
type RigidTransform struct {
	Rotation    [9]float64
	Translation r3.Vector
}

// IdentityTransform returns the transform that leaves every point where it is.
func IdentityTransform() RigidTransform {
	return RigidTransform{Rotation: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// NewRigidTransform builds a transform from a 3x3 rotation matrix and translation.
func NewRigidTransform(rot mat.Matrix, t r3.Vector) RigidTransform {
	var rt RigidTransform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rt.Rotation[3*i+j] = rot.At(i, j)
		}
	}
	rt.Translation = t
	return rt
}

// At returns the rotation entry at row i, column j.
func (rt RigidTransform) At(i, j int) float64 {
	return rt.Rotation[3*i+j]
}

// RotationDense returns a copy of the rotation as a gonum matrix.
func (rt RigidTransform) RotationDense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, rt.Rotation[:])
	return mat.NewDense(3, 3, data)
}

// Rotate applies only the rotation part to p.
func (rt RigidTransform) Rotate(p r3.Vector) r3.Vector {
	r := rt.Rotation
	return r3.Vector{
		X: r[0]*p.X + r[1]*p.Y + r[2]*p.Z,
		Y: r[3]*p.X + r[4]*p.Y + r[5]*p.Z,
		Z: r[6]*p.X + r[7]*p.Y + r[8]*p.Z,
	}
}

// Apply maps a camera point into machine space.
func (rt RigidTransform) Apply(p r3.Vector) r3.Vector {
	return rt.Rotate(p).Add(rt.Translation)
}

// Inverse returns the machine to camera transform.
func (rt RigidTransform) Inverse() RigidTransform {
	r := rt.Rotation
	inv := RigidTransform{Rotation: [9]float64{
		r[0], r[3], r[6],
		r[1], r[4], r[7],
		r[2], r[5], r[8],
	}}
	inv.Translation = inv.Rotate(rt.Translation).Mul(-1)
	return inv
}

// Determinant returns det(R).
func (rt RigidTransform) Determinant() float64 {
	r := rt.Rotation
	return r[0]*(r[4]*r[8]-r[5]*r[7]) -
		r[1]*(r[3]*r[8]-r[5]*r[6]) +
		r[2]*(r[3]*r[7]-r[4]*r[6])
}

// IsProperRotation reports whether R·Rᵗ = I and det(R) = +1 within tol.
func (rt RigidTransform) IsProperRotation(tol float64) bool {
	if math.Abs(rt.Determinant()-1) > tol {
		return false
	}
	r := rt.RotationDense()
	var rrt mat.Dense
	rrt.Mul(r, r.T())
	return mat.EqualApprox(&rrt, IdentityTransform().RotationDense(), tol)
}

// Quaternion returns the rotation as a unit quaternion with a non-negative real part.
func (rt RigidTransform) Quaternion() quat.Number {
	m := func(i, j int) float64 { return rt.At(i, j) }
	var q quat.Number
	trace := m(0, 0) + m(1, 1) + m(2, 2)
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{
			Real: 0.25 / s,
			Imag: (m(2, 1) - m(1, 2)) * s,
			Jmag: (m(0, 2) - m(2, 0)) * s,
			Kmag: (m(1, 0) - m(0, 1)) * s,
		}
	case m(0, 0) > m(1, 1) && m(0, 0) > m(2, 2):
		s := 2 * math.Sqrt(1+m(0, 0)-m(1, 1)-m(2, 2))
		q = quat.Number{
			Real: (m(2, 1) - m(1, 2)) / s,
			Imag: 0.25 * s,
			Jmag: (m(0, 1) + m(1, 0)) / s,
			Kmag: (m(0, 2) + m(2, 0)) / s,
		}
	case m(1, 1) > m(2, 2):
		s := 2 * math.Sqrt(1+m(1, 1)-m(0, 0)-m(2, 2))
		q = quat.Number{
			Real: (m(0, 2) - m(2, 0)) / s,
			Imag: (m(0, 1) + m(1, 0)) / s,
			Jmag: 0.25 * s,
			Kmag: (m(1, 2) + m(2, 1)) / s,
		}
	default:
		s := 2 * math.Sqrt(1+m(2, 2)-m(0, 0)-m(1, 1))
		q = quat.Number{
			Real: (m(1, 0) - m(0, 1)) / s,
			Imag: (m(0, 2) + m(2, 0)) / s,
			Jmag: (m(1, 2) + m(2, 1)) / s,
			Kmag: 0.25 * s,
		}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// AxisAngle returns the rotation axis and angle in radians. The axis is +Z for the identity.
func (rt RigidTransform) AxisAngle() (r3.Vector, float64) {
	q := rt.Quaternion()
	angle := 2 * math.Acos(math.Min(1, q.Real))
	axis := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	if axis.Norm() < 1e-12 {
		return r3.Vector{Z: 1}, 0
	}
	return axis.Normalize(), angle
}

func (rt RigidTransform) String() string {
	axis, angle := rt.AxisAngle()
	return fmt.Sprintf("R=[%.6f %.6f %.6f; %.6f %.6f %.6f; %.6f %.6f %.6f] t=(%.6f, %.6f, %.6f) rot=%.4f° about (%.4f, %.4f, %.4f)",
		rt.Rotation[0], rt.Rotation[1], rt.Rotation[2],
		rt.Rotation[3], rt.Rotation[4], rt.Rotation[5],
		rt.Rotation[6], rt.Rotation[7], rt.Rotation[8],
		rt.Translation.X, rt.Translation.Y, rt.Translation.Z,
		angle*180/math.Pi, axis.X, axis.Y, axis.Z)
}
