package registration

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// MinPoints is the smallest number of correspondences a rigid fit accepts.
	MinPoints = 3
	// DefaultMaxConditionNumber bounds σ₁/σ₂ of the cross-covariance matrix. Collinear points give a
	// rank one matrix and a condition number limited only by rounding.
	DefaultMaxConditionNumber = 1e9
	// coincidentTolerance is the smallest σ₁ accepted, relative to the spread of the points.
	coincidentTolerance = 1e-12
)

// Fit is the result of a least squares rigid alignment.
type Fit struct {
	Transform RigidTransform
	// RMSError is the root mean square distance between R·camera+t and the machine points.
	RMSError float64
	// ConditionNumber is σ₁/σ₂ of the cross-covariance matrix.
	ConditionNumber float64
}

// FitRigidTransform finds the rotation and translation that best maps camera onto machine in the
// least squares sense (Kabsch). The rotation is always proper; a reflection that fits better is
// rejected. maxCondition <= 0 uses DefaultMaxConditionNumber.
func FitRigidTransform(camera, machine []r3.Vector, maxCondition float64) (Fit, error) {
	if len(camera) != len(machine) {
		return Fit{}, errors.Errorf("have %d camera points but %d machine points", len(camera), len(machine))
	}
	n := len(camera)
	if n < MinPoints {
		return Fit{}, NewInsufficientDataError(n)
	}
	if maxCondition <= 0 {
		maxCondition = DefaultMaxConditionNumber
	}

	cam := pointsToDense(camera)
	mach := pointsToDense(machine)
	camCentroid := centroid(cam)
	machCentroid := centroid(mach)
	demean(cam, camCentroid)
	demean(mach, machCentroid)

	// H = Σ (cam_i − c̄_cam)(mach_i − c̄_mach)ᵗ
	var h mat.Dense
	h.Mul(cam.T(), mach)

	var svd mat.SVD
	if ok := svd.Factorize(&h, mat.SVDFull); !ok {
		return Fit{}, errors.New("failed to factorize cross-covariance matrix")
	}
	values := svd.Values(nil)
	spread := math.Max(mat.Norm(cam, 2), mat.Norm(mach, 2))
	if values[0] <= coincidentTolerance*math.Max(1, spread*spread) {
		return Fit{}, &DegenerateGeometryError{ConditionNumber: math.Inf(1), PointCount: n}
	}
	cond := values[0] / values[1]
	if values[1] == 0 || cond > maxCondition {
		if values[1] == 0 {
			cond = math.Inf(1)
		}
		return Fit{}, &DegenerateGeometryError{ConditionNumber: cond, PointCount: n}
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&v, u.T())
	if mat.Det(&rot) < 0 {
		// The best orthogonal matrix is a reflection; flip the axis of the smallest singular value.
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		rot.Mul(&v, u.T())
	}

	rt := NewRigidTransform(&rot, r3.Vector{})
	rt.Translation = machCentroid.Sub(rt.Rotate(camCentroid))

	return Fit{
		Transform:       rt,
		RMSError:        rmsError(rt, camera, machine),
		ConditionNumber: cond,
	}, nil
}

// PointResiduals returns ‖R·camera_i + t − machine_i‖ for every correspondence.
func PointResiduals(rt RigidTransform, camera, machine []r3.Vector) []float64 {
	out := make([]float64, len(camera))
	for i := range camera {
		out[i] = rt.Apply(camera[i]).Distance(machine[i])
	}
	return out
}

func rmsError(rt RigidTransform, camera, machine []r3.Vector) float64 {
	if len(camera) == 0 {
		return 0
	}
	residuals := PointResiduals(rt, camera, machine)
	return math.Sqrt(floats.Dot(residuals, residuals) / float64(len(residuals)))
}

func pointsToDense(pts []r3.Vector) *mat.Dense {
	data := make([]float64, 0, 3*len(pts))
	for _, p := range pts {
		data = append(data, p.X, p.Y, p.Z)
	}
	return mat.NewDense(len(pts), 3, data)
}

func centroid(m *mat.Dense) r3.Vector {
	rows, _ := m.Dims()
	col := make([]float64, rows)
	mean := func(j int) float64 {
		mat.Col(col, j, m)
		return floats.Sum(col) / float64(rows)
	}
	return r3.Vector{X: mean(0), Y: mean(1), Z: mean(2)}
}

func demean(m *mat.Dense, c r3.Vector) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		m.Set(i, 0, m.At(i, 0)-c.X)
		m.Set(i, 1, m.At(i, 1)-c.Y)
		m.Set(i, 2, m.At(i, 2)-c.Z)
	}
}
