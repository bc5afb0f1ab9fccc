package registration

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

// rotationFromAxisAngle builds a proper rotation with Rodrigues' formula.
func rotationFromAxisAngle(axis r3.Vector, angle float64) RigidTransform {
	k := axis.Normalize()
	c, s := math.Cos(angle), math.Sin(angle)
	v := 1 - c
	return RigidTransform{Rotation: [9]float64{
		c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s,
		k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s,
		k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v,
	}}
}

func applyAll(rt RigidTransform, pts []r3.Vector) []r3.Vector {
	out := make([]r3.Vector, len(pts))
	for i, p := range pts {
		out[i] = rt.Apply(p)
	}
	return out
}

func expectTransformsAlmostEqual(t *testing.T, got, want RigidTransform, tol float64) {
	t.Helper()
	for i := range want.Rotation {
		test.That(t, got.Rotation[i], test.ShouldAlmostEqual, want.Rotation[i], tol)
	}
	test.That(t, got.Translation.X, test.ShouldAlmostEqual, want.Translation.X, tol)
	test.That(t, got.Translation.Y, test.ShouldAlmostEqual, want.Translation.Y, tol)
	test.That(t, got.Translation.Z, test.ShouldAlmostEqual, want.Translation.Z, tol)
}

func TestFitQuarterTurnAboutZ(t *testing.T) {
	camera := []r3.Vector{{}, {X: 1}, {Y: 1}}
	machine := []r3.Vector{{X: 10}, {X: 10, Y: 1}, {X: 9}}

	fit, err := FitRigidTransform(camera, machine, 0)
	test.That(t, err, test.ShouldBeNil)

	want := RigidTransform{
		Rotation:    [9]float64{0, -1, 0, 1, 0, 0, 0, 0, 1},
		Translation: r3.Vector{X: 10},
	}
	expectTransformsAlmostEqual(t, fit.Transform, want, 1e-9)
	test.That(t, fit.RMSError, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, fit.Transform.Determinant(), test.ShouldAlmostEqual, 1, 1e-12)
}

func TestFitRecoversRandomTransforms(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		axis := r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		want := rotationFromAxisAngle(axis, (rng.Float64()*2-1)*math.Pi)
		want.Translation = r3.Vector{X: rng.Float64() * 500, Y: rng.Float64() * 500, Z: rng.Float64() * 100}

		n := 3 + rng.Intn(20)
		camera := make([]r3.Vector, n)
		for i := range camera {
			camera[i] = r3.Vector{X: rng.Float64() * 200, Y: rng.Float64() * 200, Z: rng.Float64() * 50}
		}
		fit, err := FitRigidTransform(camera, applyAll(want, camera), 0)
		test.That(t, err, test.ShouldBeNil)
		expectTransformsAlmostEqual(t, fit.Transform, want, 1e-6)
		test.That(t, fit.RMSError, test.ShouldBeLessThan, 1e-6)
		test.That(t, fit.Transform.IsProperRotation(1e-9), test.ShouldBeTrue)
	}
}

func TestFitPlanarPointsStayProper(t *testing.T) {
	// Coplanar points leave the third singular vector's sign free, so the uncorrected
	// solution can come out as a reflection across the plane.
	camera := []r3.Vector{{}, {X: 40}, {Y: 30}, {X: 40, Y: 30}, {X: 20, Y: 15}}
	want := rotationFromAxisAngle(r3.Vector{X: 1, Y: 2, Z: 3}, 2.1)
	want.Translation = r3.Vector{X: -5, Y: 12, Z: 7}

	fit, err := FitRigidTransform(camera, applyAll(want, camera), 0)
	test.That(t, err, test.ShouldBeNil)
	expectTransformsAlmostEqual(t, fit.Transform, want, 1e-9)
	test.That(t, fit.Transform.Determinant(), test.ShouldAlmostEqual, 1, 1e-12)
}

func TestFitMirroredPointsCorrectsReflection(t *testing.T) {
	camera := []r3.Vector{{}, {X: 1}, {Y: 1}, {Z: 1}}
	// mirror image through the YZ plane: only a reflection maps these exactly
	machine := []r3.Vector{{}, {X: -1}, {Y: 1}, {Z: 1}}

	fit, err := FitRigidTransform(camera, machine, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fit.Transform.Determinant(), test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, fit.Transform.IsProperRotation(1e-9), test.ShouldBeTrue)
	// the best proper rotation cannot reproduce a mirror image
	test.That(t, fit.RMSError, test.ShouldBeGreaterThan, 0.1)
}

func TestFitRejectsDegenerateGeometry(t *testing.T) {
	t.Run("collinear", func(t *testing.T) {
		camera := []r3.Vector{{}, {X: 1, Y: 1, Z: 1}, {X: 2, Y: 2, Z: 2}}
		machine := []r3.Vector{{X: 5}, {X: 6, Y: 1, Z: 1}, {X: 7, Y: 2, Z: 2}}
		_, err := FitRigidTransform(camera, machine, 0)
		test.That(t, errors.Is(err, ErrDegenerateGeometry), test.ShouldBeTrue)

		var degenerate *DegenerateGeometryError
		test.That(t, errors.As(err, &degenerate), test.ShouldBeTrue)
		test.That(t, degenerate.PointCount, test.ShouldEqual, 3)
		test.That(t, degenerate.ConditionNumber, test.ShouldBeGreaterThan, DefaultMaxConditionNumber)
	})

	t.Run("coincident", func(t *testing.T) {
		camera := []r3.Vector{{X: 3, Y: 3, Z: 3}, {X: 3, Y: 3, Z: 3}, {X: 3, Y: 3, Z: 3}}
		machine := []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: 1, Y: 2, Z: 3}, {X: 1, Y: 2, Z: 3}}
		_, err := FitRigidTransform(camera, machine, 0)
		test.That(t, errors.Is(err, ErrDegenerateGeometry), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "coincident")
	})

	t.Run("too few", func(t *testing.T) {
		_, err := FitRigidTransform([]r3.Vector{{}, {X: 1}}, []r3.Vector{{}, {X: 1}}, 0)
		test.That(t, errors.Is(err, ErrInsufficientData), test.ShouldBeTrue)
	})

	t.Run("mismatched", func(t *testing.T) {
		_, err := FitRigidTransform([]r3.Vector{{}, {X: 1}, {Y: 1}}, []r3.Vector{{}}, 0)
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestFitNoisyResidual(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	want := rotationFromAxisAngle(r3.Vector{Z: 1}, 0.3)
	want.Translation = r3.Vector{X: 100, Y: 50}

	camera := make([]r3.Vector, 30)
	machine := make([]r3.Vector, 30)
	const sigma = 0.05
	for i := range camera {
		camera[i] = r3.Vector{X: rng.Float64() * 100, Y: rng.Float64() * 100, Z: rng.Float64() * 5}
		noise := r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}.Mul(sigma)
		machine[i] = want.Apply(camera[i]).Add(noise)
	}
	fit, err := FitRigidTransform(camera, machine, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fit.RMSError, test.ShouldBeGreaterThan, 0)
	test.That(t, fit.RMSError, test.ShouldBeLessThan, 3*sigma)
	test.That(t, fit.Transform.Translation.Distance(want.Translation), test.ShouldBeLessThan, 0.5)
}

func TestRigidTransformInverse(t *testing.T) {
	rt := rotationFromAxisAngle(r3.Vector{X: 1, Y: -1, Z: 0.5}, 1.2)
	rt.Translation = r3.Vector{X: 3, Y: -4, Z: 5}

	p := r3.Vector{X: 7, Y: 8, Z: 9}
	back := rt.Inverse().Apply(rt.Apply(p))
	test.That(t, back.Distance(p), test.ShouldBeLessThan, 1e-12)

	q := rt.Quaternion()
	test.That(t, q.Real, test.ShouldBeGreaterThanOrEqualTo, 0)
	axis, angle := rt.AxisAngle()
	test.That(t, angle, test.ShouldAlmostEqual, 1.2, 1e-9)
	test.That(t, axis.Dot(r3.Vector{X: 1, Y: -1, Z: 0.5}.Normalize()), test.ShouldAlmostEqual, 1, 1e-9)

	test.That(t, IdentityTransform().IsProperRotation(0), test.ShouldBeTrue)
	mirrored := RigidTransform{Rotation: [9]float64{-1, 0, 0, 0, 1, 0, 0, 0, 1}}
	test.That(t, mirrored.IsProperRotation(1e-9), test.ShouldBeFalse)
	// det +1 but not orthonormal
	sheared := RigidTransform{Rotation: [9]float64{1, 0.5, 0, 0, 1, 0, 0, 0, 1}}
	test.That(t, sheared.Determinant(), test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, sheared.IsProperRotation(1e-9), test.ShouldBeFalse)

	dense := rt.RotationDense()
	test.That(t, dense.At(1, 2), test.ShouldEqual, rt.At(1, 2))
	dense.Set(0, 0, 42)
	test.That(t, rt.At(0, 0), test.ShouldNotEqual, 42.0)
}
