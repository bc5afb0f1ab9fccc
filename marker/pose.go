package marker

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/jorgerobles/aruco-cnc-registration-sub001/camera"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/registration"
)

// Pose is the transform from a planar target's frame into the camera frame. Its translation is
// the target origin as seen by the camera, in the units of the object points.
type Pose struct {
	registration.RigidTransform
	// ReprojectionError is the RMS pixel distance between the observed and reprojected points.
	ReprojectionError float64
}

// EstimatePose recovers the pose of a planar target (all object points at Z=0) from its image
// points. Image points are undistorted with the profile before the homography is fitted.
func EstimatePose(object, imagePts []r2.Point, profile *camera.Profile) (Pose, error) {
	if profile == nil {
		return Pose{}, camera.NewNoIntrinsicsError("pose estimation needs a camera profile")
	}
	if len(object) != len(imagePts) {
		return Pose{}, errors.Errorf("have %d object points but %d image points", len(object), len(imagePts))
	}
	ideal := make([]r2.Point, len(imagePts))
	for i, p := range imagePts {
		ideal[i] = profile.UndistortPixel(p)
	}

	h, err := EstimateHomography(object, ideal)
	if err != nil {
		return Pose{}, err
	}

	// In normalized coordinates H = λ[r1 r2 t].
	h1, h2, h3 := columnVec(h, 0), columnVec(h, 1), columnVec(h, 2)
	lambda := 2 / (h1.Norm() + h2.Norm())
	if h3.Z*lambda < 0 {
		// the target must be in front of the camera
		lambda = -lambda
	}
	r1 := h1.Mul(lambda)
	r2v := h2.Mul(lambda)
	r3v := r1.Cross(r2v)
	t := h3.Mul(lambda)

	approx := mat.NewDense(3, 3, []float64{
		r1.X, r2v.X, r3v.X,
		r1.Y, r2v.Y, r3v.Y,
		r1.Z, r2v.Z, r3v.Z,
	})
	rot, err := nearestRotation(approx)
	if err != nil {
		return Pose{}, err
	}

	pose := Pose{RigidTransform: registration.NewRigidTransform(rot, t)}
	pose.ReprojectionError = reprojectionError(pose.RigidTransform, object, imagePts, profile)
	return pose, nil
}

// EstimateMarkerPose recovers the pose of a single square marker of the given side length. The
// translation is the marker center.
func EstimateMarkerPose(m Marker, length float64, profile *camera.Profile) (Pose, error) {
	if length <= 0 {
		return Pose{}, errors.Errorf("marker length must be positive, got %v", length)
	}
	obj := SquareObjectPoints(length)
	return EstimatePose(obj[:], m.Corners[:], profile)
}

// Project maps a point in the target frame to a pixel using the pose and the profile.
func (p Pose) Project(objectPt r3.Vector, profile *camera.Profile) r2.Point {
	c := p.Apply(objectPt)
	return profile.DistortNormalized(r2.Point{X: c.X / c.Z, Y: c.Y / c.Z})
}

func columnVec(h Homography, j int) r3.Vector {
	c := h.Column(j)
	return r3.Vector{X: c[0], Y: c[1], Z: c[2]}
}

// nearestRotation returns the proper rotation closest to m in the Frobenius norm.
func nearestRotation(m *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize rotation estimate")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var rot mat.Dense
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		rot.Mul(&u, v.T())
	}
	return &rot, nil
}

func reprojectionError(rt registration.RigidTransform, object, imagePts []r2.Point, profile *camera.Profile) float64 {
	pose := Pose{RigidTransform: rt}
	var sum float64
	for i, o := range object {
		d := pose.Project(r3.Vector{X: o.X, Y: o.Y}, profile).Sub(imagePts[i])
		sum += d.X*d.X + d.Y*d.Y
	}
	return math.Sqrt(sum / float64(len(object)))
}
