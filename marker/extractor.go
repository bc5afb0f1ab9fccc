package marker

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/jorgerobles/aruco-cnc-registration-sub001/camera"
)

// Observation is one camera-side correspondence. CameraPoint is the reference point in the camera
// frame and is what registration uses; NormalizedPosition is kept as metadata.
type Observation struct {
	MarkerID           int
	CameraPoint        r3.Vector
	NormalizedPosition r2.Point
	// ImagePosition is the reference point in pixels.
	ImagePosition     r2.Point
	Corners           []r2.Point
	ReprojectionError float64
}

// Extractor turns an image into an Observation, either from a single marker or from a grid board
// when Board is set.
type Extractor struct {
	Detector     Detector
	Profile      *camera.Profile
	MarkerLength float64
	// Reference is a corner index or CenterReference.
	Reference int
	Board     *GridBoard
}

// Observe locates marker id (ignored for boards) in img and returns its camera-frame position.
func (e *Extractor) Observe(img image.Image, id int) (Observation, error) {
	if e.Detector == nil {
		return Observation{}, errors.New("extractor has no detector")
	}
	if e.Profile == nil {
		return Observation{}, camera.NewNoIntrinsicsError("extractor has no camera profile")
	}
	if e.Board != nil {
		return e.observeBoard(img)
	}

	m, err := FindMarker(e.Detector, img, id)
	if err != nil {
		return Observation{}, err
	}
	pose, err := EstimateMarkerPose(m, e.MarkerLength, e.Profile)
	if err != nil {
		return Observation{}, err
	}
	objRef := r3.Vector{}
	if e.Reference >= 0 && e.Reference <= 3 {
		c := SquareObjectPoints(e.MarkerLength)[e.Reference]
		objRef = r3.Vector{X: c.X, Y: c.Y}
	}
	ref := ReferencePoint(m, e.Reference)
	return Observation{
		MarkerID:           m.ID,
		CameraPoint:        pose.Apply(objRef),
		NormalizedPosition: Normalize(ref, img.Bounds()),
		ImagePosition:      ref,
		Corners:            m.Corners[:],
		ReprojectionError:  pose.ReprojectionError,
	}, nil
}

func (e *Extractor) observeBoard(img image.Image) (Observation, error) {
	corners, err := e.Board.DetectBoard(e.Detector, img)
	if err != nil {
		return Observation{}, err
	}
	pose, err := e.Board.EstimatePose(corners, e.Profile)
	if err != nil {
		return Observation{}, err
	}
	center := e.Board.Center()
	px := pose.Project(center, e.Profile)
	return Observation{
		MarkerID:           e.Board.FirstID,
		CameraPoint:        pose.Apply(center),
		NormalizedPosition: Normalize(px, img.Bounds()),
		ImagePosition:      px,
		Corners:            corners.Image,
		ReprojectionError:  pose.ReprojectionError,
	}, nil
}
