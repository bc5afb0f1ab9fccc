// Package marker turns camera images into fiducial correspondences: detected ArUco markers or
// grid boards, their pose relative to the camera, and the normalized image position of the
// reference point.
package marker

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// DefaultDictionary is used when no ArUco dictionary is configured.
const DefaultDictionary = "4x4_50"

// CenterReference selects the marker center as the reference point.
const CenterReference = -1

// ErrDetection is returned when the requested markers are not visible in an image.
var ErrDetection = errors.New("marker detection failed")

// NewDetectionError wraps ErrDetection with what was looked for.
func NewDetectionError(msg string, args ...interface{}) error {
	return errors.Wrapf(ErrDetection, msg, args...)
}

// Marker is one decoded fiducial. Corners are in pixels, clockwise from the top-left corner of
// the printed marker.
type Marker struct {
	ID      int
	Corners [4]r2.Point
}

// Center returns the mean of the four corners.
func (m Marker) Center() r2.Point {
	var c r2.Point
	for _, p := range m.Corners {
		c = c.Add(p)
	}
	return c.Mul(0.25)
}

// ReferencePoint returns the pixel used as the marker's position: its center for
// CenterReference, otherwise the corner with that index.
func ReferencePoint(m Marker, corner int) r2.Point {
	if corner < 0 || corner > 3 {
		return m.Center()
	}
	return m.Corners[corner]
}

// Detector finds markers in an image. It returns an error wrapping ErrDetection when no marker
// is found.
type Detector interface {
	Detect(img image.Image) ([]Marker, error)
}

// FindMarker runs det on img and returns the marker with the given id.
func FindMarker(det Detector, img image.Image, id int) (Marker, error) {
	markers, err := det.Detect(img)
	if err != nil {
		return Marker{}, err
	}
	for _, m := range markers {
		if m.ID == id {
			return m, nil
		}
	}
	return Marker{}, NewDetectionError("marker %d not found among %d detected", id, len(markers))
}

// Normalize maps a pixel to [0,1]² relative to the image bounds. Points outside are clamped.
func Normalize(p r2.Point, bounds image.Rectangle) r2.Point {
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return r2.Point{}
	}
	clamp := func(v float64) float64 {
		return math.Max(0, math.Min(1, v))
	}
	return r2.Point{
		X: clamp((p.X - float64(bounds.Min.X)) / float64(bounds.Dx())),
		Y: clamp((p.Y - float64(bounds.Min.Y)) / float64(bounds.Dy())),
	}
}

// SquareObjectPoints returns the corners of a square marker of the given side length in the
// marker's own frame: centered at the origin, X right, Y up, in the same order as Marker.Corners.
func SquareObjectPoints(length float64) [4]r2.Point {
	h := length / 2
	return [4]r2.Point{{X: -h, Y: h}, {X: h, Y: h}, {X: h, Y: -h}, {X: -h, Y: -h}}
}
