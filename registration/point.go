package registration

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// CalibrationPoint is one correspondence between a marker seen by the camera and the position the
// machine reported when the image was taken. NormalizedImagePosition is metadata only and never
// enters the fit.
type CalibrationPoint struct {
	MachinePosition         r3.Vector
	CameraPoint             r3.Vector
	NormalizedImagePosition r2.Point
}

// NewCalibrationPoint validates and returns a correspondence.
func NewCalibrationPoint(machinePos, cameraPoint r3.Vector, normPos r2.Point) (CalibrationPoint, error) {
	p := CalibrationPoint{
		MachinePosition:         machinePos,
		CameraPoint:             cameraPoint,
		NormalizedImagePosition: normPos,
	}
	if err := p.Validate(); err != nil {
		return CalibrationPoint{}, err
	}
	return p, nil
}

// Validate checks that every component is finite and the normalized position lies in [0,1]².
func (p CalibrationPoint) Validate() error {
	if !vectorIsFinite(p.MachinePosition) {
		return NewInvalidPointError("machine position", p.MachinePosition)
	}
	if !vectorIsFinite(p.CameraPoint) {
		return NewInvalidPointError("camera point", p.CameraPoint)
	}
	n := p.NormalizedImagePosition
	if !isFinite(n.X) || !isFinite(n.Y) {
		return NewInvalidPointError("normalized image position", n)
	}
	if n.X < 0 || n.X > 1 || n.Y < 0 || n.Y > 1 {
		return NewInvalidPointError("normalized image position outside [0,1]", n)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func vectorIsFinite(v r3.Vector) bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}
