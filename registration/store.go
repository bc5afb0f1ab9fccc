package registration

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// PointStore holds the ordered calibration correspondences. Indices follow insertion order and
// are compacted on removal.
type PointStore interface {
	AddCalibrationPoint(machinePos, cameraPoint r3.Vector, normPos r2.Point) error
	RemoveCalibrationPoint(index int) error
	ClearCalibrationPoints()
	CalibrationPointsCount() int
	MachinePositions() []r3.Vector
	CameraPoints() []r3.Vector
	CalibrationPoints() []CalibrationPoint
}

// Store is the unsynchronized ordered point set backing a Registration.
type Store struct {
	points []CalibrationPoint
}

// Add validates and appends a correspondence.
func (s *Store) Add(p CalibrationPoint) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.points = append(s.points, p)
	return nil
}

// Remove deletes the point at index, shifting later points down. The store is untouched on error.
func (s *Store) Remove(index int) error {
	if index < 0 || index >= len(s.points) {
		return NewIndexOutOfRangeError(index, len(s.points))
	}
	s.points = append(s.points[:index:index], s.points[index+1:]...)
	return nil
}

// Clear drops every point.
func (s *Store) Clear() {
	s.points = nil
}

// Len returns the number of stored points.
func (s *Store) Len() int {
	return len(s.points)
}

// Points returns a copy of the stored points.
func (s *Store) Points() []CalibrationPoint {
	out := make([]CalibrationPoint, len(s.points))
	copy(out, s.points)
	return out
}

// MachinePositions returns a copy of the machine positions, index aligned with CameraPoints.
func (s *Store) MachinePositions() []r3.Vector {
	out := make([]r3.Vector, len(s.points))
	for i, p := range s.points {
		out[i] = p.MachinePosition
	}
	return out
}

// CameraPoints returns a copy of the camera points, index aligned with MachinePositions.
func (s *Store) CameraPoints() []r3.Vector {
	out := make([]r3.Vector, len(s.points))
	for i, p := range s.points {
		out[i] = p.CameraPoint
	}
	return out
}

func (s *Store) replace(points []CalibrationPoint) {
	s.points = make([]CalibrationPoint, len(points))
	copy(s.points, points)
}
