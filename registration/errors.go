package registration

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidPoint is returned when a correspondence has a non-finite or out of range component.
	ErrInvalidPoint = errors.New("invalid calibration point")
	// ErrIndexOutOfRange is returned when removing a point that does not exist.
	ErrIndexOutOfRange = errors.New("calibration point index out of range")
	// ErrInsufficientData is returned when fewer than MinPoints correspondences are stored.
	ErrInsufficientData = errors.New("not enough calibration points")
	// ErrDegenerateGeometry is returned when the correspondences are collinear or coincident.
	ErrDegenerateGeometry = errors.New("degenerate calibration geometry")
	// ErrNotRegistered is returned when a transform is requested before a valid fit exists.
	ErrNotRegistered = errors.New("camera is not registered to the machine")
	// ErrPersistenceIO is returned when a registration file cannot be read or written.
	ErrPersistenceIO = errors.New("registration file I/O failed")
	// ErrPersistenceFormat is returned when a registration file is malformed.
	ErrPersistenceFormat = errors.New("malformed registration file")
)

// NewInvalidPointError is used when one of the vectors of a correspondence cannot be stored.
func NewInvalidPointError(field string, value interface{}) error {
	return errors.Wrapf(ErrInvalidPoint, "%s %v", field, value)
}

// NewIndexOutOfRangeError is used when an index does not address a stored point.
func NewIndexOutOfRangeError(index, count int) error {
	return errors.Wrapf(ErrIndexOutOfRange, "index %d with %d points stored", index, count)
}

// NewInsufficientDataError is used when a fit is attempted with too few points.
func NewInsufficientDataError(count int) error {
	return errors.Wrapf(ErrInsufficientData, "need at least %d, have %d", MinPoints, count)
}

// NewNotRegisteredError is used when the transform is missing or stale.
func NewNotRegisteredError(dirty bool) error {
	if dirty {
		return errors.Wrap(ErrNotRegistered, "calibration points changed since the last fit, recompute first")
	}
	return ErrNotRegistered
}

// NewPersistenceIOError wraps a filesystem error for the given registration file.
func NewPersistenceIOError(filename string, err error) error {
	return errors.Wrapf(ErrPersistenceIO, "%s: %v", filename, err)
}

// NewPersistenceFormatError is used when a registration file cannot be decoded.
func NewPersistenceFormatError(msg string, args ...interface{}) error {
	return errors.Wrap(ErrPersistenceFormat, fmt.Sprintf(msg, args...))
}

// DegenerateGeometryError reports a cross-covariance matrix that is too close to singular to give
// a stable rotation.
type DegenerateGeometryError struct {
	ConditionNumber float64
	PointCount      int
}

func (e *DegenerateGeometryError) Error() string {
	if math.IsInf(e.ConditionNumber, 1) {
		return fmt.Sprintf("%v: %d points are coincident", ErrDegenerateGeometry, e.PointCount)
	}
	return fmt.Sprintf("%v: %d points are collinear (condition number %.3g)",
		ErrDegenerateGeometry, e.PointCount, e.ConditionNumber)
}

// Unwrap lets errors.Is match ErrDegenerateGeometry.
func (e *DegenerateGeometryError) Unwrap() error {
	return ErrDegenerateGeometry
}
