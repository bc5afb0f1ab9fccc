// Package machine talks to the motion controller: it reads the machine position that pairs with
// each camera observation and writes work offsets computed from the registration.
package machine

import (
	"context"
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// MinCoordinateSystem and MaxCoordinateSystem bound the work coordinate systems, P1 (G54) through
// P6 (G59).
const (
	MinCoordinateSystem = 1
	MaxCoordinateSystem = 6
)

var (
	// ErrLinkClosed is returned by every operation after Close.
	ErrLinkClosed = errors.New("machine link is closed")
	// ErrCommandRejected is returned when the controller answers a command with an error.
	ErrCommandRejected = errors.New("machine rejected command")
	// ErrBadStatus is returned when a status report cannot be parsed.
	ErrBadStatus = errors.New("malformed machine status")
)

// PositionReader reports the current machine position.
type PositionReader interface {
	Position(ctx context.Context) (r3.Vector, error)
}

// OffsetApplier sets the origin of a work coordinate system, in machine coordinates.
type OffsetApplier interface {
	SetWorkOffset(ctx context.Context, cs int, p r3.Vector) error
}

// Link is a connection to a machine.
type Link interface {
	PositionReader
	OffsetApplier
	Close() error
}

// ValidateCoordinateSystem checks that cs names one of the six work coordinate systems.
func ValidateCoordinateSystem(cs int) error {
	if cs < MinCoordinateSystem || cs > MaxCoordinateSystem {
		return errors.Errorf("coordinate system must be between %d and %d, got %d",
			MinCoordinateSystem, MaxCoordinateSystem, cs)
	}
	return nil
}

// CoordinateSystemName returns the G-code word for cs, e.g. "G54" for 1.
func CoordinateSystemName(cs int) string {
	return fmt.Sprintf("G%d", 53+cs)
}

// WorkOffsetCommand formats the G10 L2 command that moves the origin of cs to p.
func WorkOffsetCommand(cs int, p r3.Vector) (string, error) {
	if err := ValidateCoordinateSystem(cs); err != nil {
		return "", err
	}
	return fmt.Sprintf("G10 L2 P%d X%.4f Y%.4f Z%.4f", cs, p.X, p.Y, p.Z), nil
}
