// Package calibrator drives a calibration session: it pairs machine positions with marker
// observations, fits the registration, and writes work offsets back to the machine.
package calibrator

import (
	"context"
	"image"
	"io"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"github.com/jorgerobles/aruco-cnc-registration-sub001/logging"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/machine"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/marker"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/registration"
)

// Observer locates a marker in an image. *marker.Extractor implements it.
type Observer interface {
	Observe(img image.Image, id int) (marker.Observation, error)
}

// Registrar is the part of a registration a session needs.
type Registrar interface {
	registration.PointStore
	registration.Solver
}

// Capture is the result of CapturePoint.
type Capture struct {
	Index           int
	MachinePosition r3.Vector
	Observation     marker.Observation
}

// Session owns a machine link and any other resources handed to it, and closes them together.
type Session struct {
	mu       sync.Mutex
	logger   logging.Logger
	reg      Registrar
	link     machine.Link
	observer Observer
	markerID int
	closers  []io.Closer
	closed   bool
}

// NewSession builds a session. Extra closers, such as the marker detector, are closed with the
// link.
func NewSession(
	reg Registrar,
	link machine.Link,
	observer Observer,
	markerID int,
	logger logging.Logger,
	closers ...io.Closer,
) *Session {
	return &Session{
		logger:   logger,
		reg:      reg,
		link:     link,
		observer: observer,
		markerID: markerID,
		closers:  closers,
	}
}

// CapturePoint reads the machine position, observes the marker in img, and stores the pair.
// Nothing is stored if either side fails.
func (s *Session) CapturePoint(ctx context.Context, img image.Image) (Capture, error) {
	ctx, span := trace.StartSpan(ctx, "calibrator::Session::CapturePoint")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Capture{}, errSessionClosed
	}
	pos, err := s.link.Position(ctx)
	if err != nil {
		return Capture{}, errors.Wrap(err, "reading machine position")
	}
	obs, err := s.observer.Observe(img, s.markerID)
	if err != nil {
		return Capture{}, err
	}
	if err := s.reg.AddCalibrationPoint(pos, obs.CameraPoint, obs.NormalizedPosition); err != nil {
		return Capture{}, err
	}
	c := Capture{Index: s.reg.CalibrationPointsCount() - 1, MachinePosition: pos, Observation: obs}
	s.logger.Infow("captured calibration point",
		"index", c.Index, "machine", pos, "camera", obs.CameraPoint, "marker", obs.MarkerID)
	return c, nil
}

// Locate observes the marker in img and returns where it is in machine coordinates, computing
// the registration first if the points changed.
func (s *Session) Locate(img image.Image) (r3.Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return r3.Vector{}, errSessionClosed
	}
	return s.locate(img)
}

func (s *Session) locate(img image.Image) (r3.Vector, error) {
	obs, err := s.observer.Observe(img, s.markerID)
	if err != nil {
		return r3.Vector{}, err
	}
	if err := s.reg.ComputeRegistration(false); err != nil {
		return r3.Vector{}, err
	}
	return s.reg.TransformPoint(obs.CameraPoint)
}

// ApplyOffset locates the marker in img and moves the origin of work coordinate system cs to it.
func (s *Session) ApplyOffset(ctx context.Context, img image.Image, cs int) (r3.Vector, error) {
	ctx, span := trace.StartSpan(ctx, "calibrator::Session::ApplyOffset")
	defer span.End()

	if err := machine.ValidateCoordinateSystem(cs); err != nil {
		return r3.Vector{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return r3.Vector{}, errSessionClosed
	}
	target, err := s.locate(img)
	if err != nil {
		return r3.Vector{}, err
	}
	if err := s.link.SetWorkOffset(ctx, cs, target); err != nil {
		return r3.Vector{}, err
	}
	rms, _ := s.reg.RegistrationError()
	s.logger.Infow("applied work offset",
		"coordinate_system", machine.CoordinateSystemName(cs), "offset", target, "rms", rms)
	return target, nil
}

// Close closes the link and every extra closer, returning all of their errors.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.link != nil {
		err = multierr.Combine(err, s.link.Close())
	}
	for _, c := range s.closers {
		err = multierr.Combine(err, c.Close())
	}
	return err
}

var errSessionClosed = errors.New("calibration session is closed")
