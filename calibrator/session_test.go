package calibrator

import (
	"context"
	"image"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/jorgerobles/aruco-cnc-registration-sub001/logging"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/machine"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/marker"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/registration"
)

// fakeObserver sees a marker fixed to the spindle: its camera position follows the machine.
type fakeObserver struct {
	link          *machine.FakeLink
	machineToCam  registration.RigidTransform
	err           error
	observedCalls int
}

func (f *fakeObserver) Observe(img image.Image, id int) (marker.Observation, error) {
	f.observedCalls++
	if f.err != nil {
		return marker.Observation{}, f.err
	}
	pos, err := f.link.Position(context.Background())
	if err != nil {
		return marker.Observation{}, err
	}
	return marker.Observation{MarkerID: id, CameraPoint: f.machineToCam.Apply(pos)}, nil
}

type errCloser struct {
	err    error
	closed int
}

func (c *errCloser) Close() error {
	c.closed++
	return c.err
}

func newTestSession(t *testing.T) (*Session, *machine.FakeLink, *fakeObserver, *registration.Registration) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	link := machine.NewFakeLink(r3.Vector{})
	rot := mat.NewDense(3, 3, []float64{0, -1, 0, 1, 0, 0, 0, 0, 1})
	obs := &fakeObserver{link: link, machineToCam: registration.NewRigidTransform(rot, r3.Vector{X: 5, Y: -40, Z: 250})}
	reg := registration.NewRegistration(logger)
	return NewSession(reg, link, obs, 7, logger), link, obs, reg
}

func TestSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	s, link, _, reg := newTestSession(t)

	_, err := s.Locate(img)
	test.That(t, errors.Is(err, registration.ErrInsufficientData), test.ShouldBeTrue)

	for i, p := range []r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 100, Y: 0, Z: 0}, {X: 0, Y: 80, Z: 0}, {X: 30, Y: 20, Z: -15}} {
		link.MoveTo(p)
		c, err := s.CapturePoint(ctx, img)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, c.Index, test.ShouldEqual, i)
		test.That(t, c.MachinePosition, test.ShouldResemble, p)
		test.That(t, c.Observation.MarkerID, test.ShouldEqual, 7)
	}
	test.That(t, reg.CalibrationPointsCount(), test.ShouldEqual, 4)
	test.That(t, reg.IsRegistered(), test.ShouldBeFalse)

	target := r3.Vector{X: 42, Y: 17, Z: -3}
	link.MoveTo(target)
	got, err := s.Locate(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Distance(target), test.ShouldBeLessThan, 1e-9)
	test.That(t, reg.IsRegistered(), test.ShouldBeTrue)

	got, err = s.ApplyOffset(ctx, img, 1)
	test.That(t, err, test.ShouldBeNil)
	off, ok := link.WorkOffset(1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, off, test.ShouldResemble, got)
	test.That(t, off.Distance(target), test.ShouldBeLessThan, 1e-9)

	_, err = s.ApplyOffset(ctx, img, 7)
	test.That(t, err, test.ShouldNotBeNil)
	_, ok = link.WorkOffset(7)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestCaptureFailuresStoreNothing(t *testing.T) {
	ctx := context.Background()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	s, link, obs, reg := newTestSession(t)

	link.PositionErr = errors.New("serial gone")
	_, err := s.CapturePoint(ctx, img)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "serial gone")
	test.That(t, obs.observedCalls, test.ShouldEqual, 0)
	link.PositionErr = nil

	obs.err = marker.NewDetectionError("marker 7 not found")
	_, err = s.CapturePoint(ctx, img)
	test.That(t, errors.Is(err, marker.ErrDetection), test.ShouldBeTrue)
	test.That(t, reg.CalibrationPointsCount(), test.ShouldEqual, 0)
}

func TestSessionClose(t *testing.T) {
	logger := logging.NewTestLogger(t)
	link := machine.NewFakeLink(r3.Vector{})
	good := &errCloser{}
	bad := &errCloser{err: errors.New("detector busy")}
	s := NewSession(registration.NewRegistration(logger), link, &fakeObserver{link: link}, 0, logger, good, bad)

	err := s.Close()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "detector busy")
	test.That(t, good.closed, test.ShouldEqual, 1)
	test.That(t, bad.closed, test.ShouldEqual, 1)

	test.That(t, s.Close(), test.ShouldBeNil)
	test.That(t, good.closed, test.ShouldEqual, 1)

	_, err = s.CapturePoint(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = link.Position(context.Background())
	test.That(t, err, test.ShouldBeError, machine.ErrLinkClosed)
}
