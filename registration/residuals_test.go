package registration

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/jorgerobles/aruco-cnc-registration-sub001/logging"
)

func TestSummarizeResiduals(t *testing.T) {
	s, err := SummarizeResiduals([]float64{3, 0, 4, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Mean, test.ShouldAlmostEqual, 2)
	test.That(t, s.Median, test.ShouldAlmostEqual, 2)
	test.That(t, s.Max, test.ShouldEqual, 4.0)
	test.That(t, s.Worst, test.ShouldEqual, 2)
	test.That(t, s.RMS, test.ShouldAlmostEqual, 2.5495097567963922)

	_, err = SummarizeResiduals(nil)
	test.That(t, errors.Is(err, ErrInsufficientData), test.ShouldBeTrue)
}

func TestRegistrationResidualSummary(t *testing.T) {
	reg := NewRegistration(logging.NewTestLogger(t))
	_, err := reg.ResidualSummary()
	test.That(t, errors.Is(err, ErrNotRegistered), test.ShouldBeTrue)

	// identity with one point pushed 0.4 along Z
	pts := []r3.Vector{{}, {X: 10}, {Y: 10}, {Z: 10}}
	for i, p := range pts {
		machine := p
		if i == 3 {
			machine.Z += 0.4
		}
		test.That(t, reg.AddCalibrationPoint(machine, p, r2.Point{}), test.ShouldBeNil)
	}
	test.That(t, reg.ComputeRegistration(false), test.ShouldBeNil)

	s, err := reg.ResidualSummary()
	test.That(t, err, test.ShouldBeNil)
	rms, _ := reg.RegistrationError()
	test.That(t, s.RMS, test.ShouldAlmostEqual, rms, 1e-9)
	test.That(t, s.Max, test.ShouldBeGreaterThan, s.Median)
	test.That(t, s.Max, test.ShouldBeLessThan, 0.4)
}
