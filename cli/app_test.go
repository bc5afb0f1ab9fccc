package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/jorgerobles/aruco-cnc-registration-sub001/logging"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/registration"
)

type testRunner struct {
	t       *testing.T
	cfgPath string
	regPath string
	out     bytes.Buffer
	errOut  bytes.Buffer
}

func newTestRunner(t *testing.T) *testRunner {
	t.Helper()
	dir := t.TempDir()
	r := &testRunner{t: t, cfgPath: filepath.Join(dir, "arucocnc.json"), regPath: filepath.Join(dir, "reg.json")}
	body := fmt.Sprintf(`{"marker": {"length": 30, "id": 4}, "registration_file": %q, "log_level": "error"}`, r.regPath)
	test.That(t, os.WriteFile(r.cfgPath, []byte(body), 0o600), test.ShouldBeNil)
	return r
}

func (r *testRunner) run(args ...string) error {
	r.out.Reset()
	r.errOut.Reset()
	app := NewApp(&r.out, &r.errOut)
	return app.Run(append([]string{"arucocnc", "--config", r.cfgPath}, args...))
}

// machine = camera rotated a quarter turn about Z, shifted by (10, 20, 30).
var cliPoints = []struct{ machine, camera string }{
	{"10,20,30", "0,0,0"},
	{"10,120,30", "100,0,0"},
	{"-70,20,30", "0,80,0"},
	{"-10,40,15", "20,20,-15"},
}

func TestPointsRoundTrip(t *testing.T) {
	r := newTestRunner(t)

	test.That(t, r.run("points", "list"), test.ShouldBeNil)
	test.That(t, r.out.String(), test.ShouldContainSubstring, "no calibration points")

	for i, p := range cliPoints {
		test.That(t, r.run("points", "add", "--machine", p.machine, "--camera", p.camera, "--normalized", "0.5,0.25"), test.ShouldBeNil)
		test.That(t, r.out.String(), test.ShouldContainSubstring, fmt.Sprintf("added point %d", i))
	}

	reg := registration.NewRegistration(logging.NewTestLogger(t))
	test.That(t, reg.LoadRegistration(r.regPath), test.ShouldBeNil)
	want := []registration.CalibrationPoint{
		{MachinePosition: r3.Vector{X: 10, Y: 20, Z: 30}, CameraPoint: r3.Vector{}, NormalizedImagePosition: r2.Point{X: 0.5, Y: 0.25}},
		{MachinePosition: r3.Vector{X: 10, Y: 120, Z: 30}, CameraPoint: r3.Vector{X: 100}, NormalizedImagePosition: r2.Point{X: 0.5, Y: 0.25}},
		{MachinePosition: r3.Vector{X: -70, Y: 20, Z: 30}, CameraPoint: r3.Vector{Y: 80}, NormalizedImagePosition: r2.Point{X: 0.5, Y: 0.25}},
		{MachinePosition: r3.Vector{X: -10, Y: 40, Z: 15}, CameraPoint: r3.Vector{X: 20, Y: 20, Z: -15}, NormalizedImagePosition: r2.Point{X: 0.5, Y: 0.25}},
	}
	if diff := cmp.Diff(want, reg.CalibrationPoints()); diff != "" {
		t.Fatalf("stored points mismatch (-want +got):\n%s", diff)
	}

	test.That(t, r.run("points", "list"), test.ShouldBeNil)
	test.That(t, r.out.String(), test.ShouldContainSubstring, "-70.0000, 20.0000, 30.0000")
	test.That(t, r.out.String(), test.ShouldContainSubstring, "run compute")

	test.That(t, r.run("compute"), test.ShouldBeNil)
	test.That(t, r.out.String(), test.ShouldContainSubstring, "rms error: 0.0000 over 4 points")
	test.That(t, r.out.String(), test.ShouldNotContainSubstring, "Warning")

	test.That(t, r.run("transform", "--camera", "5,20,2"), test.ShouldBeNil)
	test.That(t, r.out.String(), test.ShouldContainSubstring, "machine: -10.0000, 25.0000, 32.0000")

	test.That(t, r.run("transform", "--camera", "-10,25,32", "--inverse"), test.ShouldBeNil)
	test.That(t, r.out.String(), test.ShouldContainSubstring, "camera: 5.0000, 20.0000, 2.0000")

	test.That(t, r.run("points", "list"), test.ShouldBeNil)
	test.That(t, r.out.String(), test.ShouldNotContainSubstring, "run compute")

	test.That(t, r.run("points", "remove", "3"), test.ShouldBeNil)
	test.That(t, r.out.String(), test.ShouldContainSubstring, "3 left")
	err := r.run("points", "remove", "3")
	test.That(t, errors.Is(err, registration.ErrIndexOutOfRange), test.ShouldBeTrue)

	test.That(t, r.run("points", "clear"), test.ShouldBeNil)
	test.That(t, r.run("points", "list"), test.ShouldBeNil)
	test.That(t, r.out.String(), test.ShouldContainSubstring, "no calibration points")
}

func TestComputePlot(t *testing.T) {
	r := newTestRunner(t)
	for _, p := range cliPoints {
		test.That(t, r.run("points", "add", "--machine", p.machine, "--camera", p.camera), test.ShouldBeNil)
	}
	// a little off the exact quarter turn so the residuals are not all zero
	test.That(t, r.run("points", "add", "--machine", "30,30,30.5", "--camera", "10,-20,0"), test.ShouldBeNil)

	plotPath := filepath.Join(t.TempDir(), "residuals.png")
	test.That(t, r.run("compute", "--plot", plotPath, "--warn-rms", "0.0001"), test.ShouldBeNil)
	test.That(t, r.out.String(), test.ShouldContainSubstring, "over 5 points")
	test.That(t, r.out.String(), test.ShouldContainSubstring, "residuals: mean")
	test.That(t, r.out.String(), test.ShouldContainSubstring, "Warning")
	info, err := os.Stat(plotPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
}

func TestConfigSchema(t *testing.T) {
	r := newTestRunner(t)
	test.That(t, r.run("config", "schema"), test.ShouldBeNil)
	test.That(t, r.out.String(), test.ShouldContainSubstring, "registration_file")
	test.That(t, r.out.String(), test.ShouldContainSubstring, "coordinate_system")
}

func TestComputeFailures(t *testing.T) {
	r := newTestRunner(t)
	err := r.run("compute")
	test.That(t, errors.Is(err, registration.ErrInsufficientData), test.ShouldBeTrue)

	for _, m := range []string{"0,0,0", "1,1,1", "2,2,2"} {
		test.That(t, r.run("points", "add", "--machine", m, "--camera", m), test.ShouldBeNil)
	}
	err = r.run("compute")
	test.That(t, errors.Is(err, registration.ErrDegenerateGeometry), test.ShouldBeTrue)
	test.That(t, r.errOut.String(), test.ShouldContainSubstring, "Warning")

	err = r.run("transform", "--camera", "1,2,3")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCommandArgumentErrors(t *testing.T) {
	r := newTestRunner(t)
	for _, args := range [][]string{
		{"points", "add", "--machine", "1,2", "--camera", "0,0,0"},
		{"points", "add", "--machine", "1,2,3", "--camera", "a,b,c"},
		{"points", "add", "--machine", "1,2,3", "--camera", "0,0,0", "--normalized", "2,0"},
		{"points", "remove"},
		{"points", "remove", "first"},
		{"transform"},
		{"transform", "--camera", "1,2,3", "--image", "x.png"},
		{"points", "capture", "--image", filepath.Join(t.TempDir(), "missing.png")},
	} {
		test.That(t, r.run(args...), test.ShouldNotBeNil)
	}
	err := r.run("points", "add", "--machine", "1,2,3", "--camera", "0,0,0", "--normalized", "2,0")
	test.That(t, errors.Is(err, registration.ErrInvalidPoint), test.ShouldBeTrue)
}

func TestMissingConfig(t *testing.T) {
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run([]string{"arucocnc", "--config", filepath.Join(t.TempDir(), "none.json"), "points", "list"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "reading config")
}

func TestParseVector(t *testing.T) {
	v, err := parseVector(" 1.5, -2 ,3e2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldResemble, r3.Vector{X: 1.5, Y: -2, Z: 300})

	_, err = parseVector("1,2")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = parseVector("1,2,x")
	test.That(t, err, test.ShouldNotBeNil)

	p, err := parsePoint("0.25,1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, r2.Point{X: 0.25, Y: 1})
}

func TestWarningf(t *testing.T) {
	var buf bytes.Buffer
	warningf(&buf, "rms %d", 3)
	test.That(t, strings.TrimSpace(buf.String()), test.ShouldEndWith, "rms 3")
	test.That(t, buf.String(), test.ShouldContainSubstring, "Warning: ")
}
