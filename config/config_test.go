package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/jorgerobles/aruco-cnc-registration-sub001/logging"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/marker"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/registration"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	test.That(t, os.WriteFile(path, []byte(body), 0o600), test.ShouldBeNil)
	return path
}

func TestReadSubstitutesEnvironment(t *testing.T) {
	t.Setenv("CNC_PORT", "/dev/ttyACM0")
	t.Setenv("CNC_DATA", "/var/lib/cnc")
	path := writeConfig(t, `{
		"serial": {"path": "${CNC_PORT}", "baud_rate": 115200, "read_timeout_ms": 250},
		"camera_profile": "${CNC_DATA}/camera.xml",
		"marker": {"dictionary": "5x5_100", "length": 25.5, "id": 12, "reference": "top_left"},
		"registration_file": "${CNC_DATA}/registration.json",
		"coordinate_system": 2,
		"log_level": "debug",
		"log_file": "${CNC_DATA}/arucocnc.log"
	}`)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Serial.Path, test.ShouldEqual, "/dev/ttyACM0")
	test.That(t, cfg.CameraProfile, test.ShouldEqual, "/var/lib/cnc/camera.xml")
	test.That(t, cfg.RegistrationFile, test.ShouldEqual, "/var/lib/cnc/registration.json")
	test.That(t, cfg.Marker, test.ShouldResemble, MarkerConfig{Dictionary: "5x5_100", Length: 25.5, ID: 12, Reference: "top_left"})
	test.That(t, cfg.Marker.ReferenceIndex(), test.ShouldEqual, 0)
	test.That(t, cfg.CoordinateSystem, test.ShouldEqual, 2)
	test.That(t, cfg.LogFile, test.ShouldEqual, "/var/lib/cnc/arucocnc.log")

	opts := cfg.Serial.Options()
	test.That(t, opts.BaudRate, test.ShouldEqual, 115200)
	test.That(t, opts.ReadTimeout, test.ShouldEqual, 250*time.Millisecond)

	level, err := cfg.Level()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, logging.DEBUG)
}

func TestReadDefaults(t *testing.T) {
	cfg, err := Read(writeConfig(t, `{"marker": {"length": 40}}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Marker.Dictionary, test.ShouldEqual, marker.DefaultDictionary)
	test.That(t, cfg.Marker.ReferenceIndex(), test.ShouldEqual, marker.CenterReference)
	test.That(t, cfg.RegistrationFile, test.ShouldEqual, DefaultRegistrationFile)
	test.That(t, cfg.CoordinateSystem, test.ShouldEqual, 1)
	test.That(t, cfg.MaxConditionNumber, test.ShouldEqual, registration.DefaultMaxConditionNumber)
	test.That(t, cfg.LogLevel, test.ShouldEqual, "Info")
	test.That(t, cfg.Board, test.ShouldBeNil)
}

func TestReadBoard(t *testing.T) {
	cfg, err := Read(writeConfig(t, `{
		"board": {"rows": 3, "cols": 4, "marker_length": 30, "separation": 6, "first_id": 10}
	}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, *cfg.Board, test.ShouldResemble, marker.GridBoard{Rows: 3, Cols: 4, MarkerLength: 30, Separation: 6, FirstID: 10})
}

func TestReadErrors(t *testing.T) {
	for name, tc := range map[string]struct {
		body string
		msg  string
	}{
		"bad json":           {`{"marker": `, "cannot parse"},
		"unknown field":      {`{"marker": {"length": 1}, "camera": "x"}`, "unknown fields"},
		"wrong type":         {`{"marker": {"length": "long"}}`, "cannot decode"},
		"no marker length":   {`{"marker": {"id": 3}}`, "length"},
		"coordinate system":  {`{"marker": {"length": 1}, "coordinate_system": 7}`, "coordinate system"},
		"bad board":          {`{"board": {"rows": 0, "cols": 2, "marker_length": 1}}`, "grid size"},
		"bad reference":      {`{"marker": {"length": 1, "reference": "middle"}}`, "middle"},
		"bad log level":      {`{"marker": {"length": 1}, "log_level": "loud"}`, "loud"},
		"negative blur":      {`{"marker": {"length": 1, "blur": -2}}`, "blur"},
		"negative baud rate": {`{"marker": {"length": 1}, "serial": {"baud_rate": -1}}`, "baud_rate"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Read(writeConfig(t, tc.body))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.msg)
		})
	}

	_, err := Read(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = FromReader("inline", strings.NewReader(`{"marker": {"length": 2}}`))
	test.That(t, err, test.ShouldBeNil)
}

func TestSchema(t *testing.T) {
	out, err := SchemaJSON()
	test.That(t, err, test.ShouldBeNil)
	for _, field := range []string{"registration_file", "camera_profile", "marker_length", "read_timeout_ms"} {
		test.That(t, string(out), test.ShouldContainSubstring, `"`+field+`"`)
	}
}
