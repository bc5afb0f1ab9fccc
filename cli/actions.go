package cli

import (
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"go.viam.com/utils"

	"github.com/jorgerobles/aruco-cnc-registration-sub001/calibrator"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/camera"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/config"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/logging"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/machine"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/marker"
	"github.com/jorgerobles/aruco-cnc-registration-sub001/registration"
)

// workspace is what every command needs: the config, a logger, and the registration loaded from
// the configured file.
type workspace struct {
	cfg     *config.Config
	logger  logging.Logger
	reg     *registration.Registration
	logFile *logging.FileAppender
}

func newWorkspace(c *cli.Context) (*workspace, error) {
	cfg, err := config.Read(c.String(configFlag))
	if err != nil {
		return nil, err
	}
	logger := logging.NewBlankLogger("arucocnc")
	logger.AddAppender(logging.NewWriterAppender(zapcore.AddSync(c.App.ErrWriter)))
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	if c.Bool(debugFlag) {
		level = logging.DEBUG
	}
	logger.SetLevel(level)
	ws := &workspace{cfg: cfg, logger: logger}
	if cfg.LogFile != "" {
		ws.logFile = logging.NewFileAppender(cfg.LogFile, logging.DefaultMaxLogSizeMB, 3)
		logger.AddAppender(ws.logFile)
	}

	ws.reg = registration.NewRegistration(
		logger.Sublogger("registration"),
		registration.WithMaxConditionNumber(cfg.MaxConditionNumber),
	)
	if _, err := os.Stat(cfg.RegistrationFile); err == nil {
		if err := ws.reg.LoadRegistration(cfg.RegistrationFile); err != nil {
			return nil, multiClose(err, ws)
		}
	} else if !os.IsNotExist(err) {
		return nil, multiClose(errors.Wrapf(err, "checking %q", cfg.RegistrationFile), ws)
	}
	return ws, nil
}

// Close flushes the logger and closes the log file, if any.
func (ws *workspace) Close() error {
	err := ws.logger.Sync()
	if ws.logFile != nil {
		err = multierr.Combine(err, ws.logFile.Close())
	}
	return err
}

func (ws *workspace) save() error {
	return ws.reg.SaveRegistration(ws.cfg.RegistrationFile)
}

// newExtractor builds the marker pipeline from the config. The returned closer releases the
// detector.
func (ws *workspace) newExtractor() (*marker.Extractor, io.Closer, error) {
	if ws.cfg.CameraProfile == "" {
		return nil, nil, errors.New("config has no camera_profile")
	}
	profile, err := camera.NewProfileFromFile(ws.cfg.CameraProfile)
	if err != nil {
		return nil, nil, err
	}
	det, err := marker.NewArucoDetector(ws.cfg.Marker.Dictionary, ws.logger.Sublogger("aruco"))
	if err != nil {
		return nil, nil, err
	}
	return &marker.Extractor{
		Detector:     det,
		Profile:      profile,
		MarkerLength: ws.cfg.Marker.Length,
		Reference:    ws.cfg.Marker.ReferenceIndex(),
		Board:        ws.cfg.Board,
	}, det, nil
}

// newSession connects to the machine unless link is given.
func (ws *workspace) newSession(c *cli.Context, link machine.Link) (*calibrator.Session, error) {
	ext, det, err := ws.newExtractor()
	if err != nil {
		return nil, err
	}
	if link == nil {
		grbl, err := machine.Connect(c.Context, ws.cfg.Serial.Path, ws.cfg.Serial.Options(), ws.logger.Sublogger("grbl"))
		if err != nil {
			if closeErr := det.Close(); closeErr != nil {
				ws.logger.Warnw("closing detector", "error", closeErr)
			}
			return nil, err
		}
		link = grbl
	}
	return calibrator.NewSession(ws.reg, link, ext, ws.cfg.Marker.ID, ws.logger.Sublogger("session"), det), nil
}

func formatVector(v r3.Vector) string {
	return fmt.Sprintf("%.4f, %.4f, %.4f", v.X, v.Y, v.Z)
}

// ListPointsAction prints the stored points and, when registered, their residuals.
func ListPointsAction(c *cli.Context) error {
	ws, err := newWorkspace(c)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(ws.Close)
	points := ws.reg.CalibrationPoints()
	if len(points) == 0 {
		printf(c.App.Writer, "no calibration points in %q", ws.cfg.RegistrationFile)
		return nil
	}
	var residuals []float64
	if ws.reg.IsRegistered() {
		if residuals, err = ws.reg.Residuals(); err != nil {
			return err
		}
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Machine", "Camera", "Normalized", "Residual"})
	for i, p := range points {
		res := ""
		if residuals != nil {
			res = fmt.Sprintf("%.4f", residuals[i])
		}
		t.AppendRow(table.Row{
			i,
			formatVector(p.MachinePosition),
			formatVector(p.CameraPoint),
			fmt.Sprintf("%.3f, %.3f", p.NormalizedImagePosition.X, p.NormalizedImagePosition.Y),
			res,
		})
	}
	printf(c.App.Writer, "%s", t.Render())
	if ws.reg.IsDirty() {
		warningf(c.App.Writer, "points changed since the last fit, run compute")
	}
	return nil
}

// AddPointAction stores a point given on the command line.
func AddPointAction(c *cli.Context) error {
	machinePos, err := parseVector(c.String(machineFlag))
	if err != nil {
		return errors.Wrap(err, "--machine")
	}
	cameraPoint, err := parseVector(c.String(cameraFlag))
	if err != nil {
		return errors.Wrap(err, "--camera")
	}
	norm, err := parsePoint(c.String(normalizedFlag))
	if err != nil {
		return errors.Wrap(err, "--normalized")
	}
	ws, err := newWorkspace(c)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(ws.Close)
	if err := ws.reg.AddCalibrationPoint(machinePos, cameraPoint, norm); err != nil {
		return err
	}
	if err := ws.save(); err != nil {
		return err
	}
	printf(c.App.Writer, "added point %d", ws.reg.CalibrationPointsCount()-1)
	return nil
}

// CapturePointAction pairs the machine position with the marker seen in an image.
func CapturePointAction(c *cli.Context) error {
	var link machine.Link
	if s := c.String(machineFlag); s != "" {
		pos, err := parseVector(s)
		if err != nil {
			return errors.Wrap(err, "--machine")
		}
		link = machine.NewFakeLink(pos)
	}
	ws, err := newWorkspace(c)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(ws.Close)
	img, err := loadImage(c.Path(imageFlag), ws.cfg.Marker.Blur)
	if err != nil {
		return err
	}
	session, err := ws.newSession(c, link)
	if err != nil {
		return err
	}
	capture, err := session.CapturePoint(c.Context, img)
	if err != nil {
		return multiClose(err, session)
	}
	if err := multiClose(ws.save(), session); err != nil {
		return err
	}
	if err := annotate(c, img, capture.Observation); err != nil {
		return err
	}
	printf(c.App.Writer, "captured point %d: machine [%s] camera [%s] (reprojection %.3f px)",
		capture.Index, formatVector(capture.MachinePosition),
		formatVector(capture.Observation.CameraPoint), capture.Observation.ReprojectionError)
	return nil
}

// RemovePointAction removes the point at the index given as the first argument.
func RemovePointAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("remove takes exactly one index")
	}
	index, err := strconv.Atoi(c.Args().First())
	if err != nil {
		return errors.Wrapf(err, "invalid index %q", c.Args().First())
	}
	ws, err := newWorkspace(c)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(ws.Close)
	if err := ws.reg.RemoveCalibrationPoint(index); err != nil {
		return err
	}
	if err := ws.save(); err != nil {
		return err
	}
	printf(c.App.Writer, "removed point %d, %d left", index, ws.reg.CalibrationPointsCount())
	return nil
}

// ClearPointsAction removes every point.
func ClearPointsAction(c *cli.Context) error {
	ws, err := newWorkspace(c)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(ws.Close)
	ws.reg.ClearCalibrationPoints()
	if err := ws.save(); err != nil {
		return err
	}
	printf(c.App.Writer, "cleared calibration points")
	return nil
}

// ComputeAction fits the transform, saves it, and reports the fit quality.
func ComputeAction(c *cli.Context) error {
	ws, err := newWorkspace(c)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(ws.Close)
	if err := ws.reg.ComputeRegistration(c.Bool(forceFlag)); err != nil {
		var degenerate *registration.DegenerateGeometryError
		if errors.As(err, &degenerate) {
			warningf(c.App.ErrWriter, "move the machine to positions that are not all on one line")
		}
		return err
	}
	if err := ws.save(); err != nil {
		return err
	}
	rt, _ := ws.reg.Transform()
	summary, err := ws.reg.ResidualSummary()
	if err != nil {
		return err
	}
	axis, angle := rt.AxisAngle()
	printf(c.App.Writer, "%s", rt)
	printf(c.App.Writer, "rotation: %.4f deg about [%s]", angle*180/math.Pi, formatVector(axis))
	printf(c.App.Writer, "rms error: %.4f over %d points", summary.RMS, ws.reg.CalibrationPointsCount())
	printf(c.App.Writer, "residuals: mean %.4f median %.4f max %.4f (point %d)",
		summary.Mean, summary.Median, summary.Max, summary.Worst)
	if limit := c.Float64(warnRMSFlag); summary.RMS > limit {
		warningf(c.App.Writer, "rms error %.4f is above %.4f, check point %d with `points list`",
			summary.RMS, limit, summary.Worst)
	}
	if path := c.Path(plotFlag); path != "" {
		residuals, err := ws.reg.Residuals()
		if err != nil {
			return err
		}
		if err := plotResiduals(path, residuals, summary.RMS); err != nil {
			return errors.Wrapf(err, "plotting residuals to %q", path)
		}
	}
	return nil
}

// TransformAction maps a camera point, or the marker in an image, into machine coordinates.
func TransformAction(c *cli.Context) error {
	ws, err := newWorkspace(c)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(ws.Close)
	var cameraPoint r3.Vector
	switch {
	case c.String(cameraFlag) != "" && c.Path(imageFlag) != "":
		return errors.New("give either --camera or --image, not both")
	case c.String(cameraFlag) != "":
		if cameraPoint, err = parseVector(c.String(cameraFlag)); err != nil {
			return errors.Wrap(err, "--camera")
		}
	case c.Path(imageFlag) != "":
		if c.Bool(inverseFlag) {
			return errors.New("--inverse needs --camera")
		}
		img, err := loadImage(c.Path(imageFlag), ws.cfg.Marker.Blur)
		if err != nil {
			return err
		}
		ext, det, err := ws.newExtractor()
		if err != nil {
			return err
		}
		obs, err := ext.Observe(img, ws.cfg.Marker.ID)
		if err := multiClose(err, det); err != nil {
			return err
		}
		if err := annotate(c, img, obs); err != nil {
			return err
		}
		cameraPoint = obs.CameraPoint
	default:
		return errors.New("need --camera or --image")
	}

	// a stale fit is refreshed here but not saved
	if err := ws.reg.ComputeRegistration(false); err != nil {
		return err
	}
	if c.Bool(inverseFlag) {
		p, err := ws.reg.InverseTransformPoint(cameraPoint)
		if err != nil {
			return err
		}
		printf(c.App.Writer, "camera: %s", formatVector(p))
		return nil
	}
	p, err := ws.reg.TransformPoint(cameraPoint)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "machine: %s", formatVector(p))
	return nil
}

// OffsetAction moves a work coordinate system origin to the marker in an image.
func OffsetAction(c *cli.Context) error {
	ws, err := newWorkspace(c)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(ws.Close)
	img, err := loadImage(c.Path(imageFlag), ws.cfg.Marker.Blur)
	if err != nil {
		return err
	}
	cs := ws.cfg.CoordinateSystem
	if c.IsSet(csFlag) {
		cs = c.Int(csFlag)
	}
	if err := machine.ValidateCoordinateSystem(cs); err != nil {
		return err
	}
	var link machine.Link
	if c.Bool(dryRunFlag) {
		link = machine.NewFakeLink(r3.Vector{})
	}
	session, err := ws.newSession(c, link)
	if err != nil {
		return err
	}
	target, err := session.ApplyOffset(c.Context, img, cs)
	if err := multiClose(err, session); err != nil {
		return err
	}
	verb := "set"
	if c.Bool(dryRunFlag) {
		verb = "would set"
	}
	printf(c.App.Writer, "%s %s origin to %s", verb, machine.CoordinateSystemName(cs), formatVector(target))
	return nil
}

// annotate saves the observation drawn over img when --annotate is set.
func annotate(c *cli.Context, img image.Image, obs marker.Observation) error {
	path := c.Path(annotateFlag)
	if path == "" {
		return nil
	}
	if err := marker.SaveAnnotated(path, img, obs); err != nil {
		return errors.Wrapf(err, "saving annotated image to %q", path)
	}
	return nil
}

// SchemaAction prints the JSON schema of the config file.
func SchemaAction(c *cli.Context) error {
	out, err := config.SchemaJSON()
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", out)
	return nil
}

// ListPortsAction prints the serial ports found on this system.
func ListPortsAction(c *cli.Context) error {
	ports, err := machine.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		warningf(c.App.Writer, "no serial ports found")
	}
	for _, p := range ports {
		printf(c.App.Writer, "%s", p)
	}
	return nil
}

// multiClose closes c and returns err combined with any close error.
func multiClose(err error, c io.Closer) error {
	return multierr.Combine(err, c.Close())
}
