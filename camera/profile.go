package camera

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Profile is the calibration of one camera: intrinsics plus lens distortion. It is loaded once
// and then only read.
type Profile struct {
	Intrinsics *PinholeCameraIntrinsics
	Distortion Distorter
}

// NewProfile validates and bundles intrinsics and distortion. A nil distorter means an ideal lens.
func NewProfile(intrinsics *PinholeCameraIntrinsics, distortion Distorter) (*Profile, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if distortion != nil {
		if err := distortion.CheckValid(); err != nil {
			return nil, err
		}
	}
	return &Profile{Intrinsics: intrinsics, Distortion: distortion}, nil
}

// UndistortPixel maps a pixel to ideal (undistorted) normalized image coordinates.
func (p *Profile) UndistortPixel(px r2.Point) r2.Point {
	n := p.Intrinsics.PixelToNormalized(px)
	if p.Distortion == nil {
		return n
	}
	x, y := p.Distortion.Undistort(n.X, n.Y)
	return r2.Point{X: x, Y: y}
}

// DistortNormalized maps ideal normalized coordinates to the pixel the lens images them at.
func (p *Profile) DistortNormalized(n r2.Point) r2.Point {
	if p.Distortion != nil {
		n.X, n.Y = p.Distortion.Transform(n.X, n.Y)
	}
	return p.Intrinsics.NormalizedToPixel(n)
}

// profileJSON is the on-disk JSON layout: the OpenCV camera matrix and coefficient vector as flat
// arrays.
type profileJSON struct {
	Width        int       `json:"width_px"`
	Height       int       `json:"height_px"`
	CameraMatrix []float64 `json:"camera_matrix"`
	Distortion   []float64 `json:"distortion"`
}

// opencvStorage matches the XML written by cv::FileStorage for a calibration run.
type opencvStorage struct {
	XMLName                xml.Name     `xml:"opencv_storage"`
	ImageWidth             int          `xml:"image_Width"`
	ImageHeight            int          `xml:"image_Height"`
	CameraMatrix           opencvMatrix `xml:"Camera_Matrix"`
	DistortionCoefficients opencvMatrix `xml:"Distortion_Coefficients"`
}

type opencvMatrix struct {
	Rows int    `xml:"rows"`
	Cols int    `xml:"cols"`
	Dt   string `xml:"dt"`
	Data string `xml:"data"`
}

func (m opencvMatrix) values() ([]float64, error) {
	fields := strings.Fields(m.Data)
	if len(fields) != m.Rows*m.Cols {
		return nil, errors.Errorf("matrix declares %dx%d but has %d values", m.Rows, m.Cols, len(fields))
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "matrix value %d", i)
		}
		out[i] = v
	}
	return out, nil
}

// NewProfileFromFile loads a profile from a JSON file or an OpenCV FileStorage XML file, chosen
// by extension.
func NewProfileFromFile(path string) (*Profile, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening camera profile")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return NewProfileFromOpenCVXML(f)
	default:
		return NewProfileFromJSON(f)
	}
}

// NewProfileFromJSON reads the JSON layout {width_px, height_px, camera_matrix[9], distortion[>=4]}.
func NewProfileFromJSON(r io.Reader) (*Profile, error) {
	var raw profileJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "error parsing camera profile JSON")
	}
	return profileFromMatrices(raw.CameraMatrix, raw.Distortion, raw.Width, raw.Height)
}

// NewProfileFromOpenCVXML reads the XML produced by OpenCV's calibration sample.
func NewProfileFromOpenCVXML(r io.Reader) (*Profile, error) {
	var raw opencvStorage
	if err := xml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "error parsing camera profile XML")
	}
	k, err := raw.CameraMatrix.values()
	if err != nil {
		return nil, errors.Wrap(err, "Camera_Matrix")
	}
	d, err := raw.DistortionCoefficients.values()
	if err != nil {
		return nil, errors.Wrap(err, "Distortion_Coefficients")
	}
	return profileFromMatrices(k, d, raw.ImageWidth, raw.ImageHeight)
}

func profileFromMatrices(k, d []float64, width, height int) (*Profile, error) {
	intrinsics, err := NewPinholeCameraIntrinsicsFromMatrix(k, width, height)
	if err != nil {
		return nil, err
	}
	distortion, err := NewBrownConrady(d)
	if err != nil {
		return nil, err
	}
	return NewProfile(intrinsics, distortion)
}
