//go:build !no_cgo

package marker

import (
	"image"
	"image/draw"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/jorgerobles/aruco-cnc-registration-sub001/logging"
)

var dictionaries = map[string]gocv.ArucoDictionaryCode{
	"4x4_50":   gocv.ArucoDict4x4_50,
	"4x4_100":  gocv.ArucoDict4x4_100,
	"4x4_250":  gocv.ArucoDict4x4_250,
	"4x4_1000": gocv.ArucoDict4x4_1000,
	"5x5_50":   gocv.ArucoDict5x5_50,
	"5x5_100":  gocv.ArucoDict5x5_100,
	"5x5_250":  gocv.ArucoDict5x5_250,
	"5x5_1000": gocv.ArucoDict5x5_1000,
	"6x6_50":   gocv.ArucoDict6x6_50,
	"6x6_100":  gocv.ArucoDict6x6_100,
	"6x6_250":  gocv.ArucoDict6x6_250,
	"6x6_1000": gocv.ArucoDict6x6_1000,
	"original": gocv.ArucoDictArucoOriginal,
}

// ArucoDetector finds ArUco markers with OpenCV. It must be closed.
type ArucoDetector struct {
	mu       sync.Mutex
	logger   logging.Logger
	detector gocv.ArucoDetector
	closed   bool
}

// NewArucoDetector returns a detector for the named predefined dictionary, e.g. "4x4_50".
func NewArucoDetector(dictionary string, logger logging.Logger) (*ArucoDetector, error) {
	if dictionary == "" {
		dictionary = DefaultDictionary
	}
	code, ok := dictionaries[dictionary]
	if !ok {
		return nil, errors.Errorf("unknown aruco dictionary %q", dictionary)
	}
	dict := gocv.GetPredefinedDictionary(code)
	return &ArucoDetector{
		logger:   logger,
		detector: gocv.NewArucoDetectorWithParams(dict, gocv.NewArucoDetectorParameters()),
	}, nil
}

// Detect implements Detector.
func (d *ArucoDetector) Detect(img image.Image) ([]Marker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("aruco detector is closed")
	}

	gray, err := toGrayMat(img)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	corners, ids, rejected := d.detector.DetectMarkers(gray)
	d.logger.Debugw("aruco detection", "found", len(ids), "rejected", len(rejected))
	if len(ids) == 0 {
		return nil, NewDetectionError("no markers in %dx%d image", img.Bounds().Dx(), img.Bounds().Dy())
	}

	// gocv reports corners relative to the Mat, which starts at the image origin.
	off := r2.Point{X: float64(img.Bounds().Min.X), Y: float64(img.Bounds().Min.Y)}
	markers := make([]Marker, 0, len(ids))
	for i, id := range ids {
		if len(corners[i]) != 4 {
			continue
		}
		m := Marker{ID: id}
		for k, c := range corners[i] {
			m.Corners[k] = r2.Point{X: float64(c.X), Y: float64(c.Y)}.Add(off)
		}
		markers = append(markers, m)
	}
	return markers, nil
}

// Close releases the OpenCV detector.
func (d *ArucoDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.detector.Close()
}

func toGrayMat(img image.Image) (gocv.Mat, error) {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	mat, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "converting image")
	}
	defer mat.Close()

	gray := gocv.NewMat()
	gocv.CvtColor(mat, &gray, gocv.ColorRGBAToGray)
	return gray, nil
}
