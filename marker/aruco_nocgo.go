//go:build no_cgo

package marker

import (
	"image"

	"github.com/pkg/errors"

	"github.com/jorgerobles/aruco-cnc-registration-sub001/logging"
)

// ArucoDetector is unavailable without cgo. Detect always fails.
type ArucoDetector struct{}

// NewArucoDetector returns a detector that cannot detect anything.
func NewArucoDetector(dictionary string, logger logging.Logger) (*ArucoDetector, error) {
	logger.Warnw("built without cgo, aruco detection is unavailable", "dictionary", dictionary)
	return &ArucoDetector{}, nil
}

// Detect implements Detector.
func (d *ArucoDetector) Detect(img image.Image) ([]Marker, error) {
	return nil, errors.Wrap(ErrDetection, "aruco detection requires a cgo build with OpenCV")
}

// Close is a no-op.
func (d *ArucoDetector) Close() error {
	return nil
}
