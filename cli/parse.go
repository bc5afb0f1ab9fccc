package cli

import (
	"image"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	_ "github.com/lmittmann/ppm" // register ppm
	"github.com/pkg/errors"
)

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, errors.Errorf("expected %d comma separated numbers, got %q", n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "in %q", s)
		}
		out[i] = v
	}
	return out, nil
}

// parseVector parses "x,y,z".
func parseVector(s string) (r3.Vector, error) {
	v, err := parseFloats(s, 3)
	if err != nil {
		return r3.Vector{}, err
	}
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}, nil
}

// parsePoint parses "u,v".
func parsePoint(s string) (r2.Point, error) {
	v, err := parseFloats(s, 2)
	if err != nil {
		return r2.Point{}, err
	}
	return r2.Point{X: v[0], Y: v[1]}, nil
}

// loadImage decodes a captured frame and optionally blurs it to suppress sensor noise before
// detection.
func loadImage(path string, blur float64) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading image %q", path)
	}
	if blur > 0 {
		return imaging.Blur(img, blur), nil
	}
	return img, nil
}
