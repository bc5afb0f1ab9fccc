package marker

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/jorgerobles/aruco-cnc-registration-sub001/camera"
)

// GridBoard is a rows x cols grid of markers with consecutive ids starting at FirstID, numbered
// row by row from the top-left. The board frame has its origin at the top-left corner of the
// first marker, X to the right and Y up, so every object point has Y <= 0.
type GridBoard struct {
	Rows         int     `json:"rows"`
	Cols         int     `json:"cols"`
	MarkerLength float64 `json:"marker_length"`
	Separation   float64 `json:"separation"`
	FirstID      int     `json:"first_id"`
	// MinMarkers is how many board markers must be visible; zero means one.
	MinMarkers int `json:"min_markers"`
}

// BoardCorners are the board corners found in one image. IDs are markerID*4 + corner index and
// the three slices are index aligned.
type BoardCorners struct {
	IDs    []int
	Image  []r2.Point
	Object []r3.Vector
}

// Validate checks the layout.
func (b GridBoard) Validate() error {
	if b.Rows <= 0 || b.Cols <= 0 {
		return errors.Errorf("board needs a positive grid size, got %dx%d", b.Rows, b.Cols)
	}
	if b.MarkerLength <= 0 {
		return errors.Errorf("board marker length must be positive, got %v", b.MarkerLength)
	}
	if b.Separation < 0 {
		return errors.Errorf("board separation cannot be negative, got %v", b.Separation)
	}
	return nil
}

// Contains reports whether id belongs to the board.
func (b GridBoard) Contains(id int) bool {
	return id >= b.FirstID && id < b.FirstID+b.Rows*b.Cols
}

// MarkerObjectPoints returns the corners of marker id in the board frame, in Marker.Corners order.
func (b GridBoard) MarkerObjectPoints(id int) ([4]r3.Vector, error) {
	if !b.Contains(id) {
		return [4]r3.Vector{}, errors.Errorf("marker %d is not on the board", id)
	}
	idx := id - b.FirstID
	row, col := idx/b.Cols, idx%b.Cols
	pitch := b.MarkerLength + b.Separation
	x0 := float64(col) * pitch
	y0 := -float64(row) * pitch
	l := b.MarkerLength
	return [4]r3.Vector{
		{X: x0, Y: y0},
		{X: x0 + l, Y: y0},
		{X: x0 + l, Y: y0 - l},
		{X: x0, Y: y0 - l},
	}, nil
}

// Center returns the center of the board in the board frame.
func (b GridBoard) Center() r3.Vector {
	pitch := b.MarkerLength + b.Separation
	return r3.Vector{
		X: (float64(b.Cols)*pitch - b.Separation) / 2,
		Y: -(float64(b.Rows)*pitch - b.Separation) / 2,
	}
}

// Match collects the corners of the detected markers that belong to the board. It returns a
// detection error when fewer than MinMarkers board markers are present.
func (b GridBoard) Match(markers []Marker) (BoardCorners, error) {
	var out BoardCorners
	seen := map[int]bool{}
	for _, m := range markers {
		if !b.Contains(m.ID) || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		obj, err := b.MarkerObjectPoints(m.ID)
		if err != nil {
			return BoardCorners{}, err
		}
		for k := 0; k < 4; k++ {
			out.IDs = append(out.IDs, m.ID*4+k)
			out.Image = append(out.Image, m.Corners[k])
			out.Object = append(out.Object, obj[k])
		}
	}
	minMarkers := b.MinMarkers
	if minMarkers <= 0 {
		minMarkers = 1
	}
	if len(seen) < minMarkers {
		return BoardCorners{}, NewDetectionError("found %d board markers, need %d", len(seen), minMarkers)
	}
	return out, nil
}

// DetectBoard runs det on img and matches the result against the board layout.
func (b GridBoard) DetectBoard(det Detector, img image.Image) (BoardCorners, error) {
	if err := b.Validate(); err != nil {
		return BoardCorners{}, err
	}
	markers, err := det.Detect(img)
	if err != nil {
		return BoardCorners{}, err
	}
	return b.Match(markers)
}

// EstimatePose fits the board pose from matched corners. The translation is the board origin.
func (b GridBoard) EstimatePose(corners BoardCorners, profile *camera.Profile) (Pose, error) {
	obj := make([]r2.Point, len(corners.Object))
	for i, o := range corners.Object {
		obj[i] = r2.Point{X: o.X, Y: o.Y}
	}
	return EstimatePose(obj, corners.Image, profile)
}
