package marker

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// minHomographyPoints is the number of point pairs that fully determine a plane to plane
// homography.
const minHomographyPoints = 4

// Homography is a row-major 3x3 projective map of the plane.
type Homography [9]float64

// Apply maps p through h.
func (h Homography) Apply(p r2.Point) r2.Point {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	return r2.Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}
}

// Column returns column j of h.
func (h Homography) Column(j int) [3]float64 {
	return [3]float64{h[j], h[3+j], h[6+j]}
}

// EstimateHomography fits dst ~ H·src with the normalized direct linear transform.
func EstimateHomography(src, dst []r2.Point) (Homography, error) {
	if len(src) != len(dst) {
		return Homography{}, errors.Errorf("have %d source points but %d destination points", len(src), len(dst))
	}
	n := len(src)
	if n < minHomographyPoints {
		return Homography{}, errors.Errorf("need at least %d point pairs for a homography, got %d", minHomographyPoints, n)
	}

	srcT, srcN := normalizePoints(src)
	dstT, dstN := normalizePoints(dst)

	// Pad to at least 9 rows so the full SVD always has a 9x9 V.
	rows := 2 * n
	if rows < 9 {
		rows = 9
	}
	a := mat.NewDense(rows, 9, nil)
	for i := 0; i < n; i++ {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y, -u})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y, -v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return Homography{}, errors.New("failed to factorize homography system")
	}
	values := svd.Values(nil)
	// The null space must be one dimensional; collinear points leave it wider.
	if values[7] < 1e-10*values[0] {
		return Homography{}, errors.New("points are degenerate, cannot fit a homography")
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, v.At(i, 8))
	}

	// H = T_dst⁻¹ · H_n · T_src
	var dstInv mat.Dense
	if err := dstInv.Inverse(dstT); err != nil {
		return Homography{}, errors.Wrap(err, "cannot invert normalization")
	}
	var h mat.Dense
	h.Product(&dstInv, hn, srcT)

	scale := h.At(2, 2)
	if math.Abs(scale) < 1e-15 {
		scale = mat.Norm(&h, 2)
	}
	var out Homography
	for i := 0; i < 9; i++ {
		out[i] = h.At(i/3, i%3) / scale
	}
	return out, nil
}

// normalizePoints moves the centroid to the origin and scales the mean distance to √2, returning
// the similarity used and the normalized points.
func normalizePoints(pts []r2.Point) (*mat.Dense, []r2.Point) {
	var c r2.Point
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))

	var meanDist float64
	for _, p := range pts {
		meanDist += p.Sub(c).Norm()
	}
	meanDist /= float64(len(pts))
	s := 1.0
	if meanDist > 0 {
		s = math.Sqrt2 / meanDist
	}

	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = p.Sub(c).Mul(s)
	}
	t := mat.NewDense(3, 3, []float64{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	})
	return t, out
}
