package cli

import (
	"fmt"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// plotResiduals writes a bar chart of per-point residuals. The format follows the file
// extension (png, svg, pdf, ...).
func plotResiduals(path string, residuals []float64, rms float64) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("registration residuals (rms %.4f)", rms)
	p.X.Label.Text = "point"
	p.Y.Label.Text = "residual"

	bars, err := plotter.NewBarChart(plotter.Values(residuals), vg.Points(12))
	if err != nil {
		return err
	}
	p.Add(bars)

	names := make([]string, len(residuals))
	for i := range residuals {
		names[i] = strconv.Itoa(i)
	}
	p.NominalX(names...)
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
