package registration

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// ResidualSummary describes how well a fit explains its points.
type ResidualSummary struct {
	RMS    float64
	Mean   float64
	Median float64
	Max    float64
	// Worst is the index of the point with the largest residual.
	Worst int
}

// SummarizeResiduals computes a ResidualSummary from per-point residuals.
func SummarizeResiduals(residuals []float64) (ResidualSummary, error) {
	if len(residuals) == 0 {
		return ResidualSummary{}, NewInsufficientDataError(0)
	}
	data := stats.Float64Data(residuals)
	var s ResidualSummary
	var err error
	if s.Mean, err = data.Mean(); err != nil {
		return ResidualSummary{}, errors.Wrap(err, "mean residual")
	}
	if s.Median, err = data.Median(); err != nil {
		return ResidualSummary{}, errors.Wrap(err, "median residual")
	}
	if s.Max, err = data.Max(); err != nil {
		return ResidualSummary{}, errors.Wrap(err, "max residual")
	}
	s.RMS = math.Sqrt(floats.Dot(residuals, residuals) / float64(len(residuals)))
	s.Worst = floats.MaxIdx(residuals)
	return s, nil
}

// ResidualSummary summarizes the residuals of the current fit.
func (r *Registration) ResidualSummary() (ResidualSummary, error) {
	res, err := r.Residuals()
	if err != nil {
		return ResidualSummary{}, err
	}
	return SummarizeResiduals(res)
}
