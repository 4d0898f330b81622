// Package report summarizes bundle adjustment problems and results as text tables, residual
// statistics and plots.
package report

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/bundle/sparse"
)

// ResidualStats describes the distribution of per-observation reprojection errors, in pixels.
type ResidualStats struct {
	Count        int     `json:"count"`
	RMS          float64 `json:"rms"`
	Mean         float64 `json:"mean"`
	Median       float64 `json:"median"`
	StdDev       float64 `json:"std_dev"`
	Percentile95 float64 `json:"percentile_95"`
	Max          float64 `json:"max"`
}

// ObservationErrors folds a residual vector into the euclidean reprojection error of each
// observation.
func ObservationErrors(residuals []float64) ([]float64, error) {
	if len(residuals)%sparse.ResidualsPerObservation != 0 {
		return nil, errors.Errorf("residual vector length %d is not a multiple of %d",
			len(residuals), sparse.ResidualsPerObservation)
	}
	out := make([]float64, 0, len(residuals)/sparse.ResidualsPerObservation)
	for i := 0; i < len(residuals); i += sparse.ResidualsPerObservation {
		out = append(out, math.Hypot(residuals[i], residuals[i+1]))
	}
	return out, nil
}

// ComputeResidualStats computes the statistics of a residual vector laid out two values per
// observation.
func ComputeResidualStats(residuals []float64) (ResidualStats, error) {
	errs, err := ObservationErrors(residuals)
	if err != nil {
		return ResidualStats{}, err
	}
	if len(errs) == 0 {
		return ResidualStats{}, nil
	}

	var rs ResidualStats
	rs.Count = len(errs)
	squares := 0.
	for _, e := range residuals {
		squares += e * e
	}
	rs.RMS = math.Sqrt(squares / float64(len(errs)))

	data := stats.Float64Data(errs)
	if rs.Mean, err = stats.Mean(data); err != nil {
		return ResidualStats{}, err
	}
	if rs.Median, err = stats.Median(data); err != nil {
		return ResidualStats{}, err
	}
	if rs.StdDev, err = stats.StandardDeviation(data); err != nil {
		return ResidualStats{}, err
	}
	if rs.Percentile95, err = stats.Percentile(data, 95); err != nil {
		return ResidualStats{}, err
	}
	if rs.Max, err = stats.Max(data); err != nil {
		return ResidualStats{}, err
	}
	return rs, nil
}
