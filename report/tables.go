package report

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"go.viam.com/bundle/bundle"
	"go.viam.com/bundle/camera"
	"go.viam.com/bundle/sparse"
)

// ProblemSummary prints the dimensions of a problem.
func ProblemSummary(nCameras, nPoints, nObservations int) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Cameras", "Points", "Observations", "Parameters", "Residuals"})
	t.AppendRow([]interface{}{
		nCameras,
		nPoints,
		nObservations,
		nCameras*sparse.CameraBlockSize + nPoints*sparse.PointBlockSize,
		nObservations * sparse.ResidualsPerObservation,
	})
	return t.Render()
}

// CameraComparison prints each camera's parameters before and after optimization. At most
// limit cameras are listed; a non-positive limit lists them all.
func CameraComparison(initial, final [][]float64, limit int) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "", "Rotation", "Translation", "Focal", "K1", "K2"})
	n := len(initial)
	if len(final) < n {
		n = len(final)
	}
	if limit > 0 && limit < n {
		n = limit
	}
	for i := 0; i < n; i++ {
		for j, params := range [][]float64{initial[i], final[i]} {
			label, stage := "", "before"
			if j == 0 {
				label = fmt.Sprintf("%d", i)
			} else {
				stage = "after"
			}
			t.AppendRow(cameraRow(label, stage, params))
		}
	}
	return t.Render()
}

func cameraRow(label, stage string, params []float64) []interface{} {
	if len(params) != camera.NumParams {
		return []interface{}{label, stage, "invalid", "", "", "", ""}
	}
	c := camera.FromParams(params)
	return []interface{}{
		label,
		stage,
		fmt.Sprintf("X:%.4f, Y:%.4f, Z:%.4f", c.Rotation.X, c.Rotation.Y, c.Rotation.Z),
		fmt.Sprintf("X:%.4f, Y:%.4f, Z:%.4f", c.Translation.X, c.Translation.Y, c.Translation.Z),
		fmt.Sprintf("%.3f", c.Focal),
		fmt.Sprintf("%.3e", c.Distortion.RadialK1),
		fmt.Sprintf("%.3e", c.Distortion.RadialK2),
	}
}

// ResultSummary prints the outcome of an optimization.
func ResultSummary(res *bundle.Result) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Termination", "Success", "Iterations", "Initial cost", "Final cost", "Elapsed"})
	t.AppendRow([]interface{}{
		string(res.TerminationReason),
		res.Success,
		res.IterationsUsed,
		fmt.Sprintf("%.6e", res.InitialCost),
		fmt.Sprintf("%.6e", res.FinalCost),
		res.Elapsed.String(),
	})
	return t.Render()
}

// IterationTable prints one row per step attempt.
func IterationTable(iterations []bundle.IterationSummary) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Iter", "Cost", "Change", "Lambda", "|step|", "|grad|", "Ratio", "Accepted"})
	for _, it := range iterations {
		t.AppendRow([]interface{}{
			it.Iteration,
			fmt.Sprintf("%.6e", it.Cost),
			fmt.Sprintf("%.3e", it.CostChange),
			fmt.Sprintf("%.2e", it.Lambda),
			fmt.Sprintf("%.3e", it.StepNorm),
			fmt.Sprintf("%.3e", it.GradientMaxNorm),
			fmt.Sprintf("%.3f", it.GainRatio),
			it.StepAccepted,
		})
	}
	return t.Render()
}

// StatsComparison prints residual statistics before and after optimization side by side.
func StatsComparison(initial, final ResidualStats) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"", "RMS", "Mean", "Median", "Std dev", "95%", "Max"})
	for _, row := range []struct {
		name string
		rs   ResidualStats
	}{{"before", initial}, {"after", final}} {
		t.AppendRow([]interface{}{
			row.name,
			fmt.Sprintf("%.4f", row.rs.RMS),
			fmt.Sprintf("%.4f", row.rs.Mean),
			fmt.Sprintf("%.4f", row.rs.Median),
			fmt.Sprintf("%.4f", row.rs.StdDev),
			fmt.Sprintf("%.4f", row.rs.Percentile95),
			fmt.Sprintf("%.4f", row.rs.Max),
		})
	}
	return t.Render()
}
