package report

import (
	"context"
	"math"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"go.viam.com/bundle/bundle"
	"go.viam.com/bundle/camera"
	"go.viam.com/bundle/utils"
)

// Plot file names written by WritePlots.
const (
	ResidualsPlotFile      = "residuals.png"
	CostHistoryPlotFile    = "cost_history.png"
	ReconstructionPlotFile = "reconstruction.png"
)

// smallest cost drawn on the log scale cost axis.
const minPlottedCost = 1e-300

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 6 * vg.Inch
)

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func indexedXYs(values []float64) plotter.XYs {
	xys := make(plotter.XYs, 0, len(values))
	for i, v := range values {
		if !finite(v) {
			continue
		}
		xys = append(xys, plotter.XY{X: float64(i), Y: v})
	}
	return xys
}

// PlotResiduals draws the initial and final residual vectors against their index, the way a
// reprojection error trace is usually inspected.
func PlotResiduals(initial, final []float64, fn string) error {
	p := plot.New()
	p.Title.Text = "Residuals"
	p.X.Label.Text = "residual index"
	p.Y.Label.Text = "residual (px)"
	p.Add(plotter.NewGrid())

	for i, series := range []struct {
		name   string
		values []float64
	}{{"initial", initial}, {"final", final}} {
		line, err := plotter.NewLine(indexedXYs(series.values))
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		line.LineStyle.Width = vg.Points(0.5)
		p.Add(line)
		p.Legend.Add(series.name, line)
	}
	return p.Save(plotWidth, plotHeight, fn)
}

// PlotCostHistory draws the committed cost after every step attempt on a log scale. Iteration 0
// is the initial cost.
func PlotCostHistory(initialCost float64, iterations []bundle.IterationSummary, fn string) error {
	costs := make([]float64, 0, len(iterations)+1)
	costs = append(costs, initialCost)
	for _, it := range iterations {
		costs = append(costs, it.Cost)
	}

	xys := make(plotter.XYs, 0, len(costs))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, c := range costs {
		if !finite(c) {
			continue
		}
		c = math.Max(c, minPlottedCost)
		lo = math.Min(lo, c)
		hi = math.Max(hi, c)
		xys = append(xys, plotter.XY{X: float64(i), Y: c})
	}
	if len(xys) == 0 {
		return errors.New("no finite cost to plot")
	}

	p := plot.New()
	p.Title.Text = "Cost"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "cost"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Add(plotter.NewGrid())

	line, points, err := plotter.NewLinePoints(xys)
	if err != nil {
		return err
	}
	line.Color = plotutil.Color(0)
	points.Color = plotutil.Color(0)
	p.Add(line, points)

	// the log axis needs a positive, non empty range
	if hi <= lo {
		lo, hi = lo/10, hi*10
	}
	p.Y.Min, p.Y.Max = lo, hi
	return p.Save(plotWidth, plotHeight, fn)
}

func pointXYs(points [][]float64) plotter.XYs {
	xys := make(plotter.XYs, 0, len(points))
	for _, pt := range points {
		if len(pt) < 2 || !finite(pt[0], pt[1]) {
			continue
		}
		xys = append(xys, plotter.XY{X: pt[0], Y: pt[1]})
	}
	return xys
}

func cameraXYs(cameras [][]float64) plotter.XYs {
	xys := make(plotter.XYs, 0, len(cameras))
	for _, params := range cameras {
		if len(params) != camera.NumParams {
			continue
		}
		c := camera.FromParams(params)
		center := c.Center()
		if !finite(center.X, center.Y) {
			continue
		}
		xys = append(xys, plotter.XY{X: center.X, Y: center.Y})
	}
	return xys
}

// PlotReconstruction draws a top down (X/Y) view of the points and camera centres before and
// after optimization.
func PlotReconstruction(initialCameras, initialPoints, finalCameras, finalPoints [][]float64, fn string) error {
	p := plot.New()
	p.Title.Text = "Reconstruction (top down)"
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"
	p.Add(plotter.NewGrid())

	series := []struct {
		name   string
		xys    plotter.XYs
		radius vg.Length
	}{
		{"points before", pointXYs(initialPoints), vg.Points(1)},
		{"points after", pointXYs(finalPoints), vg.Points(1)},
		{"cameras before", cameraXYs(initialCameras), vg.Points(4)},
		{"cameras after", cameraXYs(finalCameras), vg.Points(4)},
	}
	for i, s := range series {
		scatter, err := plotter.NewScatter(s.xys)
		if err != nil {
			return err
		}
		scatter.GlyphStyle = draw.GlyphStyle{
			Color:  plotutil.Color(i),
			Radius: s.radius,
			Shape:  plotutil.Shape(i),
		}
		p.Add(scatter)
		p.Legend.Add(s.name, scatter)
	}
	return p.Save(plotWidth, plotHeight, fn)
}

// WritePlots renders the residual, cost history and reconstruction plots of a result into dir
// concurrently and returns the written paths.
func WritePlots(ctx context.Context, dir string, initialCameras, initialPoints [][]float64, res *bundle.Result) ([]string, error) {
	if res == nil {
		return nil, errors.New("no result to plot")
	}
	residualsFn := filepath.Join(dir, ResidualsPlotFile)
	costFn := filepath.Join(dir, CostHistoryPlotFile)
	reconstructionFn := filepath.Join(dir, ReconstructionPlotFile)

	_, err := utils.RunInParallel(ctx, []utils.SimpleFunc{
		func(ctx context.Context) error {
			return errors.Wrap(PlotResiduals(res.InitialResiduals, res.FinalResiduals, residualsFn), "residuals plot")
		},
		func(ctx context.Context) error {
			return errors.Wrap(PlotCostHistory(res.InitialCost, res.Iterations, costFn), "cost history plot")
		},
		func(ctx context.Context) error {
			return errors.Wrap(
				PlotReconstruction(initialCameras, initialPoints, res.FinalCameraParams, res.FinalPoints, reconstructionFn),
				"reconstruction plot",
			)
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "writing plots to %q", dir)
	}
	return []string{residualsFn, costFn, reconstructionFn}, nil
}
