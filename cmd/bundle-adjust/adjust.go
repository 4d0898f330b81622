package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/bundle/bal"
	"go.viam.com/bundle/bundle"
	"go.viam.com/bundle/logging"
	"go.viam.com/bundle/report"
)

// loadOptions starts from the defaults, overlays the options file if any and then every flag
// the user set.
func loadOptions(c *cli.Context) (bundle.Options, error) {
	opts := bundle.DefaultOptions()
	if fn := c.String(flagOptions); fn != "" {
		var err error
		opts, err = bundle.LoadOptionsFromJSONFile(fn)
		if err != nil {
			return bundle.Options{}, err
		}
	}

	if c.IsSet(flagMaxIterations) {
		opts.MaxIterations = c.Int(flagMaxIterations)
	}
	if c.IsSet(flagFunctionTolerance) {
		opts.FunctionTolerance = c.Float64(flagFunctionTolerance)
	}
	if c.IsSet(flagGradientTolerance) {
		opts.GradientTolerance = c.Float64(flagGradientTolerance)
	}
	if c.IsSet(flagParameterTolerance) {
		opts.ParameterTolerance = c.Float64(flagParameterTolerance)
	}
	if c.IsSet(flagInitialTrustRadius) {
		opts.InitialTrustRadiusScale = c.Float64(flagInitialTrustRadius)
	}
	if c.IsSet(flagThreads) {
		opts.NumThreads = c.Int(flagThreads)
	}
	if c.IsSet(flagJacobian) {
		opts.JacobianMethod = bundle.JacobianMethod(c.String(flagJacobian))
	}
	if c.IsSet(flagMaxTime) {
		opts.MaxSolverTime = c.Duration(flagMaxTime)
	}
	return opts, opts.Validate()
}

func adjustAction(c *cli.Context, logger logging.Logger) error {
	opts, err := loadOptions(c)
	if err != nil {
		return errors.Wrap(err, "error loading options")
	}

	problem, err := bal.ReadFile(c.String(flagInput))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, report.ProblemSummary(problem.NumCameras(), problem.NumPoints(), problem.NumObservations()))

	handle, err := bundle.Initialize(
		problem.CameraParams,
		problem.Points,
		problem.CameraIndices,
		problem.PointIndices,
		problem.Pixels,
		opts,
		bundle.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	res, err := bundle.Run(c.Context, handle)
	if err != nil {
		return err
	}

	if c.Bool(flagPrintIterations) {
		fmt.Fprintln(c.App.Writer, report.IterationTable(res.Iterations))
	}
	fmt.Fprintln(c.App.Writer, report.ResultSummary(res))
	fmt.Fprintln(c.App.Writer, report.CameraComparison(problem.CameraParams, res.FinalCameraParams, c.Int(flagCameraRows)))

	before, err := report.ComputeResidualStats(res.InitialResiduals)
	if err != nil {
		return err
	}
	after, err := report.ComputeResidualStats(res.FinalResiduals)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, report.StatsComparison(before, after))

	if out := c.String(flagOutput); out != "" {
		refined := &bal.Problem{
			CameraParams:  res.FinalCameraParams,
			Points:        res.FinalPoints,
			CameraIndices: problem.CameraIndices,
			PointIndices:  problem.PointIndices,
			Pixels:        problem.Pixels,
		}
		if err := bal.WriteFile(out, refined); err != nil {
			return err
		}
		logger.Infow("wrote refined problem", "file", out)
	}

	if dir := c.String(flagPlots); dir != "" {
		files, err := report.WritePlots(c.Context, dir, problem.CameraParams, problem.Points, res)
		if err != nil {
			return err
		}
		logger.Infow("wrote plots", "files", files)
	}

	if !res.Success {
		logger.Warnw("optimization did not converge", "reason", string(res.TerminationReason))
	}
	return nil
}
