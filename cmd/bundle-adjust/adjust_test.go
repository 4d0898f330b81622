package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/urfave/cli/v2"
	"go.viam.com/test"

	"go.viam.com/bundle/bal"
	"go.viam.com/bundle/bundle"
	"go.viam.com/bundle/camera"
	"go.viam.com/bundle/report"
)

func writeSyntheticProblem(t *testing.T, fn string) *bal.Problem {
	t.Helper()
	cameras := [][]float64{
		{0, 0, 0, -0.5, 0, 5, 500, 0, 0},
		{0, 0.02, 0, 0.5, 0, 5, 500, 0, 0},
		{0.01, 0, 0, 0, 0.3, 5, 500, 0, 0},
	}
	truth := []r3.Vector{
		{X: 1, Y: 0.5, Z: -10},
		{X: -0.8, Y: -1.2, Z: -9},
		{X: 0.3, Y: 0.9, Z: -11},
		{X: -1.1, Y: 0.2, Z: -10.5},
	}

	p := &bal.Problem{CameraParams: cameras}
	for j, pt := range truth {
		// start the points slightly off
		p.Points = append(p.Points, []float64{pt.X + 0.01, pt.Y - 0.01, pt.Z + 0.02})
		for i, params := range cameras {
			c := camera.FromParams(params)
			px := c.Project(pt)
			p.CameraIndices = append(p.CameraIndices, i)
			p.PointIndices = append(p.PointIndices, j)
			p.Pixels = append(p.Pixels, []float64{px.X, px.Y})
		}
	}
	test.That(t, bal.WriteFile(fn, p), test.ShouldBeNil)
	return p
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.RunContext(context.Background(), append([]string{"bundle-adjust"}, args...))
	return out.String(), err
}

func TestAdjust(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "problem.txt")
	output := filepath.Join(dir, "refined.txt.gz")
	plots := t.TempDir()
	original := writeSyntheticProblem(t, input)

	out, err := runApp(t,
		"--input", input,
		"--output", output,
		"--plots", plots,
		"--max-iterations", "50",
		"--threads", "2",
		"--print-iterations",
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "CAMERAS")
	test.That(t, out, test.ShouldContainSubstring, "TERMINATION")
	test.That(t, out, test.ShouldContainSubstring, "ACCEPTED")
	test.That(t, out, test.ShouldContainSubstring, "RMS")

	refined, err := bal.ReadFile(output)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, refined.NumCameras(), test.ShouldEqual, original.NumCameras())
	test.That(t, refined.NumPoints(), test.ShouldEqual, original.NumPoints())
	test.That(t, refined.CameraIndices, test.ShouldResemble, original.CameraIndices)
	test.That(t, refined.PointIndices, test.ShouldResemble, original.PointIndices)

	for _, name := range []string{report.ResidualsPlotFile, report.CostHistoryPlotFile, report.ReconstructionPlotFile} {
		_, err := os.Stat(filepath.Join(plots, name))
		test.That(t, err, test.ShouldBeNil)
	}
}

func TestAdjustOptions(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "problem.txt")
	writeSyntheticProblem(t, input)

	optionsFile := filepath.Join(dir, "options.json")
	test.That(t, os.WriteFile(optionsFile, []byte(`{"max_iterations": 7, "max_solver_time": "2s"}`), 0o600), test.ShouldBeNil)

	app := newApp()
	app.Writer = &bytes.Buffer{}
	var opts bundle.Options
	app.Action = func(c *cli.Context) error {
		var err error
		opts, err = loadOptions(c)
		return err
	}
	err := app.RunContext(context.Background(), []string{
		"bundle-adjust", "--input", input, "--options", optionsFile,
		"--gradient-tolerance", "1e-6", "--jacobian", "central_difference",
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.MaxIterations, test.ShouldEqual, 7)
	test.That(t, opts.MaxSolverTime, test.ShouldEqual, 2*time.Second)
	test.That(t, opts.GradientTolerance, test.ShouldEqual, 1e-6)
	test.That(t, opts.JacobianMethod, test.ShouldEqual, bundle.CentralDifferenceJacobian)
	test.That(t, opts.FunctionTolerance, test.ShouldEqual, bundle.DefaultOptions().FunctionTolerance)
}

func TestAdjustErrors(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "problem.txt")
	writeSyntheticProblem(t, input)

	_, err := runApp(t)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = runApp(t, "--input", filepath.Join(dir, "missing.txt"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = runApp(t, "--input", input, "--jacobian", "forward_difference")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, bundle.ErrInvalidInput), test.ShouldBeTrue)

	_, err = runApp(t, "--input", input, "--options", filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = runApp(t, "--input", input, "--output", filepath.Join(dir, "out.txt.bz2"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = runApp(t, "--input", input, "--log-level", "warn", "--max-iterations", "3")
	test.That(t, err, test.ShouldBeNil)

	_, err = runApp(t, "--input", input, "--log-level", "loud")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown log level")
}
