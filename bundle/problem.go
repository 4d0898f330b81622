// Package bundle refines BAL cameras and points by minimizing reprojection error with a
// Levenberg-Marquardt trust region method built on a Schur complement solver.
package bundle

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/bundle/camera"
	"go.viam.com/bundle/sparse"
	"go.viam.com/bundle/utils"
)

// Problem is a validated bundle adjustment problem: the fixed observation structure and the
// observed pixels. The parameter vector evolves separately.
type Problem struct {
	pattern  *sparse.Pattern
	observed []float64
	workers  int
}

// newProblem builds a problem from already validated input.
func newProblem(nCameras, nPoints int, cameraIndices, pointIndices []int, pixels [][]float64, workers int) *Problem {
	observed := make([]float64, 0, 2*len(pixels))
	for _, px := range pixels {
		observed = append(observed, px[0], px[1])
	}
	return &Problem{
		pattern:  sparse.NewPattern(nCameras, nPoints, cameraIndices, pointIndices),
		observed: observed,
		workers:  workers,
	}
}

// Pattern returns the Jacobian sparsity pattern.
func (p *Problem) Pattern() *sparse.Pattern { return p.pattern }

// NumParameters returns the length of the parameter vector.
func (p *Problem) NumParameters() int { return p.pattern.Cols() }

// NumResiduals returns the length of the residual vector.
func (p *Problem) NumResiduals() int { return p.pattern.Rows() }

// observation returns the camera and point an observation sees at the given parameters.
func (p *Problem) observation(params []float64, obs int) (camera.Camera, r3.Vector) {
	camCol := p.pattern.CameraColumn(obs)
	ptCol := p.pattern.PointColumn(obs)
	cam := camera.FromParams(params[camCol : camCol+camera.NumParams])
	return cam, r3.Vector{X: params[ptCol], Y: params[ptCol+1], Z: params[ptCol+2]}
}

// Residuals writes project(point, camera) - observed for every observation into out, x then y.
// Observations are evaluated in parallel, each writing its own slots.
func (p *Problem) Residuals(ctx context.Context, params, out []float64) error {
	return utils.GroupWorkParallelN(ctx, p.workers, p.pattern.NumObservations(), nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, obs int) {
				cam, point := p.observation(params, obs)
				px := cam.Project(point)
				out[2*obs] = px.X - p.observed[2*obs]
				out[2*obs+1] = px.Y - p.observed[2*obs+1]
			}, nil
		})
}

// Cost returns ½‖r‖².
func Cost(residuals []float64) float64 {
	return 0.5 * floats.Dot(residuals, residuals)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// validateInput checks dimensions, index ranges and finiteness of everything handed to
// Initialize. All problems found are reported together.
func validateInput(
	cameraParams, points [][]float64,
	cameraIndices, pointIndices []int,
	pixels [][]float64,
) error {
	var problems problemCollector
	for i, params := range cameraParams {
		if _, err := camera.NewCameraFromParams(params); err != nil {
			problems.addf("camera %d: %v", i, err)
		}
	}
	for i, pt := range points {
		if len(pt) != sparse.PointBlockSize {
			problems.addf("point %d has %d coordinates, expected %d", i, len(pt), sparse.PointBlockSize)
			continue
		}
		for j, v := range pt {
			if !isFinite(v) {
				problems.addf("point %d coordinate %d is not finite (%v)", i, j, v)
			}
		}
	}
	if len(cameraIndices) != len(pointIndices) || len(cameraIndices) != len(pixels) {
		problems.addf("observation arrays disagree in length: %d camera indices, %d point indices, %d pixels",
			len(cameraIndices), len(pointIndices), len(pixels))
		return problems.err()
	}
	for i := range cameraIndices {
		if c := cameraIndices[i]; c < 0 || c >= len(cameraParams) {
			problems.addf("observation %d camera index %d out of range [0, %d)", i, c, len(cameraParams))
		}
		if pt := pointIndices[i]; pt < 0 || pt >= len(points) {
			problems.addf("observation %d point index %d out of range [0, %d)", i, pt, len(points))
		}
		if len(pixels[i]) != 2 {
			problems.addf("observation %d has %d pixel coordinates, expected 2", i, len(pixels[i]))
			continue
		}
		if !isFinite(pixels[i][0]) || !isFinite(pixels[i][1]) {
			problems.addf("observation %d pixel is not finite (%v)", i, pixels[i])
		}
	}
	return problems.err()
}

// packParameters concatenates all camera blocks followed by all point blocks.
func packParameters(cameraParams, points [][]float64) []float64 {
	params := make([]float64, 0, camera.NumParams*len(cameraParams)+sparse.PointBlockSize*len(points))
	for _, cam := range cameraParams {
		params = append(params, cam...)
	}
	for _, pt := range points {
		params = append(params, pt...)
	}
	return params
}

// unpackParameters splits a parameter vector back into camera and point rows.
func unpackParameters(params []float64, nCameras, nPoints int) ([][]float64, [][]float64) {
	cams := make([][]float64, nCameras)
	for i := range cams {
		cams[i] = append([]float64(nil), params[i*camera.NumParams:(i+1)*camera.NumParams]...)
	}
	base := nCameras * camera.NumParams
	points := make([][]float64, nPoints)
	for i := range points {
		points[i] = append([]float64(nil), params[base+i*sparse.PointBlockSize:base+(i+1)*sparse.PointBlockSize]...)
	}
	return cams, points
}
