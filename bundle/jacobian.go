package bundle

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/bundle/camera"
	"go.viam.com/bundle/sparse"
	"go.viam.com/bundle/utils"
)

// JacobianEvaluator fills the block Jacobian of the residuals at the given parameters. Only the
// blocks declared by the problem's pattern are written.
type JacobianEvaluator interface {
	Evaluate(ctx context.Context, params []float64, jac *sparse.BlockJacobian) error
}

// NewJacobianEvaluator returns the evaluator for the given method. step is the relative finite
// difference step and is ignored for analytic derivatives.
func NewJacobianEvaluator(problem *Problem, method JacobianMethod, step float64) (JacobianEvaluator, error) {
	switch method {
	case AnalyticJacobian:
		return &analyticJacobian{problem: problem}, nil
	case CentralDifferenceJacobian:
		if !(step > 0) {
			return nil, errors.Errorf("finite difference step must be positive, got %v", step)
		}
		return &finiteDifferenceJacobian{problem: problem, relativeStep: step}, nil
	default:
		return nil, errors.Errorf("unknown jacobian method %q", method)
	}
}

func forEachObservation(ctx context.Context, problem *Problem, f func(obs int)) error {
	return utils.GroupWorkParallelN(ctx, problem.workers, problem.pattern.NumObservations(), nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, obs int) { f(obs) }, nil
		})
}

type analyticJacobian struct {
	problem *Problem
}

func (a *analyticJacobian) Evaluate(ctx context.Context, params []float64, jac *sparse.BlockJacobian) error {
	return forEachObservation(ctx, a.problem, func(obs int) {
		cam, point := a.problem.observation(params, obs)
		_, d := cam.ProjectWithJacobian(point)
		jac.Set(obs, d.Camera, d.Point)
	})
}

// finiteDifferenceJacobian perturbs only the twelve parameters an observation depends on, by
// h = relativeStep·max(|x|, 1), and takes central differences of the projection.
type finiteDifferenceJacobian struct {
	problem      *Problem
	relativeStep float64
}

func (fd *finiteDifferenceJacobian) step(x float64) float64 {
	return fd.relativeStep * math.Max(math.Abs(x), 1)
}

func (fd *finiteDifferenceJacobian) Evaluate(ctx context.Context, params []float64, jac *sparse.BlockJacobian) error {
	return forEachObservation(ctx, fd.problem, func(obs int) {
		cam, point := fd.problem.observation(params, obs)
		var camRows [sparse.ResidualsPerObservation][sparse.CameraBlockSize]float64
		var pointRows [sparse.ResidualsPerObservation][sparse.PointBlockSize]float64

		local := cam.Params()
		for k := 0; k < camera.NumParams; k++ {
			orig := local[k]
			h := fd.step(orig)
			local[k] = orig + h
			plusCam := camera.FromParams(local)
			plus := plusCam.Project(point)
			local[k] = orig - h
			minusCam := camera.FromParams(local)
			minus := minusCam.Project(point)
			local[k] = orig
			camRows[0][k] = (plus.X - minus.X) / (2 * h)
			camRows[1][k] = (plus.Y - minus.Y) / (2 * h)
		}

		coords := [3]float64{point.X, point.Y, point.Z}
		for k := 0; k < sparse.PointBlockSize; k++ {
			orig := coords[k]
			h := fd.step(orig)
			coords[k] = orig + h
			plus := cam.Project(r3.Vector{X: coords[0], Y: coords[1], Z: coords[2]})
			coords[k] = orig - h
			minus := cam.Project(r3.Vector{X: coords[0], Y: coords[1], Z: coords[2]})
			coords[k] = orig
			pointRows[0][k] = (plus.X - minus.X) / (2 * h)
			pointRows[1][k] = (plus.Y - minus.Y) / (2 * h)
		}
		jac.Set(obs, camRows, pointRows)
	})
}
