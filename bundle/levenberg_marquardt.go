package bundle

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/bundle/logging"
	"go.viam.com/bundle/schur"
	"go.viam.com/bundle/sparse"
)

// minLambda keeps the damping from underflowing after a long run of good steps.
const minLambda = 1e-16

// State is the phase of the Levenberg-Marquardt state machine.
type State int

const (
	// Evaluating means residuals and Jacobian are being computed at the committed parameters.
	Evaluating State = iota
	// StepProposed means a step has been solved for and is being tested.
	StepProposed
	// Converged is a successful terminal state.
	Converged
	// Failed is an unsuccessful terminal state; the best parameters are still returned.
	Failed
)

func (s State) String() string {
	switch s {
	case Evaluating:
		return "evaluating"
	case StepProposed:
		return "step_proposed"
	case Converged:
		return "converged"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// IterationSummary describes one step attempt.
type IterationSummary struct {
	Iteration int `json:"iteration"`
	// Cost is the committed cost after the attempt.
	Cost       float64 `json:"cost"`
	CostChange float64 `json:"cost_change"`
	// Lambda is the damping the step was solved with.
	Lambda          float64       `json:"lambda"`
	StepNorm        float64       `json:"step_norm"`
	GradientMaxNorm float64       `json:"gradient_max_norm"`
	GainRatio       float64       `json:"gain_ratio"`
	StepAccepted    bool          `json:"step_accepted"`
	Elapsed         time.Duration `json:"elapsed"`
}

// IterationCallback receives a summary after every step attempt. It runs on the solver
// goroutine and should return quickly.
type IterationCallback func(IterationSummary)

// levenbergMarquardt owns the scratch state of one minimization.
type levenbergMarquardt struct {
	problem  *Problem
	jacobian JacobianEvaluator
	opts     Options
	logger   logging.Logger
	clock    clock.Clock
	callback IterationCallback

	state      State
	jac        *sparse.BlockJacobian
	system     *schur.System
	iterations []IterationSummary
}

type minimizeResult struct {
	params           []float64
	residuals        []float64
	initialResiduals []float64
	initialCost      float64
	cost             float64
	iterations       int
	reason           TerminationReason
	elapsed          time.Duration
}

func newLevenbergMarquardt(
	problem *Problem,
	jacobian JacobianEvaluator,
	opts Options,
	logger logging.Logger,
	clk clock.Clock,
	callback IterationCallback,
) *levenbergMarquardt {
	return &levenbergMarquardt{
		problem:  problem,
		jacobian: jacobian,
		opts:     opts,
		logger:   logger,
		clock:    clk,
		callback: callback,
		jac:      sparse.NewBlockJacobian(problem.pattern),
		system:   schur.NewSystem(problem.pattern, problem.workers),
	}
}

func (lm *levenbergMarquardt) report(summary IterationSummary) {
	lm.iterations = append(lm.iterations, summary)
	lm.logger.Debugw("iteration",
		"iteration", summary.Iteration,
		"cost", summary.Cost,
		"cost_change", summary.CostChange,
		"lambda", summary.Lambda,
		"step_norm", summary.StepNorm,
		"gradient_max_norm", summary.GradientMaxNorm,
		"gain_ratio", summary.GainRatio,
		"accepted", summary.StepAccepted,
	)
	if lm.callback != nil {
		lm.callback(summary)
	}
}

// minimize runs the trust region loop from initial, which it does not modify. Budgets are only
// checked between iterations. A returned error means evaluation itself broke; any termination
// of the loop is reported through the result.
func (lm *levenbergMarquardt) minimize(ctx context.Context, initial []float64) (*minimizeResult, error) {
	start := lm.clock.Now()
	x := append([]float64(nil), initial...)
	candidate := make([]float64, len(x))
	r := make([]float64, lm.problem.NumResiduals())
	rCandidate := make([]float64, len(r))

	// cost stays NaN until the initial residuals are known
	cost := math.NaN()
	res := &minimizeResult{initialCost: cost}

	finish := func(reason TerminationReason, iterations int) (*minimizeResult, error) {
		if reason.Converged() {
			lm.state = Converged
		} else {
			lm.state = Failed
		}
		res.params = x
		res.residuals = r
		res.cost = cost
		res.iterations = iterations
		res.reason = reason
		res.elapsed = lm.clock.Since(start)
		lm.logger.Infow("bundle adjustment finished",
			"reason", string(reason),
			"state", lm.state.String(),
			"initial_cost", res.initialCost,
			"final_cost", cost,
			"iterations", iterations,
			"elapsed", res.elapsed,
		)
		return res, nil
	}

	lm.state = Evaluating
	if err := lm.problem.Residuals(ctx, x, r); err != nil {
		return lm.abort(ctx, err, finish, 0)
	}
	cost = Cost(r)
	res.initialResiduals = append([]float64(nil), r...)
	res.initialCost = cost
	if !isFinite(cost) {
		return finish(NonFiniteCost, 0)
	}

	lambda := lm.opts.InitialTrustRadiusScale
	nu := 2.0
	iterations := 0
	rejections := 0
	needJacobian := true

	for {
		select {
		case <-ctx.Done():
			return finish(Canceled, iterations)
		default:
		}
		if lm.opts.MaxSolverTime > 0 && lm.clock.Since(start) >= lm.opts.MaxSolverTime {
			return finish(MaxTimeExceeded, iterations)
		}

		if needJacobian {
			lm.state = Evaluating
			if err := lm.jacobian.Evaluate(ctx, x, lm.jac); err != nil {
				return lm.abort(ctx, err, finish, iterations)
			}
			if err := lm.system.Accumulate(ctx, lm.jac, r); err != nil {
				return lm.abort(ctx, err, finish, iterations)
			}
			needJacobian = false
			if lm.system.GradientMaxNorm() <= lm.opts.GradientTolerance {
				return finish(ConvergedGradientTolerance, iterations)
			}
		}
		if iterations >= lm.opts.MaxIterations {
			return finish(MaxIterationsExceeded, iterations)
		}
		iterations++

		lm.state = StepProposed
		summary := IterationSummary{
			Iteration:       iterations,
			Lambda:          lambda,
			GradientMaxNorm: lm.system.GradientMaxNorm(),
		}
		accepted := false
		delta, err := lm.system.Solve(lambda)
		if err != nil {
			lm.logger.Debugw("step solve failed", "iteration", iterations, "lambda", lambda, "error", err)
			if !errors.Is(err, schur.ErrNotPositiveDefinite) {
				return lm.abort(ctx, err, finish, iterations)
			}
		} else {
			summary.StepNorm = floats.Norm(delta, 2)
			if summary.StepNorm <= lm.opts.ParameterTolerance*(floats.Norm(x, 2)+lm.opts.ParameterTolerance) {
				summary.Cost = cost
				summary.Elapsed = lm.clock.Since(start)
				lm.report(summary)
				return finish(ConvergedParameterTolerance, iterations)
			}

			floats.AddTo(candidate, x, delta)
			if err := lm.problem.Residuals(ctx, candidate, rCandidate); err != nil {
				return lm.abort(ctx, err, finish, iterations)
			}
			newCost := Cost(rCandidate)
			predicted := lm.system.ModelReduction(delta, lambda)
			actual := cost - newCost
			rho := actual / predicted
			summary.GainRatio = rho
			accepted = isFinite(newCost) && predicted > 0 && rho > lm.opts.MinRelativeDecrease
		}

		if !accepted {
			rejections++
			lambda *= nu
			nu *= 2
			summary.Cost = cost
			summary.Elapsed = lm.clock.Since(start)
			lm.report(summary)
			if lambda > lm.opts.MaxLambda {
				return finish(NumericalStall, iterations)
			}
			if rejections >= lm.opts.MaxConsecutiveRejections {
				return finish(MaxConsecutiveRejectionsExceeded, iterations)
			}
			continue
		}

		newCost := Cost(rCandidate)
		relativeChange := (cost - newCost) / cost
		x, candidate = candidate, x
		r, rCandidate = rCandidate, r
		summary.CostChange = cost - newCost
		cost = newCost
		summary.Cost = cost
		summary.StepAccepted = true
		summary.Elapsed = lm.clock.Since(start)
		lm.report(summary)

		lambda *= math.Max(1.0/3.0, 1-math.Pow(2*summary.GainRatio-1, 3))
		lambda = math.Max(lambda, minLambda)
		nu = 2
		rejections = 0
		needJacobian = true

		if cost == 0 {
			return finish(ConvergedZeroCost, iterations)
		}
		if relativeChange <= lm.opts.FunctionTolerance {
			return finish(ConvergedFunctionTolerance, iterations)
		}
	}
}

// abort turns a cancellation seen during evaluation into a Canceled termination; any other
// error is returned as is.
func (lm *levenbergMarquardt) abort(
	ctx context.Context,
	err error,
	finish func(TerminationReason, int) (*minimizeResult, error),
	iterations int,
) (*minimizeResult, error) {
	if ctx.Err() != nil {
		return finish(Canceled, iterations)
	}
	return nil, err
}
