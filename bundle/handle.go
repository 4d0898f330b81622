package bundle

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"go.viam.com/bundle/logging"
)

// Handle is an initialized optimization: validated inputs, the frozen sparsity pattern and the
// selected Jacobian evaluator. A handle runs once.
type Handle struct {
	problem  *Problem
	initial  []float64
	nCameras int
	nPoints  int
	opts     Options
	jacobian JacobianEvaluator

	logger   logging.Logger
	callback IterationCallback
	clock    clock.Clock

	mu  sync.Mutex
	ran bool
}

// HandleOption configures a Handle.
type HandleOption func(*Handle)

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(logger logging.Logger) HandleOption {
	return func(h *Handle) {
		h.logger = logger
	}
}

// WithIterationCallback registers a callback that receives a summary of every step attempt.
func WithIterationCallback(callback IterationCallback) HandleOption {
	return func(h *Handle) {
		h.callback = callback
	}
}

// WithClock sets the clock used for the solver time budget and reported timings.
func WithClock(clk clock.Clock) HandleOption {
	return func(h *Handle) {
		h.clock = clk
	}
}

// Result is the outcome of Run. The parameters are the best found, whatever the termination.
type Result struct {
	Success           bool
	FinalCameraParams [][]float64
	FinalPoints       [][]float64
	InitialResiduals  []float64
	FinalResiduals    []float64
	InitialCost       float64
	FinalCost         float64
	IterationsUsed    int
	TerminationReason TerminationReason
	Iterations        []IterationSummary
	Elapsed           time.Duration
}

// Initialize validates the problem and options and prepares a handle. cameraParams is
// n_cameras×9, points n_points×3 and pixels n_observations×2. The inputs are copied, so the
// caller may reuse them. Any invalid input returns an error matching ErrInvalidInput.
func Initialize(
	cameraParams, points [][]float64,
	cameraIndices, pointIndices []int,
	pixels [][]float64,
	opts Options,
	handleOpts ...HandleOption,
) (*Handle, error) {
	if err := validateInput(cameraParams, points, cameraIndices, pointIndices, pixels); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	problem := newProblem(len(cameraParams), len(points), cameraIndices, pointIndices, pixels, opts.workers())
	jacobian, err := NewJacobianEvaluator(problem, opts.JacobianMethod, opts.FiniteDifferenceStep)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		problem:  problem,
		initial:  packParameters(cameraParams, points),
		nCameras: len(cameraParams),
		nPoints:  len(points),
		opts:     opts,
		jacobian: jacobian,
		logger:   logging.NewBlankLogger("bundle"),
		clock:    clock.New(),
	}
	for _, opt := range handleOpts {
		opt(h)
	}
	h.logger.Debugw("initialized bundle adjustment",
		"cameras", h.nCameras,
		"points", h.nPoints,
		"observations", problem.pattern.NumObservations(),
		"parameters", problem.NumParameters(),
		"residuals", problem.NumResiduals(),
		"jacobian", opts.JacobianMethod,
		"workers", problem.workers,
	)
	return h, nil
}

// Problem returns the problem the handle solves.
func (h *Handle) Problem() *Problem { return h.problem }

// Run minimizes the reprojection error. A run that ends without converging is not an error;
// see Result.Success and Result.TerminationReason. Errors are reserved for misuse of the handle
// and for failures to evaluate the problem at all.
func Run(ctx context.Context, h *Handle) (*Result, error) {
	if h == nil {
		return nil, errNilHandle
	}
	h.mu.Lock()
	if h.ran {
		h.mu.Unlock()
		return nil, errHandleAlreadyRun
	}
	h.ran = true
	h.mu.Unlock()

	lm := newLevenbergMarquardt(h.problem, h.jacobian, h.opts, h.logger.Sublogger("lm"), h.clock, h.callback)
	res, err := lm.minimize(ctx, h.initial)
	if err != nil {
		return nil, err
	}
	cams, points := unpackParameters(res.params, h.nCameras, h.nPoints)
	return &Result{
		Success:           res.reason.Converged(),
		FinalCameraParams: cams,
		FinalPoints:       points,
		InitialResiduals:  res.initialResiduals,
		FinalResiduals:    res.residuals,
		InitialCost:       res.initialCost,
		FinalCost:         res.cost,
		IterationsUsed:    res.iterations,
		TerminationReason: res.reason,
		Iterations:        lm.iterations,
		Elapsed:           res.elapsed,
	}, nil
}
