package bundle

import (
	"encoding/json"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"go.viam.com/bundle/utils"
)

// JacobianMethod selects how derivatives are computed.
type JacobianMethod string

const (
	// AnalyticJacobian differentiates the projection model in closed form.
	AnalyticJacobian = JacobianMethod("analytic")
	// CentralDifferenceJacobian uses central finite differences on the projection model.
	CentralDifferenceJacobian = JacobianMethod("central_difference")
)

// Defaults. The tolerances and iteration budget match the usual Ceres configuration for BAL
// problems; the damping constants correspond to Ceres' trust region radius limits.
const (
	defaultMaxIterations            = 100
	defaultFunctionTolerance        = 1e-4
	defaultGradientTolerance        = 1e-10
	defaultParameterTolerance       = 1e-8
	defaultInitialTrustRadiusScale  = 1e-4
	defaultMinRelativeDecrease      = 1e-3
	defaultMaxConsecutiveRejections = 10
	defaultMaxLambda                = 1e32
	defaultFiniteDifferenceStep     = 1e-6
)

// Options configures an optimization run.
type Options struct {
	// MaxIterations bounds the number of step attempts, accepted or not.
	MaxIterations int `json:"max_iterations"`
	// FunctionTolerance stops the run once an accepted step changes the cost by at most this
	// fraction of the cost.
	FunctionTolerance float64 `json:"function_tolerance"`
	// GradientTolerance stops the run once the gradient infinity norm is at most this.
	GradientTolerance float64 `json:"gradient_tolerance"`
	// ParameterTolerance stops the run once ‖δ‖ <= tol·(‖x‖ + tol).
	ParameterTolerance float64 `json:"parameter_tolerance"`
	// InitialTrustRadiusScale is the initial damping λ, applied to diag(JᵗJ).
	InitialTrustRadiusScale float64 `json:"initial_trust_radius_scale"`
	// NumThreads is the number of workers for residual and Jacobian evaluation. Zero picks one
	// based on the available processors.
	NumThreads int `json:"num_threads"`

	MinRelativeDecrease      float64        `json:"min_relative_decrease"`
	MaxConsecutiveRejections int            `json:"max_consecutive_rejections"`
	MaxLambda                float64        `json:"max_lambda"`
	MaxSolverTime            time.Duration  `json:"-"`
	JacobianMethod           JacobianMethod `json:"jacobian_method"`
	FiniteDifferenceStep     float64        `json:"finite_difference_step"`
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		MaxIterations:            defaultMaxIterations,
		FunctionTolerance:        defaultFunctionTolerance,
		GradientTolerance:        defaultGradientTolerance,
		ParameterTolerance:       defaultParameterTolerance,
		InitialTrustRadiusScale:  defaultInitialTrustRadiusScale,
		MinRelativeDecrease:      defaultMinRelativeDecrease,
		MaxConsecutiveRejections: defaultMaxConsecutiveRejections,
		MaxLambda:                defaultMaxLambda,
		JacobianMethod:           AnalyticJacobian,
		FiniteDifferenceStep:     defaultFiniteDifferenceStep,
	}
}

// Validate checks that every option is usable.
func (o Options) Validate() error {
	var problems problemCollector
	if o.MaxIterations < 0 {
		problems.addf("max_iterations must be non-negative, got %d", o.MaxIterations)
	}
	for _, tol := range []struct {
		name  string
		value float64
	}{
		{"function_tolerance", o.FunctionTolerance},
		{"gradient_tolerance", o.GradientTolerance},
		{"parameter_tolerance", o.ParameterTolerance},
	} {
		if !(tol.value >= 0) || math.IsInf(tol.value, 0) {
			problems.addf("%s must be finite and non-negative, got %v", tol.name, tol.value)
		}
	}
	if !(o.InitialTrustRadiusScale > 0) || math.IsInf(o.InitialTrustRadiusScale, 0) {
		problems.addf("initial_trust_radius_scale must be finite and positive, got %v", o.InitialTrustRadiusScale)
	}
	if o.NumThreads < 0 {
		problems.addf("num_threads must be non-negative, got %d", o.NumThreads)
	}
	if !(o.MinRelativeDecrease >= 0) || o.MinRelativeDecrease >= 1 {
		problems.addf("min_relative_decrease must be in [0, 1), got %v", o.MinRelativeDecrease)
	}
	if o.MaxConsecutiveRejections < 1 {
		problems.addf("max_consecutive_rejections must be positive, got %d", o.MaxConsecutiveRejections)
	}
	if !(o.MaxLambda > o.InitialTrustRadiusScale) {
		problems.addf("max_lambda (%v) must exceed initial_trust_radius_scale (%v)", o.MaxLambda, o.InitialTrustRadiusScale)
	}
	if o.MaxSolverTime < 0 {
		problems.addf("max_solver_time must be non-negative, got %v", o.MaxSolverTime)
	}
	switch o.JacobianMethod {
	case AnalyticJacobian, CentralDifferenceJacobian:
	default:
		problems.addf("unknown jacobian_method %q", o.JacobianMethod)
	}
	if !(o.FiniteDifferenceStep > 0) || o.FiniteDifferenceStep >= 1 {
		problems.addf("finite_difference_step must be in (0, 1), got %v", o.FiniteDifferenceStep)
	}
	return problems.err()
}

// workers resolves NumThreads to a worker count.
func (o Options) workers() int {
	if o.NumThreads > 0 {
		return o.NumThreads
	}
	return utils.ParallelFactor
}

type optionsJSON struct {
	optionsAlias
	MaxSolverTime string `json:"max_solver_time,omitempty"`
}

type optionsAlias Options

// MarshalJSON encodes the options with the time budget as a duration string.
func (o Options) MarshalJSON() ([]byte, error) {
	out := optionsJSON{optionsAlias: optionsAlias(o)}
	if o.MaxSolverTime > 0 {
		out.MaxSolverTime = o.MaxSolverTime.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes options, reading the time budget as a duration string such as "30s".
// Fields missing from the input keep their current values.
func (o *Options) UnmarshalJSON(data []byte) error {
	in := optionsJSON{optionsAlias: optionsAlias(*o)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*o = Options(in.optionsAlias)
	if in.MaxSolverTime != "" {
		d, err := time.ParseDuration(in.MaxSolverTime)
		if err != nil {
			return errors.Wrap(err, "max_solver_time")
		}
		o.MaxSolverTime = d
	}
	return nil
}

// LoadOptionsFromJSONFile reads options from a json (or json5) file. Values missing from the
// file keep their defaults.
func LoadOptionsFromJSONFile(jsonPath string) (Options, error) {
	opts := DefaultOptions()
	//nolint:gosec
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return Options{}, errors.Wrap(err, "error reading options file")
	}
	// the file is hand written, so comments and unquoted keys are allowed
	var raw map[string]interface{}
	if err := json5.Unmarshal(data, &raw); err != nil {
		return Options{}, errors.Wrapf(err, "error parsing options file %q", jsonPath)
	}
	normalized, err := json.Marshal(raw)
	if err != nil {
		return Options{}, err
	}
	if err := json.Unmarshal(normalized, &opts); err != nil {
		return Options{}, errors.Wrapf(err, "error parsing options file %q", jsonPath)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}
