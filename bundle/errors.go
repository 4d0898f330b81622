package bundle

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var (
	// ErrInvalidInput is matched (errors.Is) by every input validation failure.
	ErrInvalidInput = errors.New("invalid input")

	errNilHandle        = errors.New("nil optimization handle")
	errHandleAlreadyRun = errors.New("optimization handle has already been run")
)

// maxReportedProblems bounds how many individual problems an invalid input error lists.
const maxReportedProblems = 10

// invalidInputError carries every problem found in the input.
type invalidInputError struct {
	problems error
	dropped  int
}

func (e *invalidInputError) Error() string {
	msgs := make([]string, 0, maxReportedProblems)
	for _, err := range multierr.Errors(e.problems) {
		msgs = append(msgs, err.Error())
	}
	msg := fmt.Sprintf("%s: %s", ErrInvalidInput, strings.Join(msgs, "; "))
	if e.dropped > 0 {
		msg += fmt.Sprintf(" (and %d more)", e.dropped)
	}
	return msg
}

func (e *invalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func (e *invalidInputError) Unwrap() error {
	return e.problems
}

// problemCollector gathers validation problems, keeping only the first few.
type problemCollector struct {
	errs    error
	count   int
	dropped int
}

func (c *problemCollector) addf(format string, args ...interface{}) {
	if c.count >= maxReportedProblems {
		c.dropped++
		return
	}
	c.count++
	c.errs = multierr.Append(c.errs, errors.Errorf(format, args...))
}

func (c *problemCollector) err() error {
	if c.errs == nil {
		return nil
	}
	return &invalidInputError{problems: c.errs, dropped: c.dropped}
}

// TerminationReason says why an optimization stopped.
type TerminationReason string

const (
	// ConvergedFunctionTolerance means an accepted step changed the cost by less than the
	// function tolerance relative to the cost.
	ConvergedFunctionTolerance = TerminationReason("converged_function_tolerance")
	// ConvergedGradientTolerance means the gradient infinity norm fell below the gradient tolerance.
	ConvergedGradientTolerance = TerminationReason("converged_gradient_tolerance")
	// ConvergedParameterTolerance means the step was negligible next to the parameters.
	ConvergedParameterTolerance = TerminationReason("converged_parameter_tolerance")
	// ConvergedZeroCost means the residuals vanished.
	ConvergedZeroCost = TerminationReason("converged_zero_cost")
	// MaxIterationsExceeded means the step attempt budget ran out.
	MaxIterationsExceeded = TerminationReason("max_iterations_exceeded")
	// MaxConsecutiveRejectionsExceeded means too many steps in a row were rejected.
	MaxConsecutiveRejectionsExceeded = TerminationReason("max_consecutive_rejections_exceeded")
	// NumericalStall means the damping passed its ceiling without producing an acceptable step.
	NumericalStall = TerminationReason("numerical_stall")
	// MaxTimeExceeded means the wall clock budget ran out.
	MaxTimeExceeded = TerminationReason("max_time_exceeded")
	// NonFiniteCost means the cost at the initial parameters is NaN or infinite.
	NonFiniteCost = TerminationReason("non_finite_cost")
	// Canceled means the context was canceled.
	Canceled = TerminationReason("canceled")
)

// Converged reports whether the reason is a successful termination.
func (r TerminationReason) Converged() bool {
	switch r {
	case ConvergedFunctionTolerance, ConvergedGradientTolerance, ConvergedParameterTolerance, ConvergedZeroCost:
		return true
	case MaxIterationsExceeded, MaxConsecutiveRejectionsExceeded, NumericalStall, MaxTimeExceeded, NonFiniteCost, Canceled:
		return false
	default:
		return false
	}
}
