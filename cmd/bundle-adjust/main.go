// Package main is the bundle-adjust command: it reads a BAL problem, refines it and reports the
// outcome.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"go.viam.com/bundle/logging"
)

const (
	// Flags.
	flagInput              = "input"
	flagOptions            = "options"
	flagOutput             = "output"
	flagPlots              = "plots"
	flagMaxIterations      = "max-iterations"
	flagFunctionTolerance  = "function-tolerance"
	flagGradientTolerance  = "gradient-tolerance"
	flagParameterTolerance = "parameter-tolerance"
	flagInitialTrustRadius = "initial-trust-radius-scale"
	flagThreads            = "threads"
	flagJacobian           = "jacobian"
	flagMaxTime            = "max-time"
	flagCameraRows         = "cameras"
	flagPrintIterations    = "print-iterations"
	flagDebug              = "debug"
	flagLogLevel           = "log-level"

	defaultCameraRows = 5
	loggerName        = "bundle-adjust"
)

func newApp() *cli.App {
	var logger logging.Logger

	return &cli.App{
		Name:  "bundle-adjust",
		Usage: "refine cameras and 3D points of a BAL problem by minimizing reprojection error",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagInput,
				Aliases:  []string{"i"},
				Usage:    "BAL problem `FILE` (plain, .gz or .bz2)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  flagOptions,
				Usage: "solver options json `FILE`; flags override its values",
			},
			&cli.StringFlag{
				Name:    flagOutput,
				Aliases: []string{"o"},
				Usage:   "write the refined problem to `FILE` in BAL format (plain or .gz)",
			},
			&cli.StringFlag{
				Name:  flagPlots,
				Usage: "write residual, cost and reconstruction plots into `DIR`",
			},
			&cli.IntFlag{
				Name:  flagMaxIterations,
				Usage: "maximum number of step attempts",
			},
			&cli.Float64Flag{
				Name:  flagFunctionTolerance,
				Usage: "relative cost change tolerance",
			},
			&cli.Float64Flag{
				Name:  flagGradientTolerance,
				Usage: "gradient infinity norm tolerance",
			},
			&cli.Float64Flag{
				Name:  flagParameterTolerance,
				Usage: "relative step size tolerance",
			},
			&cli.Float64Flag{
				Name:  flagInitialTrustRadius,
				Usage: "initial damping",
			},
			&cli.IntFlag{
				Name:  flagThreads,
				Usage: "number of evaluation workers (0 picks from the available processors)",
			},
			&cli.StringFlag{
				Name:  flagJacobian,
				Usage: "jacobian method: analytic or central_difference",
			},
			&cli.DurationFlag{
				Name:  flagMaxTime,
				Usage: "wall clock budget for the solver, e.g. 30s",
			},
			&cli.IntFlag{
				Name:  flagCameraRows,
				Value: defaultCameraRows,
				Usage: "number of cameras listed in the before/after table (0 lists all)",
			},
			&cli.BoolFlag{
				Name:  flagPrintIterations,
				Usage: "print a table of every step attempt",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "minimum log level: debug, info, warn or error",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = logging.NewDebugLogger(loggerName)
				return nil
			}
			logger = logging.NewLogger(loggerName)
			if c.IsSet(flagLogLevel) {
				level, err := logging.LevelFromString(c.String(flagLogLevel))
				if err != nil {
					return err
				}
				logger.SetLevel(level)
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if logger == nil {
				return nil
			}
			return logger.Sync()
		},
		Action: func(c *cli.Context) error {
			return adjustAction(c, logger)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newApp().RunContext(ctx, os.Args)
	stop()
	if err != nil {
		log.Fatal(err)
	}
}
