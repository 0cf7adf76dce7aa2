package solver

import (
	"time"

	"github.com/pkg/errors"

	"github.com/MarqRazz/robot-calibration/logging"
)

// Method selects the minimizer.
type Method string

const (
	// LevenbergMarquardt is a trust region method on the Gauss-Newton model of the residuals.
	LevenbergMarquardt = Method("levenberg_marquardt")
	// BFGS minimizes the cost with gonum's quasi-Newton BFGS.
	BFGS = Method("bfgs")
	// LBFGS minimizes the cost with gonum's limited memory BFGS.
	LBFGS = Method("lbfgs")
	// NLopt minimizes the cost with nlopt's SLSQP. Only available in cgo builds.
	NLopt = Method("nlopt")
)

// Options bounds and tunes a solve.
type Options struct {
	Method             Method
	MaxIterations      int
	MaxTime            time.Duration
	FunctionTolerance  float64
	GradientTolerance  float64
	ParameterTolerance float64
	NumThreads         int
	// InitialLambda is the first Levenberg-Marquardt damping factor.
	InitialLambda float64
	// DifferenceStep is the relative central difference step.
	DifferenceStep float64
	// RankTolerance is the smallest singular value, relative to the largest, counted toward rank.
	RankTolerance float64
	// Verbose logs every iteration at info level.
	Verbose bool
	Logger  logging.Logger
}

// DefaultOptions returns the options used when nothing else is configured.
func DefaultOptions() Options {
	return Options{
		Method:             LevenbergMarquardt,
		MaxIterations:      1000,
		FunctionTolerance:  1e-10,
		GradientTolerance:  1e-12,
		ParameterTolerance: 1e-12,
		NumThreads:         1,
		InitialLambda:      1e-4,
		DifferenceStep:     1e-6,
		RankTolerance:      1e-9,
	}
}

// withDefaults fills unset numeric fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Method == "" {
		o.Method = d.Method
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.FunctionTolerance <= 0 {
		o.FunctionTolerance = d.FunctionTolerance
	}
	if o.GradientTolerance <= 0 {
		o.GradientTolerance = d.GradientTolerance
	}
	if o.ParameterTolerance <= 0 {
		o.ParameterTolerance = d.ParameterTolerance
	}
	if o.InitialLambda <= 0 {
		o.InitialLambda = d.InitialLambda
	}
	if o.DifferenceStep <= 0 {
		o.DifferenceStep = d.DifferenceStep
	}
	if o.RankTolerance <= 0 {
		o.RankTolerance = d.RankTolerance
	}
	if o.Logger == nil {
		o.Logger = logging.NewBlankLogger("solver")
	}
	return o
}

// Validate rejects unknown methods.
func (o Options) Validate() error {
	switch o.Method {
	case "", LevenbergMarquardt, BFGS, LBFGS, NLopt:
		return nil
	default:
		return errors.Errorf("unknown solver method %q", o.Method)
	}
}
