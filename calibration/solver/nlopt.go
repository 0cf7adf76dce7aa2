//go:build !windows && !no_cgo && cgo

package solver

import (
	"github.com/go-nlopt/nlopt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"github.com/MarqRazz/robot-calibration/utils"
)

// minimizeNLopt minimizes ½‖r‖² with nlopt's SLSQP using the gradient Jᵀr.
func minimizeNLopt(e *engine, x []float64, opts Options, summary *Summary) ([]float64, []float64, *mat.Dense) {
	r := make([]float64, e.m)
	jac := mat.NewDense(e.m, max(e.n, 1), nil)
	fail := func(err error) ([]float64, []float64, *mat.Dense) {
		summary.Termination = Failure
		summary.Message = err.Error()
		return x, r, nil
	}
	if err := e.jacobian(x, r, jac); err != nil {
		return fail(err)
	}
	summary.InitialCost = 0.5 * utils.SumSquares(r)
	summary.FinalCost = summary.InitialCost
	if e.n == 0 {
		summary.Termination = Convergence
		summary.Message = "no parameters to optimize"
		return x, r, jac
	}

	opt, err := nlopt.NewNLopt(nlopt.LD_SLSQP, uint(e.n))
	if err != nil {
		return fail(errors.Wrap(err, "nlopt creation error"))
	}
	defer opt.Destroy()

	var evalErr error
	scratchR := make([]float64, e.m)
	scratchJ := mat.NewDense(e.m, e.n, nil)
	objective := func(x, gradient []float64) float64 {
		summary.Iterations++
		if len(gradient) == 0 {
			if err := e.residuals(x, scratchR); err != nil {
				evalErr = err
				return 0
			}
		} else {
			if err := e.jacobian(x, scratchR, scratchJ); err != nil {
				evalErr = err
				//nolint:errcheck
				opt.ForceStop()
				return 0
			}
			g := mat.NewVecDense(e.n, gradient)
			g.MulVec(scratchJ.T(), mat.NewVecDense(e.m, scratchR))
		}
		cost := 0.5 * utils.SumSquares(scratchR)
		record(summary, opts, IterationSummary{Iteration: summary.Iterations, Cost: cost, StepAccepted: true})
		return cost
	}

	err = multierr.Combine(
		opt.SetFtolRel(opts.FunctionTolerance),
		opt.SetXtolRel(opts.ParameterTolerance),
		opt.SetMaxEval(opts.MaxIterations),
		opt.SetMinObjective(objective),
	)
	if opts.MaxTime > 0 {
		err = multierr.Combine(err, opt.SetMaxTime(opts.MaxTime.Seconds()))
	}
	if err != nil {
		return fail(err)
	}

	solution, _, err := opt.Optimize(x)
	switch {
	case evalErr != nil:
		return fail(evalErr)
	case err != nil:
		summary.Termination = NoConvergence
		summary.Message = err.Error()
	case summary.Iterations >= opts.MaxIterations:
		summary.Termination = NoConvergence
		summary.Message = "maximum number of evaluations reached"
	default:
		summary.Termination = Convergence
		summary.Message = "nlopt tolerance reached"
	}
	if solution != nil {
		copy(x, solution)
	}
	summary.SuccessfulSteps = summary.Iterations
	if err := e.jacobian(x, r, jac); err != nil {
		return fail(err)
	}
	summary.FinalCost = 0.5 * utils.SumSquares(r)
	return x, r, jac
}
