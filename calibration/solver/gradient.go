package solver

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/MarqRazz/robot-calibration/utils"
)

// historyRecorder turns gonum's major iterations into iteration summaries.
type historyRecorder struct {
	summary *Summary
	opts    Options
	last    float64
}

func (h *historyRecorder) Init() error { return nil }

func (h *historyRecorder) Record(loc *optimize.Location, op optimize.Operation, st *optimize.Stats) error {
	if op&optimize.MajorIteration == 0 {
		return nil
	}
	it := IterationSummary{
		Iteration:    st.MajorIterations,
		Cost:         loc.F,
		CostChange:   h.last - loc.F,
		StepAccepted: true,
		Elapsed:      st.Runtime,
	}
	if loc.Gradient != nil {
		it.GradientMaxNorm = floats.Norm(loc.Gradient, math.Inf(1))
	}
	h.last = loc.F
	h.summary.SuccessfulSteps++
	record(h.summary, h.opts, it)
	return nil
}

// minimizeGradient minimizes ½‖r‖² with gonum's quasi-Newton methods using the gradient Jᵀr.
func minimizeGradient(e *engine, x []float64, opts Options, summary *Summary) ([]float64, []float64, *mat.Dense) {
	r := make([]float64, e.m)
	jac := mat.NewDense(e.m, max(e.n, 1), nil)
	if err := e.jacobian(x, r, jac); err != nil {
		summary.Termination = Failure
		summary.Message = err.Error()
		return x, r, nil
	}
	summary.InitialCost = 0.5 * utils.SumSquares(r)
	summary.FinalCost = summary.InitialCost
	if e.n == 0 {
		summary.Termination = Convergence
		summary.Message = "no parameters to optimize"
		return x, r, jac
	}

	var evalErr error
	scratchR := make([]float64, e.m)
	scratchJ := mat.NewDense(e.m, e.n, nil)
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if err := e.residuals(x, scratchR); err != nil {
				evalErr = err
				return math.NaN()
			}
			return 0.5 * utils.SumSquares(scratchR)
		},
		Grad: func(grad, x []float64) {
			if err := e.jacobian(x, scratchR, scratchJ); err != nil {
				evalErr = err
				floats.AddConst(math.NaN(), grad)
				return
			}
			g := mat.NewVecDense(e.n, grad)
			g.MulVec(scratchJ.T(), mat.NewVecDense(e.m, scratchR))
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   opts.MaxIterations,
		Runtime:           opts.MaxTime,
		GradientThreshold: opts.GradientTolerance,
		Converger: &optimize.FunctionConverge{
			Relative:   opts.FunctionTolerance,
			Iterations: 10,
		},
		Recorder: &historyRecorder{summary: summary, opts: opts, last: summary.InitialCost},
	}
	var method optimize.Method = &optimize.BFGS{}
	if opts.Method == LBFGS {
		method = &optimize.LBFGS{}
	}

	start := time.Now()
	result, err := optimize.Minimize(problem, x, settings, method)
	switch {
	case evalErr != nil:
		summary.Termination = Failure
		summary.Message = evalErr.Error()
		if result != nil {
			summary.Iterations = result.Stats.MajorIterations
		}
		return x, r, nil
	case result == nil:
		summary.Termination = Failure
		summary.Message = err.Error()
		return x, r, nil
	}

	summary.Iterations = result.Stats.MajorIterations
	switch result.Status {
	case optimize.GradientThreshold, optimize.FunctionConvergence, optimize.FunctionThreshold, optimize.StepConvergence:
		summary.Termination = Convergence
	default:
		// A stalled line search is a convergence problem; evaluation failures were handled above.
		summary.Termination = NoConvergence
	}
	summary.Message = result.Status.String()
	if err != nil {
		summary.Message = err.Error()
	}
	if opts.MaxTime > 0 && time.Since(start) > opts.MaxTime {
		summary.Termination = NoConvergence
	}

	copy(x, result.X)
	if err := e.jacobian(x, r, jac); err != nil {
		summary.Termination = Failure
		summary.Message = err.Error()
		return x, r, nil
	}
	summary.FinalCost = 0.5 * utils.SumSquares(r)
	return x, r, jac
}
