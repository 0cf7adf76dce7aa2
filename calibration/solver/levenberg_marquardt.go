package solver

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/MarqRazz/robot-calibration/utils"
)

const (
	minDiagonal = 1e-6
	maxDiagonal = 1e32
	maxLambda   = 1e32
	// Steps whose actual to predicted cost reduction ratio falls below this are rejected.
	minRelativeDecrease = 1e-3
)

// levenbergMarquardt solves (JᵀJ + λ·D) δ = -Jᵀr with D the clamped diagonal of JᵀJ and adapts λ
// from the ratio of actual to predicted cost reduction.
func levenbergMarquardt(e *engine, x []float64, opts Options, summary *Summary) ([]float64, []float64, *mat.Dense) {
	start := time.Now()
	m, n := e.m, e.n
	r := make([]float64, m)
	jac := mat.NewDense(max(m, 1), max(n, 1), nil)

	fail := func(err error) ([]float64, []float64, *mat.Dense) {
		summary.Termination = Failure
		summary.Message = err.Error()
		return x, r, nil
	}

	if err := e.jacobian(x, r, jac); err != nil {
		return fail(err)
	}
	cost := 0.5 * utils.SumSquares(r)
	summary.InitialCost = cost
	summary.FinalCost = cost

	if n == 0 {
		summary.Termination = Convergence
		summary.Message = "no parameters to optimize"
		return x, r, jac
	}

	lambda := opts.InitialLambda
	nu := 2.
	jtj := mat.NewSymDense(n, nil)
	grad := mat.NewVecDense(n, nil)
	lhs := mat.NewSymDense(n, nil)
	step := mat.NewVecDense(n, nil)
	candidate := make([]float64, n)
	rCandidate := make([]float64, m)
	jacCandidate := mat.NewDense(max(m, 1), n, nil)

	linearize := func() {
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(m, r))
	}
	linearize()

	for summary.Iterations < opts.MaxIterations {
		if opts.MaxTime > 0 && time.Since(start) > opts.MaxTime {
			summary.Message = "maximum solver time reached"
			return x, r, jac
		}
		gradNorm := floats.Norm(grad.RawVector().Data, math.Inf(1))
		if gradNorm <= opts.GradientTolerance {
			summary.Termination = Convergence
			summary.Message = "gradient tolerance reached"
			return x, r, jac
		}
		if cost == 0 {
			summary.Termination = Convergence
			summary.Message = "zero cost"
			return x, r, jac
		}
		summary.Iterations++

		for i := 0; i < n; i++ {
			for k := 0; k <= i; k++ {
				lhs.SetSym(i, k, jtj.At(i, k))
			}
			d := math.Min(math.Max(jtj.At(i, i), minDiagonal), maxDiagonal)
			lhs.SetSym(i, i, jtj.At(i, i)+lambda*d)
		}
		iteration := IterationSummary{Iteration: summary.Iterations, Cost: cost, GradientMaxNorm: gradNorm, Lambda: lambda}

		var chol mat.Cholesky
		if ok := chol.Factorize(lhs); !ok {
			lambda *= nu
			nu *= 2
			summary.UnsuccessfulSteps++
			iteration.Elapsed = time.Since(start)
			record(summary, opts, iteration)
			if lambda > maxLambda {
				summary.Message = "damping grew without bound"
				return x, r, jac
			}
			continue
		}
		negGrad := mat.NewVecDense(n, nil)
		negGrad.ScaleVec(-1, grad)
		if err := chol.SolveVecTo(step, negGrad); err != nil {
			return fail(err)
		}
		stepNorm := floats.Norm(step.RawVector().Data, 2)
		iteration.StepNorm = stepNorm
		if stepNorm <= opts.ParameterTolerance*(floats.Norm(x, 2)+opts.ParameterTolerance) {
			summary.Termination = Convergence
			summary.Message = "parameter tolerance reached"
			iteration.Elapsed = time.Since(start)
			record(summary, opts, iteration)
			return x, r, jac
		}

		floats.AddTo(candidate, x, step.RawVector().Data)
		if err := e.jacobian(candidate, rCandidate, jacCandidate); err != nil {
			return fail(err)
		}
		newCost := 0.5 * utils.SumSquares(rCandidate)

		// Predicted decrease of the linearized model: -(gᵀδ + ½ δᵀJᵀJδ).
		jtjStep := mat.NewVecDense(n, nil)
		jtjStep.MulVec(jtj, step)
		predicted := -(mat.Dot(grad, step) + 0.5*mat.Dot(step, jtjStep))
		actual := cost - newCost
		rho := -1.
		if predicted > 0 {
			rho = actual / predicted
		}
		iteration.CostChange = actual

		if rho > minRelativeDecrease {
			iteration.StepAccepted = true
			summary.SuccessfulSteps++
			copy(x, candidate)
			copy(r, rCandidate)
			jac.Copy(jacCandidate)
			oldCost := cost
			cost = newCost
			summary.FinalCost = cost
			linearize()
			lambda *= math.Max(1./3, 1-math.Pow(2*rho-1, 3))
			nu = 2
			iteration.Elapsed = time.Since(start)
			record(summary, opts, iteration)
			if math.Abs(actual) <= opts.FunctionTolerance*oldCost {
				summary.Termination = Convergence
				summary.Message = "function tolerance reached"
				return x, r, jac
			}
			continue
		}

		summary.UnsuccessfulSteps++
		lambda *= nu
		nu *= 2
		iteration.Elapsed = time.Since(start)
		record(summary, opts, iteration)
		if lambda > maxLambda {
			summary.Message = "damping grew without bound"
			return x, r, jac
		}
	}
	summary.Message = "maximum number of iterations reached"
	return x, r, jac
}

func record(summary *Summary, opts Options, it IterationSummary) {
	summary.History = append(summary.History, it)
	if opts.Verbose {
		opts.Logger.Infow("iteration",
			"iter", it.Iteration,
			"cost", it.Cost,
			"cost_change", it.CostChange,
			"gradient", it.GradientMaxNorm,
			"step", it.StepNorm,
			"lambda", it.Lambda,
			"accepted", it.StepAccepted,
		)
	}
}
