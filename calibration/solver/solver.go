package solver

import (
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Solve minimizes the problem starting from x0 and returns the final parameters with a summary.
// Errors are only returned for problems that cannot be started; numeric failures and limits are
// reported through the summary.
func Solve(p *Problem, x0 []float64, opts Options) ([]float64, *Summary, error) {
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	opts = opts.withDefaults()
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	if len(x0) != p.NumParameters {
		return nil, nil, errors.Wrapf(ErrInvalidProblem, "initial vector has %d values, expected %d", len(x0), p.NumParameters)
	}
	if p.NumResiduals() == 0 {
		return nil, nil, errors.Wrap(ErrInvalidProblem, "no residuals")
	}

	e, err := newEngine(p, opts.NumThreads, opts.DifferenceStep)
	if err != nil {
		return nil, nil, err
	}
	summary := newSummary(p, opts, e.workers)
	x := append([]float64(nil), x0...)

	var (
		r   []float64
		jac *mat.Dense
	)
	switch opts.Method {
	case BFGS, LBFGS:
		x, r, jac = minimizeGradient(e, x, opts, summary)
	case NLopt:
		x, r, jac = minimizeNLopt(e, x, opts, summary)
	default:
		x, r, jac = levenbergMarquardt(e, x, opts, summary)
	}
	summary.Duration = time.Since(summary.Start)

	if summary.Termination != Failure {
		summary.Residuals = newResidualStats(r)
		summary.JacobianRank = rank(jac, e.m, e.n, opts.RankTolerance)
		summary.RankDeficient = summary.JacobianRank < e.n
	}
	summary.Converged = summary.Termination == Convergence && !summary.RankDeficient
	if summary.RankDeficient {
		opts.Logger.Warnw("problem is under-constrained",
			"rank", summary.JacobianRank, "parameters", e.n, "residuals", e.m)
	}
	opts.Logger.Debug(summary.BriefReport())
	return x, summary, nil
}

// rank counts the singular values of the Jacobian above tol times the largest one.
func rank(jac *mat.Dense, m, n int, tol float64) int {
	if jac == nil || n == 0 {
		return 0
	}
	var svd mat.SVD
	if ok := svd.Factorize(jac.Slice(0, m, 0, n), mat.SVDNone); !ok {
		return 0
	}
	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 {
		return 0
	}
	count := 0
	for _, v := range values {
		if v > tol*values[0] {
			count++
		}
	}
	return count
}
