// Package solver minimizes sums of squared residuals over a flat parameter vector.
package solver

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/MarqRazz/robot-calibration/utils"
)

var (
	// ErrInvalidProblem is returned for problems that cannot be solved as posed.
	ErrInvalidProblem = errors.New("invalid problem")
	// ErrNonFinite is returned when a residual or Jacobian entry is NaN or infinite.
	ErrNonFinite = errors.New("non-finite value")
)

// Block is one group of residuals and the parameters it depends on.
type Block struct {
	Dim        int
	Parameters []int
}

// Evaluator computes residual blocks. Each worker owns one Evaluator, so implementations need not
// be safe for concurrent use.
type Evaluator interface {
	// SetParameters makes subsequent Evaluate calls use x. x must not be retained.
	SetParameters(x []float64) error
	// Evaluate writes the residuals of one block into out.
	Evaluate(block int, out []float64) error
}

// Problem is a nonlinear least squares problem: minimize ½ Σ ‖r_b(x)‖².
type Problem struct {
	NumParameters int
	Blocks        []Block
	// NewEvaluator returns a worker-local evaluator.
	NewEvaluator func() (Evaluator, error)
}

// NumResiduals returns the total residual dimension.
func (p *Problem) NumResiduals() int {
	n := 0
	for _, b := range p.Blocks {
		n += b.Dim
	}
	return n
}

// Validate checks the problem layout.
func (p *Problem) Validate() error {
	if p.NewEvaluator == nil {
		return errors.Wrap(ErrInvalidProblem, "no evaluator")
	}
	if p.NumParameters < 0 {
		return errors.Wrapf(ErrInvalidProblem, "negative parameter count %d", p.NumParameters)
	}
	for i, b := range p.Blocks {
		if b.Dim <= 0 {
			return errors.Wrapf(ErrInvalidProblem, "block %d has dimension %d", i, b.Dim)
		}
		for _, idx := range b.Parameters {
			if idx < 0 || idx >= p.NumParameters {
				return errors.Wrapf(ErrInvalidProblem, "block %d depends on parameter %d of %d", i, idx, p.NumParameters)
			}
		}
	}
	return nil
}

// engine evaluates residuals and Jacobians of a problem in parallel.
type engine struct {
	problem    *Problem
	evaluators []Evaluator
	rows       []int // first residual row of each block
	m, n       int
	workers    int
	relStep    float64
}

func newEngine(p *Problem, workers int, relStep float64) (*engine, error) {
	e := &engine{
		problem: p,
		rows:    make([]int, len(p.Blocks)),
		m:       p.NumResiduals(),
		n:       p.NumParameters,
		workers: utils.NumWorkers(workers, len(p.Blocks)),
		relStep: relStep,
	}
	row := 0
	for i, b := range p.Blocks {
		e.rows[i] = row
		row += b.Dim
	}
	for i := 0; i < e.workers; i++ {
		ev, err := p.NewEvaluator()
		if err != nil {
			return nil, err
		}
		e.evaluators = append(e.evaluators, ev)
	}
	return e, nil
}

// residuals fills r with all residuals at x.
func (e *engine) residuals(x, r []float64) error {
	return e.run(x, func(ev Evaluator, local []float64, block int) error {
		b := e.problem.Blocks[block]
		out := r[e.rows[block] : e.rows[block]+b.Dim]
		if err := ev.Evaluate(block, out); err != nil {
			return errors.Wrapf(err, "residual block %d", block)
		}
		if !utils.AllFinite(out...) {
			return errors.Wrapf(ErrNonFinite, "residual block %d", block)
		}
		return nil
	})
}

// jacobian fills r with the residuals at x and jac with their central difference derivatives.
// Columns of parameters a block does not depend on stay zero.
func (e *engine) jacobian(x, r []float64, jac *mat.Dense) error {
	jac.Zero()
	return e.run(x, func(ev Evaluator, local []float64, block int) error {
		b := e.problem.Blocks[block]
		row := e.rows[block]
		out := r[row : row+b.Dim]
		if err := ev.Evaluate(block, out); err != nil {
			return errors.Wrapf(err, "residual block %d", block)
		}
		if !utils.AllFinite(out...) {
			return errors.Wrapf(ErrNonFinite, "residual block %d", block)
		}

		plus := make([]float64, b.Dim)
		minus := make([]float64, b.Dim)
		for _, p := range b.Parameters {
			h := e.relStep * max(1, abs(local[p]))
			orig := local[p]

			local[p] = orig + h
			err := ev.SetParameters(local)
			if err == nil {
				err = ev.Evaluate(block, plus)
			}
			if err == nil {
				local[p] = orig - h
				if err = ev.SetParameters(local); err == nil {
					err = ev.Evaluate(block, minus)
				}
			}
			local[p] = orig
			if err != nil {
				return errors.Wrapf(err, "jacobian of block %d, parameter %d", block, p)
			}
			for i := range plus {
				d := (plus[i] - minus[i]) / (2 * h)
				if !utils.AllFinite(d) {
					return errors.Wrapf(ErrNonFinite, "jacobian of block %d, parameter %d", block, p)
				}
				jac.Set(row+i, p, d)
			}
		}
		if len(b.Parameters) > 0 {
			return ev.SetParameters(local)
		}
		return nil
	})
}

// run calls work for every block, spread over the workers. Each worker evaluates at its own copy
// of x.
func (e *engine) run(x []float64, work func(ev Evaluator, local []float64, block int) error) error {
	return utils.GroupWorkParallel(
		context.Background(),
		e.workers,
		len(e.problem.Blocks),
		nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			ev := e.evaluators[groupNum]
			local := append([]float64(nil), x...)
			if err := ev.SetParameters(local); err != nil {
				return func(memberNum, workNum int) error { return err }, nil
			}
			return func(memberNum, workNum int) error {
				return work(ev, local, workNum)
			}, nil
		},
	)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
