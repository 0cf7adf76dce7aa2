package solver

import (
	"errors"
	"math"
	"strings"
	"testing"

	"go.viam.com/test"

	"github.com/MarqRazz/robot-calibration/logging"
)

// curveEvaluator fits y = a·exp(b·t) with one block per sample.
type curveEvaluator struct {
	ts, ys []float64
	a, b   float64
}

func (c *curveEvaluator) SetParameters(x []float64) error {
	c.a, c.b = x[0], x[1]
	return nil
}

func (c *curveEvaluator) Evaluate(block int, out []float64) error {
	out[0] = c.ys[block] - c.a*math.Exp(c.b*c.ts[block])
	return nil
}

func curveProblem(a, b float64) *Problem {
	var ts, ys []float64
	for i := 0; i < 20; i++ {
		t := float64(i) / 10
		ts = append(ts, t)
		ys = append(ys, a*math.Exp(b*t))
	}
	p := &Problem{
		NumParameters: 2,
		NewEvaluator: func() (Evaluator, error) {
			return &curveEvaluator{ts: ts, ys: ys}, nil
		},
	}
	for range ts {
		p.Blocks = append(p.Blocks, Block{Dim: 1, Parameters: []int{0, 1}})
	}
	return p
}

func TestLevenbergMarquardt(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	opts := DefaultOptions()
	opts.Logger = logger
	opts.Verbose = true

	x, summary, err := Solve(curveProblem(2, -1.5), []float64{1, 0}, opts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Termination, test.ShouldEqual, Convergence)
	test.That(t, summary.Converged, test.ShouldBeTrue)
	test.That(t, summary.RankDeficient, test.ShouldBeFalse)
	test.That(t, summary.JacobianRank, test.ShouldEqual, 2)
	test.That(t, x[0], test.ShouldAlmostEqual, 2., 1e-6)
	test.That(t, x[1], test.ShouldAlmostEqual, -1.5, 1e-6)
	test.That(t, summary.FinalCost, test.ShouldBeLessThan, summary.InitialCost)
	test.That(t, summary.Iterations, test.ShouldBeGreaterThan, 0)
	test.That(t, summary.NumResiduals, test.ShouldEqual, 20)
	test.That(t, summary.NumResidualBlocks, test.ShouldEqual, 20)
	test.That(t, summary.History, test.ShouldHaveLength, summary.Iterations)
	test.That(t, logs.FilterMessage("iteration").Len(), test.ShouldEqual, len(summary.History))

	test.That(t, summary.BriefReport(), test.ShouldContainSubstring, "Termination: CONVERGENCE")
	full := summary.FullReport()
	test.That(t, full, test.ShouldContainSubstring, summary.ID.String())
	test.That(t, full, test.ShouldContainSubstring, "Jacobian rank")
}

func TestDeterministicAcrossThreads(t *testing.T) {
	opts := DefaultOptions()
	x1, s1, err := Solve(curveProblem(0.5, 0.8), []float64{1, 0}, opts)
	test.That(t, err, test.ShouldBeNil)

	opts.NumThreads = 4
	x4, s4, err := Solve(curveProblem(0.5, 0.8), []float64{1, 0}, opts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s4.NumThreads, test.ShouldEqual, 4)
	test.That(t, x4, test.ShouldResemble, x1)
	test.That(t, s4.FinalCost, test.ShouldEqual, s1.FinalCost)
	test.That(t, s4.Iterations, test.ShouldEqual, s1.Iterations)
}

// lineEvaluator only ever looks at the first parameter.
type lineEvaluator struct{ x []float64 }

func (l *lineEvaluator) SetParameters(x []float64) error {
	l.x = append(l.x[:0], x...)
	return nil
}

func (l *lineEvaluator) Evaluate(block int, out []float64) error {
	out[0] = float64(block) - l.x[0]
	return nil
}

func TestRankDeficient(t *testing.T) {
	p := &Problem{
		NumParameters: 2,
		Blocks:        []Block{{Dim: 1, Parameters: []int{0, 1}}, {Dim: 1, Parameters: []int{0, 1}}},
		NewEvaluator:  func() (Evaluator, error) { return &lineEvaluator{}, nil },
	}
	_, summary, err := Solve(p, []float64{5, 5}, DefaultOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.JacobianRank, test.ShouldEqual, 1)
	test.That(t, summary.RankDeficient, test.ShouldBeTrue)
	test.That(t, summary.Converged, test.ShouldBeFalse)
	test.That(t, summary.BriefReport(), test.ShouldContainSubstring, "rank deficient")

	// Fewer residuals than parameters can never be full rank.
	p.Blocks = p.Blocks[:1]
	_, summary, err = Solve(p, []float64{5, 5}, DefaultOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.RankDeficient, test.ShouldBeTrue)
	test.That(t, summary.Converged, test.ShouldBeFalse)
}

type nanEvaluator struct{ lineEvaluator }

func (n *nanEvaluator) Evaluate(block int, out []float64) error {
	out[0] = math.NaN()
	return nil
}

type failingEvaluator struct{ lineEvaluator }

func (f *failingEvaluator) Evaluate(block int, out []float64) error {
	if f.x[0] > 1 {
		return errors.New("out of range")
	}
	out[0] = 10 - f.x[0]
	return nil
}

func TestNumericFailure(t *testing.T) {
	p := &Problem{
		NumParameters: 1,
		Blocks:        []Block{{Dim: 1, Parameters: []int{0}}},
		NewEvaluator:  func() (Evaluator, error) { return &nanEvaluator{}, nil },
	}
	x, summary, err := Solve(p, []float64{1}, DefaultOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Termination, test.ShouldEqual, Failure)
	test.That(t, summary.Converged, test.ShouldBeFalse)
	test.That(t, summary.Usable(), test.ShouldBeFalse)
	test.That(t, summary.Message, test.ShouldContainSubstring, "non-finite")
	test.That(t, x, test.ShouldResemble, []float64{1})

	// Errors at a trial step abort the solve too, keeping the last good parameters.
	p.NewEvaluator = func() (Evaluator, error) { return &failingEvaluator{}, nil }
	x, summary, err = Solve(p, []float64{0}, DefaultOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Termination, test.ShouldEqual, Failure)
	test.That(t, strings.Contains(summary.Message, "out of range"), test.ShouldBeTrue)
	test.That(t, x[0], test.ShouldBeLessThanOrEqualTo, 1.)
}

func TestIterationLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxIterations = 1
	_, summary, err := Solve(curveProblem(2, -1.5), []float64{1, 0}, opts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Termination, test.ShouldEqual, NoConvergence)
	test.That(t, summary.Converged, test.ShouldBeFalse)
	test.That(t, summary.Iterations, test.ShouldEqual, 1)
	test.That(t, summary.Usable(), test.ShouldBeTrue)
}

func TestGradientMethods(t *testing.T) {
	for _, method := range []Method{BFGS, LBFGS} {
		method := method
		t.Run(string(method), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Method = method
			x, summary, err := Solve(curveProblem(2, -1.5), []float64{1.5, -1}, opts)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, summary.Termination, test.ShouldNotEqual, Failure)
			test.That(t, summary.Method, test.ShouldEqual, method)
			test.That(t, summary.FinalCost, test.ShouldBeLessThan, summary.InitialCost)
			test.That(t, x[0], test.ShouldAlmostEqual, 2., 1e-2)
			test.That(t, x[1], test.ShouldAlmostEqual, -1.5, 1e-2)
		})
	}
}

func TestInvalidProblems(t *testing.T) {
	opts := DefaultOptions()
	_, _, err := Solve(&Problem{NumParameters: 1}, []float64{0}, opts)
	test.That(t, errors.Is(err, ErrInvalidProblem), test.ShouldBeTrue)

	p := curveProblem(1, 1)
	_, _, err = Solve(p, []float64{0}, opts)
	test.That(t, errors.Is(err, ErrInvalidProblem), test.ShouldBeTrue)

	p.Blocks[3].Parameters = []int{7}
	_, _, err = Solve(p, []float64{0, 0}, opts)
	test.That(t, errors.Is(err, ErrInvalidProblem), test.ShouldBeTrue)

	p = curveProblem(1, 1)
	p.Blocks = nil
	_, _, err = Solve(p, []float64{0, 0}, opts)
	test.That(t, errors.Is(err, ErrInvalidProblem), test.ShouldBeTrue)

	opts.Method = "simplex"
	_, _, err = Solve(curveProblem(1, 1), []float64{0, 0}, opts)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestResidualStats(t *testing.T) {
	st := newResidualStats([]float64{3, -4, 0, 1})
	test.That(t, st.RMS, test.ShouldAlmostEqual, math.Sqrt(26./4))
	test.That(t, st.Mean, test.ShouldAlmostEqual, 0.)
	test.That(t, st.Median, test.ShouldAlmostEqual, 0.5)
	test.That(t, st.MaxAbs, test.ShouldEqual, 4.)

	test.That(t, newResidualStats(nil), test.ShouldResemble, ResidualStats{})
}
