package solver

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
)

// TerminationType is why a solve stopped.
type TerminationType string

const (
	// Convergence means a tolerance was met.
	Convergence = TerminationType("CONVERGENCE")
	// NoConvergence means an iteration or time limit was hit first.
	NoConvergence = TerminationType("NO_CONVERGENCE")
	// Failure means the solve hit a numeric error and stopped.
	Failure = TerminationType("FAILURE")
)

// IterationSummary records one iteration of a minimizer.
type IterationSummary struct {
	Iteration       int
	Cost            float64
	CostChange      float64
	GradientMaxNorm float64
	StepNorm        float64
	Lambda          float64
	StepAccepted    bool
	Elapsed         time.Duration
}

// ResidualStats describes the final residual vector.
type ResidualStats struct {
	RMS    float64
	Mean   float64
	Median float64
	MaxAbs float64
}

func newResidualStats(r []float64) ResidualStats {
	if len(r) == 0 {
		return ResidualStats{}
	}
	data := stats.LoadRawData(r)
	absolute := make(stats.Float64Data, len(r))
	squares := make(stats.Float64Data, len(r))
	for i, v := range r {
		absolute[i] = math.Abs(v)
		squares[i] = v * v
	}
	// Errors only occur for empty inputs, which are excluded above.
	sumSquares, _ := stats.Sum(squares)
	rms := math.Sqrt(sumSquares / float64(len(r)))
	mean, _ := stats.Mean(data)
	median, _ := stats.Median(data)
	maxAbs, _ := stats.Max(absolute)
	return ResidualStats{RMS: rms, Mean: mean, Median: median, MaxAbs: maxAbs}
}

// Summary is the outcome of one solve.
type Summary struct {
	ID          uuid.UUID
	Method      Method
	Termination TerminationType
	Message     string
	// Converged is true only for a converged, fully constrained solve.
	Converged bool

	InitialCost       float64
	FinalCost         float64
	Iterations        int
	SuccessfulSteps   int
	UnsuccessfulSteps int

	NumParameters     int
	NumResiduals      int
	NumResidualBlocks int
	NumThreads        int
	JacobianRank      int
	RankDeficient     bool

	Start    time.Time
	Duration time.Duration

	Residuals ResidualStats
	History   []IterationSummary
}

func newSummary(p *Problem, opts Options, threads int) *Summary {
	return &Summary{
		ID:                uuid.New(),
		Method:            opts.Method,
		Termination:       NoConvergence,
		NumParameters:     p.NumParameters,
		NumResiduals:      p.NumResiduals(),
		NumResidualBlocks: len(p.Blocks),
		NumThreads:        threads,
		Start:             time.Now(),
	}
}

// Usable reports whether the solve ended without a numeric failure.
func (s *Summary) Usable() bool {
	return s != nil && s.Termination != Failure
}

// BriefReport returns a one line report.
func (s *Summary) BriefReport() string {
	if s == nil {
		return "no solve has run"
	}
	out := fmt.Sprintf("Solver Report: Iterations: %d, Initial cost: %e, Final cost: %e, Termination: %s",
		s.Iterations, s.InitialCost, s.FinalCost, s.Termination)
	if s.RankDeficient {
		out += " (rank deficient)"
	}
	return out
}

// FullReport returns a multi line report with the problem size, the cost and every iteration.
func (s *Summary) FullReport() string {
	if s == nil {
		return "no solve has run"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Solver Summary (run %s)\n\n", s.ID)

	problem := table.NewWriter()
	problem.SetStyle(table.StyleLight)
	problem.AppendHeader(table.Row{"", "Value"})
	problem.AppendRows([]table.Row{
		{"Method", s.Method},
		{"Parameters", s.NumParameters},
		{"Residual blocks", s.NumResidualBlocks},
		{"Residuals", s.NumResiduals},
		{"Threads", s.NumThreads},
		{"Jacobian rank", s.JacobianRank},
	})
	sb.WriteString(problem.Render())
	sb.WriteString("\n\n")

	cost := table.NewWriter()
	cost.SetStyle(table.StyleLight)
	cost.AppendHeader(table.Row{"Cost", "Value"})
	cost.AppendRows([]table.Row{
		{"Initial", fmt.Sprintf("%e", s.InitialCost)},
		{"Final", fmt.Sprintf("%e", s.FinalCost)},
		{"Change", fmt.Sprintf("%e", s.InitialCost-s.FinalCost)},
		{"Residual RMS", fmt.Sprintf("%e", s.Residuals.RMS)},
		{"Residual median", fmt.Sprintf("%e", s.Residuals.Median)},
		{"Residual max |r|", fmt.Sprintf("%e", s.Residuals.MaxAbs)},
	})
	sb.WriteString(cost.Render())
	sb.WriteString("\n\n")

	if len(s.History) > 0 {
		iters := table.NewWriter()
		iters.SetStyle(table.StyleLight)
		iters.AppendHeader(table.Row{"iter", "cost", "cost change", "|gradient|", "|step|", "lambda", "accepted", "time"})
		for _, it := range s.History {
			iters.AppendRow(table.Row{
				it.Iteration,
				fmt.Sprintf("%e", it.Cost),
				fmt.Sprintf("%.2e", it.CostChange),
				fmt.Sprintf("%.2e", it.GradientMaxNorm),
				fmt.Sprintf("%.2e", it.StepNorm),
				fmt.Sprintf("%.2e", it.Lambda),
				it.StepAccepted,
				it.Elapsed.Round(time.Microsecond),
			})
		}
		sb.WriteString(iters.Render())
		sb.WriteString("\n\n")
	}

	fmt.Fprintf(&sb, "Iterations: %d (%d successful, %d unsuccessful)\n", s.Iterations, s.SuccessfulSteps, s.UnsuccessfulSteps)
	fmt.Fprintf(&sb, "Total time: %s\n", s.Duration)
	fmt.Fprintf(&sb, "Termination: %s (%s)\n", s.Termination, s.Message)
	if s.RankDeficient {
		fmt.Fprintf(&sb, "Warning: Jacobian rank %d is below the parameter count %d\n", s.JacobianRank, s.NumParameters)
	}
	return sb.String()
}
