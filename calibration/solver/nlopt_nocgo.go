//go:build windows || no_cgo || !cgo

package solver

import (
	"gonum.org/v1/gonum/mat"
)

// minimizeNLopt refuses to solve without cgo.
func minimizeNLopt(e *engine, x []float64, opts Options, summary *Summary) ([]float64, []float64, *mat.Dense) {
	summary.Termination = Failure
	summary.Message = "nlopt is not supported on this build"
	return x, make([]float64, e.m), nil
}
