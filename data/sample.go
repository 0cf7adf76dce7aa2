// Package data defines the captured calibration samples consumed by the optimizer and reads and
// writes them as dataset files.
package data

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/MarqRazz/robot-calibration/referenceframe"
)

var (
	// ErrEmptyDataset is returned when there are no samples to calibrate with.
	ErrEmptyDataset = errors.New("empty dataset")
	// ErrMalformedSample is returned when a sample cannot be used as a measurement.
	ErrMalformedSample = errors.New("malformed sample")
)

// NewMalformedSampleError wraps ErrMalformedSample with the offending sample index.
func NewMalformedSampleError(sampleIdx int, format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformedSample, "sample %d: "+format, append([]interface{}{sampleIdx}, args...)...)
}

// Feature is one observed point of a sample.
type Feature struct {
	// ID names the feature within its observation, e.g. a checkerboard corner index.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Frame is the frame Point is expressed in. Empty selects the sensor's default frame.
	Frame string `json:"frame,omitempty" yaml:"frame,omitempty"`
	// Point is the known reference position of the feature in Frame, in meters.
	Point [3]float64 `json:"point" yaml:"point,flow"`
	// Mesh marks features whose reference is the mesh surface of Frame rather than Point.
	Mesh bool `json:"mesh,omitempty" yaml:"mesh,omitempty"`
	// Observed is the measurement in the sensor's measurement space.
	Observed []float64 `json:"observed" yaml:"observed,flow"`
}

// Reference returns Point as a vector.
func (f *Feature) Reference() r3.Vector {
	return r3.Vector{X: f.Point[0], Y: f.Point[1], Z: f.Point[2]}
}

// Observation groups the features one sensor reported in one sample.
type Observation struct {
	Sensor   string    `json:"sensor" yaml:"sensor"`
	Features []Feature `json:"features" yaml:"features"`
}

// Sample is one captured robot configuration with everything the sensors saw in it.
type Sample struct {
	ID           string                        `json:"id,omitempty" yaml:"id,omitempty"`
	JointStates  referenceframe.JointPositions `json:"joint_states" yaml:"joint_states"`
	Observations []Observation                 `json:"observations" yaml:"observations"`
}

// Validate checks that a sample only carries finite values and named sensors.
func (s *Sample) Validate(idx int) error {
	var errs error
	for _, name := range s.JointStates.Names() {
		if v := s.JointStates[name]; math.IsNaN(v) || math.IsInf(v, 0) {
			errs = multierr.Append(errs, NewMalformedSampleError(idx, "joint %q has non-finite position", name))
		}
	}
	for obsIdx, obs := range s.Observations {
		if obs.Sensor == "" {
			errs = multierr.Append(errs, NewMalformedSampleError(idx, "observation %d has no sensor", obsIdx))
		}
		for featIdx := range obs.Features {
			f := &obs.Features[featIdx]
			for _, v := range append(f.Point[:], f.Observed...) {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					errs = multierr.Append(errs,
						NewMalformedSampleError(idx, "sensor %q feature %d has non-finite values", obs.Sensor, featIdx))
					break
				}
			}
		}
	}
	return errs
}

// CountFeatures returns how many features of each sensor the samples contain.
func CountFeatures(samples []Sample) map[string]int {
	counts := map[string]int{}
	for _, s := range samples {
		for _, obs := range s.Observations {
			counts[obs.Sensor] += len(obs.Features)
		}
	}
	return counts
}
