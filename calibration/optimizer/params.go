package optimizer

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/MarqRazz/robot-calibration/calibration/models"
	"github.com/MarqRazz/robot-calibration/calibration/offsets"
	"github.com/MarqRazz/robot-calibration/calibration/solver"
	"github.com/MarqRazz/robot-calibration/rimage/transform"
)

// FreeFrame frees some axes of the correction of a frame. Name is a joint, or a link standing for
// the joint that places it.
type FreeFrame struct {
	Name              string `json:"name" yaml:"name"`
	offsets.FrameMask `yaml:",inline"`
}

// FreeFrameInitialValue seeds the correction of a free frame. Angles are fixed-axis roll, pitch
// and yaw in radians.
type FreeFrameInitialValue struct {
	Name  string  `json:"name" yaml:"name"`
	X     float64 `json:"x" yaml:"x"`
	Y     float64 `json:"y" yaml:"y"`
	Z     float64 `json:"z" yaml:"z"`
	Roll  float64 `json:"roll" yaml:"roll"`
	Pitch float64 `json:"pitch" yaml:"pitch"`
	Yaw   float64 `json:"yaw" yaml:"yaw"`
}

// OffsetPenalty adds residuals that grow with the size of a registered offset, keeping poorly
// observed quantities near their nominal values.
type OffsetPenalty struct {
	Name          string  `json:"name" yaml:"name"`
	JointScale    float64 `json:"joint_scale" yaml:"joint_scale"`
	PositionScale float64 `json:"position_scale" yaml:"position_scale"`
	RotationScale float64 `json:"rotation_scale" yaml:"rotation_scale"`
}

// OptimizationParams configures one solve.
type OptimizationParams struct {
	// BaseLink is the frame chains are resolved from. Empty uses the optimizer's root frame.
	BaseLink string `json:"base_link,omitempty" yaml:"base_link,omitempty"`
	// FreeParams names joints, cameras (all intrinsics) or single <camera>_<intrinsic> offsets.
	FreeParams              []string                `json:"free_params" yaml:"free_params"`
	FreeFrames              []FreeFrame             `json:"free_frames" yaml:"free_frames"`
	FreeFramesInitialValues []FreeFrameInitialValue `json:"free_frames_initial_values,omitempty" yaml:"free_frames_initial_values,omitempty"`
	Models                  []models.Config         `json:"models" yaml:"models"`
	OffsetPenalties         []OffsetPenalty         `json:"offset_penalties,omitempty" yaml:"offset_penalties,omitempty"`

	Solver             solver.Method `json:"solver,omitempty" yaml:"solver,omitempty"`
	MaxIterations      int           `json:"max_iterations" yaml:"max_iterations"`
	MaxTime            time.Duration `json:"max_time,omitempty" yaml:"max_time,omitempty"`
	FunctionTolerance  float64       `json:"function_tolerance" yaml:"function_tolerance"`
	GradientTolerance  float64       `json:"gradient_tolerance" yaml:"gradient_tolerance"`
	ParameterTolerance float64       `json:"parameter_tolerance" yaml:"parameter_tolerance"`
	// ConvergenceTolerance is accepted as an alias of FunctionTolerance.
	ConvergenceTolerance float64 `json:"convergence_tolerance,omitempty" yaml:"convergence_tolerance,omitempty"`
	NumThreads           int     `json:"num_threads" yaml:"num_threads"`
	Verbose              bool    `json:"verbose" yaml:"verbose"`
}

// DefaultParams returns params with the default solver settings and nothing to calibrate.
func DefaultParams() OptimizationParams {
	d := solver.DefaultOptions()
	return OptimizationParams{
		Solver:             d.Method,
		MaxIterations:      d.MaxIterations,
		FunctionTolerance:  d.FunctionTolerance,
		GradientTolerance:  d.GradientTolerance,
		ParameterTolerance: d.ParameterTolerance,
		NumThreads:         d.NumThreads,
	}
}

// ParseParams reads YAML params on top of DefaultParams.
func ParseParams(raw []byte) (OptimizationParams, error) {
	params := DefaultParams()
	if err := yaml.Unmarshal(raw, &params); err != nil {
		return OptimizationParams{}, errors.Wrap(ErrInvalidParams, err.Error())
	}
	return params, nil
}

// LoadParams reads params from a YAML (or JSON) file. Relative intrinsics files are resolved
// against the directory of the params file.
func LoadParams(path string) (OptimizationParams, error) {
	//nolint:gosec
	raw, err := os.ReadFile(path)
	if err != nil {
		return OptimizationParams{}, errors.Wrap(err, "failed to read optimization params")
	}
	params, err := ParseParams(raw)
	if err != nil {
		return OptimizationParams{}, err
	}
	for i := range params.Models {
		cfg := &params.Models[i]
		if cfg.IntrinsicsFile == "" || cfg.Intrinsics != nil {
			continue
		}
		file := cfg.IntrinsicsFile
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(path), file)
		}
		intrinsics, err := transform.NewPinholeCameraIntrinsicsFromJSONFile(file)
		if err != nil {
			return OptimizationParams{}, errors.Wrapf(ErrInvalidParams, "model %q: %v", cfg.Name, err)
		}
		cfg.Intrinsics = intrinsics
	}
	return params, nil
}

// Marshal writes the params as YAML.
func (p *OptimizationParams) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

// Validate checks everything that does not need the robot description.
func (p *OptimizationParams) Validate() error {
	var errs error
	invalid := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, errors.Wrapf(ErrInvalidParams, format, args...))
	}

	if len(p.Models) == 0 {
		invalid("no models configured")
	}
	seen := map[string]bool{}
	for i := range p.Models {
		cfg := &p.Models[i]
		if seen[cfg.Name] {
			invalid("duplicate model %q", cfg.Name)
		}
		seen[cfg.Name] = true
		if cfg.Name == "" || cfg.Frame == "" {
			invalid("model %d needs a name and a frame", i)
			continue
		}
		errs = multierr.Append(errs, cfg.Validate())
	}
	for _, f := range p.FreeFrames {
		if f.Name == "" {
			invalid("free frame without a name")
		}
		if f.Count() == 0 {
			invalid("free frame %q frees no axes", f.Name)
		}
	}
	for _, pen := range p.OffsetPenalties {
		if pen.JointScale < 0 || pen.PositionScale < 0 || pen.RotationScale < 0 {
			invalid("offset penalty %q has a negative scale", pen.Name)
		}
	}
	if err := (solver.Options{Method: p.Solver}).Validate(); err != nil {
		invalid("%v", err)
	}
	if p.MaxIterations < 0 {
		invalid("max_iterations must not be negative")
	}
	if p.MaxTime < 0 {
		invalid("max_time must not be negative")
	}
	if p.FunctionTolerance < 0 || p.GradientTolerance < 0 || p.ParameterTolerance < 0 || p.ConvergenceTolerance < 0 {
		invalid("tolerances must not be negative")
	}
	if p.NumThreads < 0 {
		invalid("num_threads must not be negative")
	}
	return errs
}

// solverOptions turns the params into solver options.
func (p *OptimizationParams) solverOptions() solver.Options {
	opts := solver.DefaultOptions()
	opts.Method = p.Solver
	opts.MaxIterations = p.MaxIterations
	opts.MaxTime = p.MaxTime
	opts.FunctionTolerance = p.FunctionTolerance
	if p.ConvergenceTolerance > 0 {
		opts.FunctionTolerance = p.ConvergenceTolerance
	}
	opts.GradientTolerance = p.GradientTolerance
	opts.ParameterTolerance = p.ParameterTolerance
	opts.NumThreads = p.NumThreads
	opts.Verbose = p.Verbose
	return opts
}
