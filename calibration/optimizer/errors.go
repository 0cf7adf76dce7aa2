package optimizer

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/MarqRazz/robot-calibration/calibration/meshloader"
	"github.com/MarqRazz/robot-calibration/calibration/models"
	"github.com/MarqRazz/robot-calibration/calibration/offsets"
	"github.com/MarqRazz/robot-calibration/data"
	"github.com/MarqRazz/robot-calibration/referenceframe"
	"github.com/MarqRazz/robot-calibration/rimage/transform"
)

var (
	// ErrUnknownModel is returned when a sample names a sensor no model is configured for.
	ErrUnknownModel = errors.New("unknown model")
	// ErrInvalidParams is returned for malformed optimization params.
	ErrInvalidParams = errors.New("invalid optimization params")
	// ErrOptimizerBusy is returned when Optimize is called on an optimizer that is solving or
	// holds a result. Reset it first.
	ErrOptimizerBusy = errors.New("optimizer is not ready to solve")
	// ErrNoResult is returned by accessors that need a finished solve.
	ErrNoResult = errors.New("no solve result")
)

// NewUnknownModelError names the sample and sensor without a model.
func NewUnknownModelError(sampleIdx int, sensor string) error {
	return errors.Wrapf(ErrUnknownModel, "sample %d observes with %q", sampleIdx, sensor)
}

var configurationErrors = []error{
	referenceframe.ErrNoModelInformation,
	referenceframe.ErrInvalidDescription,
	referenceframe.ErrUnresolvableFrame,
	ErrUnknownModel,
	ErrInvalidParams,
	offsets.ErrDuplicateOffset,
	offsets.ErrUnknownOffset,
	offsets.ErrFrozenParser,
	models.ErrUnknownModelType,
	meshloader.ErrNoMesh,
	meshloader.ErrBadSTL,
	transform.ErrNoIntrinsics,
	transform.ErrInvalidDistortion,
}

var datasetErrors = []error{
	data.ErrEmptyDataset,
	data.ErrMalformedSample,
	referenceframe.ErrMissingJointState,
}

// IsConfigurationError reports whether err comes from the robot description or the params.
func IsConfigurationError(err error) bool {
	return err != nil && lo.ContainsBy(configurationErrors, func(target error) bool { return errors.Is(err, target) })
}

// IsDatasetError reports whether err comes from the samples.
func IsDatasetError(err error) bool {
	return err != nil && lo.ContainsBy(datasetErrors, func(target error) bool { return errors.Is(err, target) })
}

// Status is the outcome code of Optimize.
type Status int

const (
	// StatusConverged means the solve met a tolerance with a fully constrained problem.
	StatusConverged Status = iota
	// StatusNoConvergence means an iteration or time limit was hit first.
	StatusNoConvergence
	// StatusNumericFailure means a residual or Jacobian became NaN or infinite, or a chain broke.
	StatusNumericFailure
	// StatusRankDeficient means the samples do not constrain every free parameter.
	StatusRankDeficient
	// StatusConfigurationError means the description or params were rejected before solving.
	StatusConfigurationError
	// StatusDatasetError means the samples were rejected before solving.
	StatusDatasetError
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusNoConvergence:
		return "no convergence"
	case StatusNumericFailure:
		return "numeric failure"
	case StatusRankDeficient:
		return "rank deficient"
	case StatusConfigurationError:
		return "configuration error"
	case StatusDatasetError:
		return "dataset error"
	}
	return "unknown"
}

// StatusOf classifies an error returned before solving. Unclassified errors count as
// configuration errors since nothing about the samples was at fault.
func StatusOf(err error) Status {
	if IsDatasetError(err) && !IsConfigurationError(err) {
		return StatusDatasetError
	}
	return StatusConfigurationError
}
