package store

import (
	"github.com/pkg/errors"

	"github.com/MarqRazz/robot-calibration/calibration/optimizer"
)

// NewRun captures the outcome of a finished solve.
func NewRun(robot string, status optimizer.Status, opt *optimizer.Optimizer) (*Run, error) {
	summary := opt.Summary()
	if summary == nil {
		return nil, optimizer.ErrNoResult
	}
	parser, err := opt.Offsets()
	if err != nil {
		return nil, err
	}
	values, err := opt.OffsetValues()
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:            summary.ID.String(),
		Robot:         robot,
		Status:        int(status),
		StatusText:    status.String(),
		Converged:     summary.Converged,
		Solver:        string(summary.Method),
		Termination:   string(summary.Termination),
		Message:       summary.Message,
		InitialCost:   summary.InitialCost,
		FinalCost:     summary.FinalCost,
		Iterations:    summary.Iterations,
		NumParameters: opt.NumParameters(),
		NumResiduals:  opt.NumResiduals(),
		Duration:      summary.Duration,
		CreatedAt:     summary.Start,
	}
	for _, name := range parser.Names() {
		run.Offsets = append(run.Offsets, Offset{Name: name, Value: parser.Get(values, name)})
	}
	for _, camera := range opt.CameraNames() {
		model, err := opt.CalibratedIntrinsics(camera)
		if err != nil {
			return nil, errors.Wrapf(err, "camera %q", camera)
		}
		cam := CameraCalibration{Camera: camera, Intrinsics: *model.PinholeCameraIntrinsics}
		if model.Distortion != nil {
			cam.DistortionType = model.Distortion.ModelType()
			cam.Distortion = model.Distortion.Parameters()
		}
		run.Cameras = append(run.Cameras, cam)
	}
	return run, nil
}
