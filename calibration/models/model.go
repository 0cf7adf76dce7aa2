// Package models predicts what a sensor should observe for a sample given the current
// calibration corrections.
package models

import (
	"github.com/pkg/errors"

	"github.com/MarqRazz/robot-calibration/calibration/meshloader"
	"github.com/MarqRazz/robot-calibration/calibration/offsets"
	"github.com/MarqRazz/robot-calibration/data"
	"github.com/MarqRazz/robot-calibration/referenceframe"
	"github.com/MarqRazz/robot-calibration/rimage/transform"
)

// Type names a model variant.
type Type string

const (
	// TypeChain3d predicts a 3D point in the root frame by forward kinematics.
	TypeChain3d = Type("chain3d")
	// TypeCamera3d predicts a 3D point as measured by a depth camera.
	TypeCamera3d = Type("camera3d")
	// TypeCamera2d predicts a pixel of a 2D camera.
	TypeCamera2d = Type("camera2d")
)

// ErrUnknownModelType is returned for model types that have no implementation.
var ErrUnknownModelType = errors.New("unknown model type")

// Model is the capability every sensor model exposes to the optimizer. A Model is not safe for
// concurrent use; workers operate on their own Clone.
type Model interface {
	Name() string
	Type() Type
	// Dim is the size of the measurement space.
	Dim() int
	Root() string
	// Frame is the target frame of the model: the tip of the chain or the camera optical frame.
	Frame() string
	// DependsOn returns the joints whose corrections can change the prediction of f.
	DependsOn(f *data.Feature) ([]string, error)
	SetCorrections(c *offsets.Corrections)
	Clone() Model
	// Project returns the predicted measurement of f for the given joint positions.
	Project(positions referenceframe.JointPositions, f *data.Feature) ([]float64, error)
}

// CloudSource supplies mesh point clouds for mesh features.
type CloudSource interface {
	Load(frame string) (*meshloader.Cloud, error)
}

// DistortionConfig selects a lens distortion model for a camera.
type DistortionConfig struct {
	Type       transform.DistortionType `json:"type" yaml:"type"`
	Parameters []float64                `json:"parameters" yaml:"parameters,flow"`
}

// Config describes one model.
type Config struct {
	Name       string                             `json:"name" yaml:"name"`
	Type       Type                               `json:"type" yaml:"type"`
	Frame      string                             `json:"frame" yaml:"frame"`
	Intrinsics *transform.PinholeCameraIntrinsics `json:"intrinsics,omitempty" yaml:"intrinsics,omitempty"`
	// IntrinsicsFile is a JSON intrinsics file read when Intrinsics is not given inline.
	IntrinsicsFile string `json:"intrinsics_file,omitempty" yaml:"intrinsics_file,omitempty"`
	Distortion *DistortionConfig                  `json:"distortion,omitempty" yaml:"distortion,omitempty"`
}

// Validate checks the parts of a config that do not need the robot description.
func (cfg *Config) Validate() error {
	if cfg.Name == "" {
		return errors.New("model has no name")
	}
	if cfg.Frame == "" {
		return errors.Errorf("model %q has no frame", cfg.Name)
	}
	switch cfg.Type {
	case TypeChain3d:
		return nil
	case TypeCamera3d, TypeCamera2d:
		if err := cfg.Intrinsics.CheckValid(); err != nil {
			return errors.Wrapf(err, "model %q", cfg.Name)
		}
		return nil
	default:
		return errors.Wrapf(ErrUnknownModelType, "model %q has type %q", cfg.Name, cfg.Type)
	}
}

// New builds the model described by cfg. Chains are resolved from root.
func New(cfg Config, tree *referenceframe.Tree, root string, clouds CloudSource) (Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeCamera3d, TypeCamera2d:
		return NewCameraModel(cfg, tree, root, clouds)
	default:
		return NewChainModel(cfg.Name, tree, root, cfg.Frame, clouds)
	}
}

// IsCamera reports whether a model type observes through camera intrinsics.
func IsCamera(t Type) bool {
	return t == TypeCamera3d || t == TypeCamera2d
}
