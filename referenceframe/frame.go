// Package referenceframe parses robot descriptions into an immutable tree of frames and
// computes transforms between frames for given joint positions.
package referenceframe

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/MarqRazz/robot-calibration/spatialmath"
)

// JointType is the motion type of a joint.
type JointType string

// Supported joint types.
const (
	RevoluteJoint   JointType = "revolute"
	ContinuousJoint JointType = "continuous"
	PrismaticJoint  JointType = "prismatic"
	FixedJoint      JointType = "fixed"
)

// Joint connects a parent frame to a child frame.
type Joint struct {
	Name   string
	Type   JointType
	Parent string
	Child  string
	// Origin places the joint frame in the parent frame.
	Origin spatialmath.Pose
	// Axis is kept as written; it is normalized when the joint moves.
	Axis  r3.Vector
	Limit Limit
}

// Moves reports whether the joint has a degree of freedom.
func (j *Joint) Moves() bool {
	return j.Type != FixedJoint
}

// Motion returns the transform produced by the joint at the given position.
func (j *Joint) Motion(position float64) (spatialmath.Pose, error) {
	if !j.Moves() {
		return spatialmath.NewZeroPose(), nil
	}
	axis, ok := normalizedAxis(j.Axis)
	if !ok {
		return nil, NewSingularChainError(j.Name, "zero-length axis")
	}
	if math.IsNaN(position) || math.IsInf(position, 0) {
		return nil, NewSingularChainError(j.Name, "non-finite position")
	}
	if j.Type == PrismaticJoint {
		return spatialmath.NewPoseFromPoint(axis.Mul(position)), nil
	}
	return spatialmath.NewPoseFromOrientation(&spatialmath.R4AA{
		Theta: position,
		RX:    axis.X,
		RY:    axis.Y,
		RZ:    axis.Z,
	}), nil
}

// Transform returns the child frame in the parent frame: correction * origin * motion(q + bias).
func (j *Joint) Transform(positions JointPositions, corrections Corrections) (spatialmath.Pose, error) {
	if corrections == nil {
		corrections = NoCorrections{}
	}
	local := spatialmath.Compose(corrections.JointCorrection(j.Name), j.Origin)
	if !j.Moves() {
		return local, nil
	}
	q, ok := positions[j.Name]
	if !ok {
		return nil, NewMissingJointStateError(j.Name)
	}
	motion, err := j.Motion(q + corrections.JointBias(j.Name))
	if err != nil {
		return nil, err
	}
	return spatialmath.Compose(local, motion), nil
}
