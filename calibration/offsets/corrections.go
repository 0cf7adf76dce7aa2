package offsets

import (
	"github.com/MarqRazz/robot-calibration/spatialmath"
)

// Corrections is an immutable snapshot of the adjustments encoded by one offset vector.
// A nil *Corrections applies nothing.
type Corrections struct {
	bias    map[string]float64
	frames  map[string]spatialmath.Pose // keyed by corrected joint
	scalars map[string]float64          // keyed by slot name
}

// JointBias returns the position bias of a joint.
func (c *Corrections) JointBias(joint string) float64 {
	if c == nil {
		return 0
	}
	return c.bias[joint]
}

// JointCorrection returns the correction applied before a joint's origin.
func (c *Corrections) JointCorrection(joint string) spatialmath.Pose {
	if c == nil {
		return spatialmath.NewZeroPose()
	}
	if p, ok := c.frames[joint]; ok {
		return p
	}
	return spatialmath.NewZeroPose()
}

// Scalar returns the value of any slot by name, 0 if unregistered.
func (c *Corrections) Scalar(slotName string) float64 {
	if c == nil {
		return 0
	}
	return c.scalars[slotName]
}
