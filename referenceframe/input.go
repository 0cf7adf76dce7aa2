package referenceframe

import (
	"sort"

	"github.com/golang/geo/r3"

	"github.com/MarqRazz/robot-calibration/spatialmath"
)

// JointPositions maps joint names to positions: radians for revolute joints, meters for prismatic.
type JointPositions map[string]float64

// Names returns the joint names in sorted order.
func (jp JointPositions) Names() []string {
	names := make([]string, 0, len(jp))
	for name := range jp {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Corrections supplies the calibration adjustments applied while walking a chain.
// A nil Corrections applies none.
type Corrections interface {
	// JointBias is added to the measured position of the named joint.
	JointBias(joint string) float64
	// JointCorrection is applied before the named joint's origin transform.
	JointCorrection(joint string) spatialmath.Pose
}

// NoCorrections applies no calibration adjustment.
type NoCorrections struct{}

// JointBias returns 0.
func (NoCorrections) JointBias(string) float64 { return 0 }

// JointCorrection returns the identity.
func (NoCorrections) JointCorrection(string) spatialmath.Pose { return spatialmath.NewZeroPose() }

// Limit describes the valid range of a joint.
type Limit struct {
	Min float64
	Max float64
}

// Contains reports whether the value lies inside the limit.
func (l Limit) Contains(v float64) bool {
	return v >= l.Min && v <= l.Max
}

func normalizedAxis(axis r3.Vector) (r3.Vector, bool) {
	n := axis.Norm()
	if n < 1e-12 {
		return r3.Vector{}, false
	}
	return axis.Mul(1 / n), true
}
