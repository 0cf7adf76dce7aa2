// Package spatialmath defines rigid transforms and geometry used by the kinematic models.
package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a translation in meters followed by an orientation.
type Pose interface {
	Point() r3.Vector
	Orientation() Orientation
}

// dualQuaternion is the Pose implementation; the real part is the rotation and the dual part
// encodes half the translation multiplied by the rotation.
type dualQuaternion struct {
	dualquat.Number
}

func newDualQuaternion() *dualQuaternion {
	return &dualQuaternion{dualquat.Number{Real: quat.Number{Real: 1}}}
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return newDualQuaternion()
}

// NewPose builds a pose from a point and an orientation. A nil orientation is the identity.
func NewPose(p r3.Vector, o Orientation) Pose {
	q := newDualQuaternion()
	if o != nil {
		q.Real = Normalize(o.Quaternion())
	}
	q.setTranslation(p)
	return q
}

// NewPoseFromPoint returns a pure translation.
func NewPoseFromPoint(p r3.Vector) Pose {
	return NewPose(p, nil)
}

// NewPoseFromOrientation returns a pure rotation.
func NewPoseFromOrientation(o Orientation) Pose {
	return NewPose(r3.Vector{}, o)
}

func (q *dualQuaternion) setTranslation(p r3.Vector) {
	q.Dual = quat.Mul(quat.Number{Imag: p.X / 2, Jmag: p.Y / 2, Kmag: p.Z / 2}, q.Real)
}

// Point returns the translation of the transform.
func (q *dualQuaternion) Point() r3.Vector {
	t := quat.Scale(2, quat.Mul(q.Dual, quat.Conj(q.Real)))
	return r3.Vector{X: t.Imag, Y: t.Jmag, Z: t.Kmag}
}

// Orientation returns the rotation of the transform.
func (q *dualQuaternion) Orientation() Orientation {
	o := Quaternion(q.Real)
	return &o
}

func (q *dualQuaternion) String() string {
	ea := QuatToEulerAngles(q.Real)
	p := q.Point()
	return fmt.Sprintf("{X:%.6f Y:%.6f Z:%.6f Roll:%.6f Pitch:%.6f Yaw:%.6f}", p.X, p.Y, p.Z, ea.Roll, ea.Pitch, ea.Yaw)
}

func asDualQuaternion(p Pose) *dualQuaternion {
	if dq, ok := p.(*dualQuaternion); ok {
		return dq
	}
	return NewPose(p.Point(), p.Orientation()).(*dualQuaternion)
}

// Compose returns the transform a then b, i.e. a * b.
func Compose(a, b Pose) Pose {
	result := &dualQuaternion{dualquat.Mul(asDualQuaternion(a).Number, asDualQuaternion(b).Number)}
	// Keep the rotation unit length across long chains.
	if norm := quat.Abs(result.Real); norm != 1 && norm != 0 {
		result.Real = quat.Scale(1/norm, result.Real)
		result.Dual = quat.Scale(1/norm, result.Dual)
	}
	return result
}

// PoseInverse returns the inverse transform.
func PoseInverse(p Pose) Pose {
	dq := asDualQuaternion(p)
	return &dualQuaternion{dualquat.Number{Real: quat.Conj(dq.Real), Dual: quat.Conj(dq.Dual)}}
}

// PoseBetween returns the transform t such that Compose(a, t) == b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// TransformPoint applies a pose to a point expressed in the pose's child frame.
func TransformPoint(p Pose, pt r3.Vector) r3.Vector {
	return RotatePoint(asDualQuaternion(p).Real, pt).Add(p.Point())
}

// PoseDelta returns the translation and rotation vector taking a to b, expressed in a's parent frame.
func PoseDelta(a, b Pose) (r3.Vector, r3.Vector) {
	rot := quat.Mul(asDualQuaternion(b).Real, quat.Conj(asDualQuaternion(a).Real))
	return b.Point().Sub(a.Point()), QuatToR3AA(rot)
}

// PoseAlmostEqual reports whether two poses are equal within 1e-8 in translation and rotation.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, 1e-8)
}

// PoseAlmostEqualEps is PoseAlmostEqual with a caller supplied tolerance.
func PoseAlmostEqualEps(a, b Pose, epsilon float64) bool {
	dp, dr := PoseDelta(a, b)
	return dp.Norm() <= epsilon && dr.Norm() <= epsilon
}

// PoseIsFinite reports whether every component of the pose is a finite number.
func PoseIsFinite(p Pose) bool {
	dq := asDualQuaternion(p)
	for _, v := range []float64{
		dq.Real.Real, dq.Real.Imag, dq.Real.Jmag, dq.Real.Kmag,
		dq.Dual.Real, dq.Dual.Imag, dq.Dual.Jmag, dq.Dual.Kmag,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
