package spatialmath

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestComposeAndInverse(t *testing.T) {
	a := NewPose(r3.Vector{X: 1, Y: 2, Z: 3}, &EulerAngles{Roll: 0.1, Pitch: -0.4, Yaw: 1.2})
	b := NewPose(r3.Vector{X: -0.5, Z: 0.25}, &R4AA{Theta: 0.7, RX: 0, RY: 1, RZ: 1})

	ab := Compose(a, b)
	test.That(t, PoseAlmostEqual(Compose(ab, PoseInverse(b)), a), test.ShouldBeTrue)
	test.That(t, PoseAlmostEqual(Compose(PoseInverse(a), a), NewZeroPose()), test.ShouldBeTrue)
	test.That(t, PoseAlmostEqual(Compose(a, PoseBetween(a, b)), b), test.ShouldBeTrue)

	// Composition matches applying both transforms in sequence to a point.
	pt := r3.Vector{X: 0.3, Y: -0.2, Z: 0.9}
	direct := TransformPoint(ab, pt)
	sequential := TransformPoint(a, TransformPoint(b, pt))
	test.That(t, direct.Sub(sequential).Norm(), test.ShouldBeLessThan, 1e-12)
}

func TestTranslationThenRotation(t *testing.T) {
	// Rotate 90 degrees about Z and translate along X: the child X axis points along parent Y.
	p := NewPose(r3.Vector{X: 1}, &R4AA{Theta: math.Pi / 2, RZ: 1})
	out := TransformPoint(p, r3.Vector{X: 1})
	test.That(t, out.X, test.ShouldAlmostEqual, 1)
	test.That(t, out.Y, test.ShouldAlmostEqual, 1)
	test.That(t, out.Z, test.ShouldAlmostEqual, 0)
	test.That(t, p.Point().X, test.ShouldAlmostEqual, 1)
}

func TestEulerAnglesRoundTrip(t *testing.T) {
	ea := &EulerAngles{Roll: 0.3, Pitch: -1.1, Yaw: 2.5}
	back := QuatToEulerAngles(ea.Quaternion())
	test.That(t, back.Roll, test.ShouldAlmostEqual, ea.Roll)
	test.That(t, back.Pitch, test.ShouldAlmostEqual, ea.Pitch)
	test.That(t, back.Yaw, test.ShouldAlmostEqual, ea.Yaw)

	// URDF convention: pure yaw equals rotation about Z.
	yaw := &EulerAngles{Yaw: 0.4}
	test.That(t, OrientationAlmostEqual(yaw, &R4AA{Theta: 0.4, RZ: 1}), test.ShouldBeTrue)
}

func TestRotationVector(t *testing.T) {
	rv := r3.Vector{X: 0.1, Y: -0.2, Z: 0.05}
	o := NewOrientationFromRotationVector(rv)
	back := o.RotationVector()
	test.That(t, back.Sub(rv).Norm(), test.ShouldBeLessThan, 1e-12)

	zero := NewOrientationFromRotationVector(r3.Vector{})
	test.That(t, OrientationAlmostEqual(zero, NewZeroOrientation()), test.ShouldBeTrue)
	test.That(t, zero.RotationVector().Norm(), test.ShouldEqual, 0.)

	between := OrientationBetween(&R4AA{Theta: 0.2, RX: 1}, &R4AA{Theta: 0.5, RX: 1})
	test.That(t, between.AxisAngles().Theta, test.ShouldAlmostEqual, 0.3)
}

func TestPoseDelta(t *testing.T) {
	a := NewPose(r3.Vector{X: 1}, &R4AA{Theta: 0.1, RY: 1})
	b := NewPose(r3.Vector{X: 1.5}, &R4AA{Theta: 0.3, RY: 1})
	dp, dr := PoseDelta(a, b)
	test.That(t, dp.X, test.ShouldAlmostEqual, 0.5)
	test.That(t, dr.Y, test.ShouldAlmostEqual, 0.2)
	test.That(t, PoseAlmostEqualEps(a, b, 0.1), test.ShouldBeFalse)
	test.That(t, PoseIsFinite(a), test.ShouldBeTrue)
	test.That(t, PoseIsFinite(NewPoseFromPoint(r3.Vector{X: math.NaN()})), test.ShouldBeFalse)
}

func TestEulerAnglesMatchRotationMatrices(t *testing.T) {
	for _, ea := range []EulerAngles{
		{Roll: 0.5, Pitch: 0.2, Yaw: -0.3},
		{Roll: -1.5707963267948966, Yaw: -1.5707963267948966},
		{Pitch: 1.2},
	} {
		ea := ea
		// Fixed axes: roll about X first, then pitch about Y, then yaw about Z.
		m := mgl64.HomogRotate3DZ(ea.Yaw).Mul4(mgl64.HomogRotate3DY(ea.Pitch)).Mul4(mgl64.HomogRotate3DX(ea.Roll))
		q := mgl64.Mat4ToQuat(m)
		expected := quat.Number{Real: q.W, Imag: q.V[0], Jmag: q.V[1], Kmag: q.V[2]}
		test.That(t, QuaternionAlmostEqual(ea.Quaternion(), expected, 1e-9), test.ShouldBeTrue)
	}
}

func TestMesh(t *testing.T) {
	tri := NewTriangle(r3.Vector{}, r3.Vector{X: 1}, r3.Vector{Y: 1})
	test.That(t, tri.Area(), test.ShouldAlmostEqual, 0.5)
	test.That(t, tri.Normal().Z, test.ShouldAlmostEqual, 1)

	mesh := NewMesh(NewPoseFromPoint(r3.Vector{Z: 2}), []*Triangle{tri})
	closest, ok := mesh.ClosestPoint(r3.Vector{X: 0.25, Y: 0.25, Z: 5})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, closest.Sub(r3.Vector{X: 0.25, Y: 0.25, Z: 2}).Norm(), test.ShouldBeLessThan, 1e-12)

	closest, _ = mesh.ClosestPoint(r3.Vector{X: 2, Y: -1, Z: 2})
	test.That(t, closest.Sub(r3.Vector{X: 1, Z: 2}).Norm(), test.ShouldBeLessThan, 1e-12)

	points := mesh.SamplePoints(0.5)
	// The sqrt(2) hypotenuse needs 3 steps: (3+1)(3+2)/2 samples.
	test.That(t, points, test.ShouldHaveLength, 10)
	for _, pt := range points {
		test.That(t, pt.Z, test.ShouldAlmostEqual, 2)
	}

	scaled := mesh.Scale(r3.Vector{X: 2, Y: 2, Z: 2})
	test.That(t, scaled.Triangles()[0].Area(), test.ShouldAlmostEqual, 2)

	moved := mesh.Transform(NewPoseFromPoint(r3.Vector{X: 1}))
	test.That(t, moved.Pose().Point().X, test.ShouldAlmostEqual, 1)
	test.That(t, moved.Pose().Point().Z, test.ShouldAlmostEqual, 2)
}
