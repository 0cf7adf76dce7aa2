package transform

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func testIntrinsics() *PinholeCameraIntrinsics {
	return &PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 525, Fy: 520, Ppx: 319.5, Ppy: 239.5}
}

func TestPinholeProjection(t *testing.T) {
	intrinsics := testIntrinsics()
	test.That(t, intrinsics.CheckValid(), test.ShouldBeNil)

	u, v := intrinsics.PointToPixel(0.1, -0.05, 1.0)
	test.That(t, u, test.ShouldAlmostEqual, 0.1*525+319.5)
	test.That(t, v, test.ShouldAlmostEqual, -0.05*520+239.5)

	x, y, z := intrinsics.PixelToPoint(u, v, 1.0)
	test.That(t, x, test.ShouldAlmostEqual, 0.1)
	test.That(t, y, test.ShouldAlmostEqual, -0.05)
	test.That(t, z, test.ShouldAlmostEqual, 1.0)

	u, v = intrinsics.PointToPixel(1, 1, 0)
	test.That(t, u, test.ShouldEqual, -1.)
	test.That(t, v, test.ShouldEqual, -1.)
}

func TestCheckValid(t *testing.T) {
	var missing *PinholeCameraIntrinsics
	test.That(t, errors.Is(missing.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)

	bad := testIntrinsics()
	bad.Fx = 0
	test.That(t, errors.Is(bad.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)

	bad = testIntrinsics()
	bad.Ppy = -1
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)

	_, err := NewBrownConrady(make([]float64, 6))
	test.That(t, errors.Is(err, ErrInvalidDistortion), test.ShouldBeTrue)

	bc, err := NewBrownConrady([]float64{math.NaN()})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bc.CheckValid(), test.ShouldNotBeNil)

	model := &PinholeCameraModel{PinholeCameraIntrinsics: testIntrinsics(), Distortion: bc}
	test.That(t, model.CheckValid(), test.ShouldNotBeNil)
}

func TestDistortionRoundTrip(t *testing.T) {
	d, err := NewDistorter(BrownConradyDistortionType, []float64{-0.2, 0.05, 0.001, 0.0005, -0.0003})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.ModelType(), test.ShouldEqual, BrownConradyDistortionType)
	test.That(t, d.Parameters(), test.ShouldHaveLength, 5)

	inv, err := NewDistorter(InverseBrownConradyDistortionType, d.Parameters())
	test.That(t, err, test.ShouldBeNil)
	for _, pt := range []r2.Point{{X: 0.1, Y: 0.2}, {X: -0.3, Y: 0.05}, {X: 0, Y: 0}} {
		xd, yd := d.Transform(pt.X, pt.Y)
		xu, yu := inv.Transform(xd, yd)
		test.That(t, xu, test.ShouldAlmostEqual, pt.X, 1e-9)
		test.That(t, yu, test.ShouldAlmostEqual, pt.Y, 1e-9)
	}

	none, err := NewDistorter(NoDistortionType, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, none, test.ShouldBeNil)

	_, err = NewDistorter("kannala_brandt", nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCameraModelProject(t *testing.T) {
	bc, err := NewBrownConrady([]float64{-0.1, 0.01})
	test.That(t, err, test.ShouldBeNil)
	model := &PinholeCameraModel{PinholeCameraIntrinsics: testIntrinsics(), Distortion: bc}
	test.That(t, model.CheckValid(), test.ShouldBeNil)

	pt := r3.Vector{X: 0.2, Y: 0.1, Z: 1.5}
	px, err := model.Project(pt)
	test.That(t, err, test.ShouldBeNil)
	back := model.Unproject(px, 1.5)
	test.That(t, back.Sub(pt).Norm(), test.ShouldBeLessThan, 1e-8)

	_, err = model.Project(r3.Vector{X: 1, Z: -1})
	test.That(t, errors.Is(err, ErrBehindCamera), test.ShouldBeTrue)

	ideal := &PinholeCameraModel{PinholeCameraIntrinsics: testIntrinsics()}
	px, err = ideal.Project(pt)
	test.That(t, err, test.ShouldBeNil)
	u, v := ideal.PointToPixel(pt.X, pt.Y, pt.Z)
	test.That(t, px.X, test.ShouldAlmostEqual, u)
	test.That(t, px.Y, test.ShouldAlmostEqual, v)
}

func TestIntrinsicsFromJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intrinsics.json")
	data := `{"width_px": 640, "height_px": 480, "fx": 525, "fy": 520, "ppx": 319.5, "ppy": 239.5}`
	test.That(t, os.WriteFile(path, []byte(data), 0o600), test.ShouldBeNil)

	intrinsics, err := NewPinholeCameraIntrinsicsFromJSONFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intrinsics, test.ShouldResemble, testIntrinsics())

	_, err = NewPinholeCameraIntrinsicsFromJSONFile(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}
