package meshloader

import (
	"encoding/binary"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/MarqRazz/robot-calibration/logging"
	"github.com/MarqRazz/robot-calibration/referenceframe"
	"github.com/MarqRazz/robot-calibration/spatialmath"
	"github.com/MarqRazz/robot-calibration/testutils"
)

func binarySTL(triangles [][3]r3.Vector) []byte {
	raw := make([]byte, stlHeaderSize+4+len(triangles)*stlTriangleSize)
	copy(raw, "solid binary files may start with solid too")
	binary.LittleEndian.PutUint32(raw[stlHeaderSize:], uint32(len(triangles)))
	for i, tri := range triangles {
		base := stlHeaderSize + 4 + i*stlTriangleSize + 12
		for v, pt := range tri {
			for c, val := range []float64{pt.X, pt.Y, pt.Z} {
				binary.LittleEndian.PutUint32(raw[base+v*12+c*4:], math.Float32bits(float32(val)))
			}
		}
	}
	return raw
}

func TestParseSTL(t *testing.T) {
	triangles, err := ParseSTL([]byte(testutils.CubeSTL(1)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, triangles, test.ShouldHaveLength, 12)
	area := 0.
	for _, tri := range triangles {
		area += tri.Area()
	}
	test.That(t, area, test.ShouldAlmostEqual, 6.)

	raw := binarySTL([][3]r3.Vector{{{X: 0}, {X: 1}, {Y: 1}}, {{Z: 1}, {X: 1, Z: 1}, {Y: 1, Z: 1}}})
	triangles, err = ParseSTL(raw)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, triangles, test.ShouldHaveLength, 2)
	test.That(t, triangles[1].Points()[1], test.ShouldResemble, r3.Vector{X: 1, Z: 1})

	_, err = ParseSTL([]byte("not a mesh"))
	test.That(t, errors.Is(err, ErrBadSTL), test.ShouldBeTrue)
	_, err = ParseSTL([]byte("solid x\nfacet normal 0 0 1\nouter loop\nvertex 0 0 0\nvertex 1 0 0\nendloop\n"))
	test.That(t, errors.Is(err, ErrBadSTL), test.ShouldBeTrue)
	_, err = ParseSTL([]byte("solid x\nvertex 0 zero 0\n"))
	test.That(t, errors.Is(err, ErrBadSTL), test.ShouldBeTrue)
}

const meshRobot = `<robot name="meshes">
  <link name="base_link"/>
  <link name="tool">
    <visual>
      <origin xyz="0 0 1"/>
      <geometry><mesh filename="package://meshes/tool.stl" scale="2 2 2"/></geometry>
    </visual>
  </link>
  <link name="plate">
    <collision>
      <geometry><mesh filename="plate.stl"/></geometry>
    </collision>
  </link>
  <link name="bare"/>
  <joint name="tool_joint" type="fixed"><parent link="base_link"/><child link="tool"/></joint>
  <joint name="plate_joint" type="fixed"><parent link="base_link"/><child link="plate"/></joint>
  <joint name="bare_joint" type="fixed"><parent link="base_link"/><child link="bare"/></joint>
</robot>`

func TestLoader(t *testing.T) {
	t.Setenv("ROS_PACKAGE_PATH", "")
	tree, err := referenceframe.ParseURDF([]byte(meshRobot))
	test.That(t, err, test.ShouldBeNil)

	pkgDir := t.TempDir()
	testutils.WriteFile(t, pkgDir, filepath.Join("meshes", "tool.stl"), testutils.CubeSTL(0.1))
	testutils.WriteFile(t, pkgDir, "plate.stl", testutils.CubeSTL(1))

	logger, logs := logging.NewObservedTestLogger(t)
	loader := New(tree, logger, WithSearchPaths(pkgDir), WithSpacing(0.05))

	cloud, err := loader.Load("tool")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Frame, test.ShouldEqual, "tool")
	test.That(t, len(cloud.Points), test.ShouldBeGreaterThan, 8)
	for _, pt := range cloud.Points {
		// Scaled to a 0.2 cube and moved up by the visual origin.
		test.That(t, math.Abs(pt.X), test.ShouldBeLessThanOrEqualTo, 0.1+1e-9)
		test.That(t, pt.Z, test.ShouldBeBetweenOrEqual, 0.9-1e-9, 1.1+1e-9)
	}
	test.That(t, logs.FilterMessage("loaded mesh").Len(), test.ShouldEqual, 1)

	again, err := loader.Load("tool")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldEqual, cloud)
	test.That(t, logs.FilterMessage("loaded mesh").Len(), test.ShouldEqual, 1)

	plate, err := loader.Load("plate")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(plate.Points), test.ShouldBeGreaterThan, 0)

	_, err = loader.Load("bare")
	test.That(t, errors.Is(err, ErrNoMesh), test.ShouldBeTrue)
	_, err = loader.Load("ghost")
	test.That(t, errors.Is(err, referenceframe.ErrUnresolvableFrame), test.ShouldBeTrue)

	unresolved := New(tree, nil)
	_, err = unresolved.Load("tool")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCloudClosest(t *testing.T) {
	cloud := &Cloud{Frame: "f", Points: []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}}}
	pose := spatialmath.NewPoseFromPoint(r3.Vector{X: 10})

	closest, ok := cloud.Closest(pose, r3.Vector{X: 10, Y: 2})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, closest.X, test.ShouldAlmostEqual, 10.)
	test.That(t, closest.Y, test.ShouldAlmostEqual, 1.)

	_, ok = (&Cloud{}).Closest(pose, r3.Vector{})
	test.That(t, ok, test.ShouldBeFalse)
}
