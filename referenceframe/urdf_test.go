package referenceframe

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/MarqRazz/robot-calibration/spatialmath"
)

const twoLinkArm = `<?xml version="1.0"?>
<robot name="two_link">
  <link name="base_link"/>
  <link name="upper_arm">
    <visual>
      <origin xyz="0 0 0.1" rpy="0 0 0"/>
      <geometry><mesh filename="package://demo/meshes/upper.stl" scale="0.001 0.001 0.001"/></geometry>
    </visual>
  </link>
  <link name="forearm"/>
  <link name="tool"/>
  <link name="camera_link"/>
  <joint name="shoulder" type="revolute">
    <parent link="base_link"/>
    <child link="upper_arm"/>
    <origin xyz="0 0 0.5" rpy="0 0 0"/>
    <axis xyz="0 0 1"/>
    <limit lower="-3.14" upper="3.14"/>
  </joint>
  <joint name="elbow" type="continuous">
    <parent link="upper_arm"/>
    <child link="forearm"/>
    <origin xyz="1 0 0" rpy="0 0 0"/>
    <axis xyz="0 0 2"/>
  </joint>
  <joint name="slide" type="prismatic">
    <parent link="forearm"/>
    <child link="tool"/>
    <origin xyz="1 0 0"/>
    <axis xyz="1 0 0"/>
    <limit lower="0" upper="0.2"/>
  </joint>
  <joint name="camera_mount" type="fixed">
    <parent link="base_link"/>
    <child link="camera_link"/>
    <origin xyz="0 0 2" rpy="0 1.5707963267948966 0"/>
  </joint>
</robot>`

func TestParseURDF(t *testing.T) {
	tree, err := ParseURDF([]byte(twoLinkArm))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tree.Name(), test.ShouldEqual, "two_link")
	test.That(t, tree.Root(), test.ShouldEqual, "base_link")
	test.That(t, tree.JointNames(), test.ShouldResemble, []string{"camera_mount", "elbow", "shoulder", "slide"})
	test.That(t, tree.FrameNames(), test.ShouldHaveLength, 5)

	elbow, ok := tree.Joint("elbow")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, elbow.Type, test.ShouldEqual, ContinuousJoint)
	test.That(t, math.IsInf(elbow.Limit.Max, 1), test.ShouldBeTrue)
	// The axis is stored as written.
	test.That(t, elbow.Axis, test.ShouldResemble, r3.Vector{Z: 2})

	slide, _ := tree.Joint("slide")
	test.That(t, slide.Limit, test.ShouldResemble, Limit{Min: 0, Max: 0.2})
	test.That(t, slide.Limit.Contains(0.1), test.ShouldBeTrue)

	upper, err := tree.Link("upper_arm")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, upper.Visuals, test.ShouldHaveLength, 1)
	test.That(t, upper.Visuals[0].Filename, test.ShouldEqual, "package://demo/meshes/upper.stl")
	test.That(t, upper.Visuals[0].Scale.X, test.ShouldAlmostEqual, 0.001)

	j, err := tree.ResolveJoint("camera_link")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, j.Name, test.ShouldEqual, "camera_mount")
	_, err = tree.ResolveJoint("base_link")
	test.That(t, errors.Is(err, ErrUnresolvableFrame), test.ShouldBeTrue)
}

func TestParseURDFErrors(t *testing.T) {
	for name, xmlData := range map[string]string{
		"empty":        "  ",
		"not xml":      "<robot",
		"unknown type": `<robot name="r"><link name="a"/><link name="b"/><joint name="j" type="planar"><parent link="a"/><child link="b"/></joint></robot>`,
		"missing link": `<robot name="r"><link name="a"/><joint name="j" type="fixed"><parent link="a"/><child link="b"/></joint></robot>`,
		"two roots":    `<robot name="r"><link name="a"/><link name="b"/></robot>`,
		"bad origin":   `<robot name="r"><link name="a"/><link name="b"/><joint name="j" type="fixed"><parent link="a"/><child link="b"/><origin xyz="1 2"/></joint></robot>`,
		"two parents": `<robot name="r"><link name="a"/><link name="b"/><link name="c"/>
			<joint name="j1" type="fixed"><parent link="a"/><child link="c"/></joint>
			<joint name="j2" type="fixed"><parent link="b"/><child link="c"/></joint></robot>`,
		"cycle": `<robot name="r"><link name="root"/><link name="a"/><link name="b"/>
			<joint name="j0" type="fixed"><parent link="root"/><child link="root"/></joint>
			<joint name="j1" type="fixed"><parent link="a"/><child link="b"/></joint>
			<joint name="j2" type="fixed"><parent link="b"/><child link="a"/></joint></robot>`,
	} {
		xmlData := xmlData
		t.Run(name, func(t *testing.T) {
			_, err := ParseURDF([]byte(xmlData))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, errors.Is(err, ErrInvalidDescription), test.ShouldBeTrue)
		})
	}
}

func TestChainTransform(t *testing.T) {
	tree, err := ParseURDF([]byte(twoLinkArm))
	test.That(t, err, test.ShouldBeNil)

	positions := JointPositions{"shoulder": math.Pi / 2, "elbow": 0, "slide": 0.1}
	pose, err := tree.Transform(positions, nil, "base_link", "tool")
	test.That(t, err, test.ShouldBeNil)
	// Shoulder rotates the arm to point along +Y; the slide adds 0.1 along the forearm.
	test.That(t, pose.Point().X, test.ShouldAlmostEqual, 0)
	test.That(t, pose.Point().Y, test.ShouldAlmostEqual, 2.1)
	test.That(t, pose.Point().Z, test.ShouldAlmostEqual, 0.5)

	// Between two branches the chain goes through the common ancestor.
	camToTool, err := tree.Transform(positions, NoCorrections{}, "camera_link", "tool")
	test.That(t, err, test.ShouldBeNil)
	baseToCam, err := tree.Transform(positions, nil, "base_link", "camera_link")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(spatialmath.Compose(baseToCam, camToTool), pose), test.ShouldBeTrue)

	identity, err := tree.Transform(positions, nil, "tool", "tool")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(identity, spatialmath.NewZeroPose()), test.ShouldBeTrue)

	chain, err := tree.Chain("camera_link", "tool")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, chain.Joints(), test.ShouldHaveLength, 4)
	test.That(t, chain.From(), test.ShouldEqual, "camera_link")
	test.That(t, chain.To(), test.ShouldEqual, "tool")
}

type testCorrections struct {
	bias map[string]float64
	pose map[string]spatialmath.Pose
}

func (c testCorrections) JointBias(name string) float64 { return c.bias[name] }

func (c testCorrections) JointCorrection(name string) spatialmath.Pose {
	if p, ok := c.pose[name]; ok {
		return p
	}
	return spatialmath.NewZeroPose()
}

func TestChainCorrections(t *testing.T) {
	tree, err := ParseURDF([]byte(twoLinkArm))
	test.That(t, err, test.ShouldBeNil)

	positions := JointPositions{"shoulder": 0.2, "elbow": -0.1, "slide": 0}
	biased := testCorrections{bias: map[string]float64{"shoulder": 0.05}}
	withBias, err := tree.Transform(positions, biased, "base_link", "tool")
	test.That(t, err, test.ShouldBeNil)

	shifted := JointPositions{"shoulder": 0.25, "elbow": -0.1, "slide": 0}
	expected, err := tree.Transform(shifted, nil, "base_link", "tool")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(withBias, expected), test.ShouldBeTrue)

	// A correction on a fixed joint moves the child frame in the parent frame.
	lifted := testCorrections{pose: map[string]spatialmath.Pose{
		"camera_mount": spatialmath.NewPoseFromPoint(r3.Vector{Z: 0.01}),
	}}
	cam, err := tree.Transform(positions, lifted, "base_link", "camera_link")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.Point().Z, test.ShouldAlmostEqual, 2.01)
}

func TestChainErrors(t *testing.T) {
	tree, err := ParseURDF([]byte(twoLinkArm))
	test.That(t, err, test.ShouldBeNil)

	_, err = tree.Transform(JointPositions{}, nil, "base_link", "nowhere")
	test.That(t, errors.Is(err, ErrUnresolvableFrame), test.ShouldBeTrue)

	_, err = tree.Transform(JointPositions{"shoulder": 0}, nil, "base_link", "tool")
	test.That(t, errors.Is(err, ErrMissingJointState), test.ShouldBeTrue)

	zeroAxis := `<robot name="r"><link name="a"/><link name="b"/>
		<joint name="j" type="revolute"><parent link="a"/><child link="b"/><axis xyz="0 0 0"/></joint></robot>`
	singular, err := ParseURDF([]byte(zeroAxis))
	test.That(t, err, test.ShouldBeNil)
	_, err = singular.Transform(JointPositions{"j": 0.3}, nil, "a", "b")
	test.That(t, errors.Is(err, ErrSingularChain), test.ShouldBeTrue)

	infOrigin := `<robot name="r"><link name="a"/><link name="b"/>
		<joint name="j" type="fixed"><parent link="a"/><child link="b"/><origin xyz="inf 0 0"/></joint></robot>`
	unbounded, err := ParseURDF([]byte(infOrigin))
	test.That(t, err, test.ShouldBeNil)
	_, err = unbounded.Transform(nil, nil, "a", "b")
	test.That(t, errors.Is(err, ErrSingularChain), test.ShouldBeTrue)
}
