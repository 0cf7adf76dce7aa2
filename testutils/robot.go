package testutils

import (
	"fmt"
	"strings"
)

// CalibBotURDF is a small robot with a two joint arm ending in an LED and a panning head camera.
//
// With all joints at zero the LED sits at (0.7, 0, 0.3) in base_link and the camera optical frame
// sits at (0.1, 0, 1.0) looking along +x of base_link.
const CalibBotURDF = `<?xml version="1.0"?>
<robot name="calib_bot">
  <link name="base_link"/>
  <link name="upper_arm"/>
  <link name="forearm"/>
  <link name="gripper_link">
    <visual>
      <origin xyz="0 0 0" rpy="0 0 0"/>
      <geometry><mesh filename="package://calib_bot/meshes/cube.stl"/></geometry>
    </visual>
  </link>
  <link name="gripper_led_frame"/>
  <link name="head_link"/>
  <link name="head_camera_link"/>
  <link name="head_camera_optical_frame"/>
  <joint name="shoulder_pan_joint" type="revolute">
    <parent link="base_link"/>
    <child link="upper_arm"/>
    <origin xyz="0 0 0.3" rpy="0 0 0"/>
    <axis xyz="0 0 1"/>
    <limit lower="-3.14" upper="3.14"/>
  </joint>
  <joint name="elbow_flex_joint" type="revolute">
    <parent link="upper_arm"/>
    <child link="forearm"/>
    <origin xyz="0.4 0 0" rpy="0 0 0"/>
    <axis xyz="0 1 0"/>
    <limit lower="-2.0" upper="2.0"/>
  </joint>
  <joint name="wrist_joint" type="fixed">
    <parent link="forearm"/>
    <child link="gripper_link"/>
    <origin xyz="0.3 0 0" rpy="0 0 0"/>
  </joint>
  <joint name="gripper_led_joint" type="fixed">
    <parent link="gripper_link"/>
    <child link="gripper_led_frame"/>
    <origin xyz="0 0 0" rpy="0 0 0"/>
  </joint>
  <joint name="head_pan_joint" type="revolute">
    <parent link="base_link"/>
    <child link="head_link"/>
    <origin xyz="0 0 1.0" rpy="0 0 0"/>
    <axis xyz="0 0 1"/>
    <limit lower="-1.5" upper="1.5"/>
  </joint>
  <joint name="head_camera_joint" type="fixed">
    <parent link="head_link"/>
    <child link="head_camera_link"/>
    <origin xyz="0.1 0 0" rpy="0 0 0"/>
  </joint>
  <joint name="head_camera_optical_joint" type="fixed">
    <parent link="head_camera_link"/>
    <child link="head_camera_optical_frame"/>
    <origin xyz="0 0 0" rpy="-1.5707963267948966 0 -1.5707963267948966"/>
  </joint>
</robot>`

// CalibBotJoints are the moving joints of CalibBotURDF.
var CalibBotJoints = []string{"shoulder_pan_joint", "elbow_flex_joint", "head_pan_joint"}

// CubeSTL returns an ASCII STL cube with the given edge length centered on the origin.
func CubeSTL(edge float64) string {
	h := edge / 2
	corner := func(i int) [3]float64 {
		c := [3]float64{-h, -h, -h}
		for axis := 0; axis < 3; axis++ {
			if i&(1<<axis) != 0 {
				c[axis] = h
			}
		}
		return c
	}
	faces := [][4]int{
		{0, 2, 3, 1}, {4, 5, 7, 6}, // -z, +z
		{0, 1, 5, 4}, {2, 6, 7, 3}, // -y, +y
		{0, 4, 6, 2}, {1, 3, 7, 5}, // -x, +x
	}
	var sb strings.Builder
	sb.WriteString("solid cube\n")
	writeFacet := func(a, b, c int) {
		sb.WriteString("  facet normal 0 0 0\n    outer loop\n")
		for _, idx := range []int{a, b, c} {
			p := corner(idx)
			fmt.Fprintf(&sb, "      vertex %g %g %g\n", p[0], p[1], p[2])
		}
		sb.WriteString("    endloop\n  endfacet\n")
	}
	for _, f := range faces {
		writeFacet(f[0], f[1], f[2])
		writeFacet(f[0], f[2], f[3])
	}
	sb.WriteString("endsolid cube\n")
	return sb.String()
}
