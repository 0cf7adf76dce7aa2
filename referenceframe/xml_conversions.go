package referenceframe

import (
	"encoding/xml"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/MarqRazz/robot-calibration/spatialmath"
)

type robot struct {
	XMLName xml.Name `xml:"robot"`
	Name    string   `xml:"name,attr"`
	Links   []link   `xml:"link"`
	Joints  []joint  `xml:"joint"`
}

type link struct {
	XMLName   xml.Name   `xml:"link"`
	Name      string     `xml:"name,attr"`
	Visual    []geometry `xml:"visual"`
	Collision []geometry `xml:"collision"`
}

// geometry covers both <visual> and <collision>; only meshes are retained.
type geometry struct {
	Origin   *pose `xml:"origin"`
	Geometry struct {
		Mesh *mesh `xml:"mesh,omitempty"`
	} `xml:"geometry"`
}

type mesh struct {
	XMLName  xml.Name `xml:"mesh"`
	Filename string   `xml:"filename,attr"`
	Scale    string   `xml:"scale,attr"`
}

type joint struct {
	XMLName xml.Name `xml:"joint"`
	Name    string   `xml:"name,attr"`
	Type    string   `xml:"type,attr"`
	Parent  frame    `xml:"parent"`
	Child   frame    `xml:"child"`
	Origin  *pose    `xml:"origin,omitempty"`
	Axis    *axis    `xml:"axis,omitempty"`
	Limit   *limit   `xml:"limit,omitempty"`
}

type frame struct {
	Link string `xml:"link,attr"`
}

type limit struct {
	XMLName xml.Name `xml:"limit"`
	Lower   float64  `xml:"lower,attr"` // meters for prismatic joints, radians for revolute joints
	Upper   float64  `xml:"upper,attr"` // meters for prismatic joints, radians for revolute joints
}

type axis struct {
	XMLName xml.Name `xml:"axis"`
	XYZ     string   `xml:"xyz,attr"`
}

// Parse returns the axis as written. URDF defaults to +X when the element is absent.
func (a *axis) Parse() (r3.Vector, error) {
	if a == nil {
		return r3.Vector{X: 1}, nil
	}
	xyz, err := parseTriple(a.XYZ, "axis xyz")
	if err != nil {
		return r3.Vector{}, err
	}
	return r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

type pose struct {
	XMLName xml.Name `xml:"origin"`
	RPY     string   `xml:"rpy,attr"` // fixed frame angles "r p y", in radians
	XYZ     string   `xml:"xyz,attr"` // "x y z", in meters
}

// Parse returns the origin; missing attributes are zero and a nil origin is the identity.
func (p *pose) Parse() (spatialmath.Pose, error) {
	if p == nil {
		return spatialmath.NewZeroPose(), nil
	}
	xyz, err := parseTriple(p.XYZ, "origin xyz")
	if err != nil {
		return nil, err
	}
	rpy, err := parseTriple(p.RPY, "origin rpy")
	if err != nil {
		return nil, err
	}
	return spatialmath.NewPose(
		r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]},
		&spatialmath.EulerAngles{Roll: rpy[0], Pitch: rpy[1], Yaw: rpy[2]},
	), nil
}

func (m *mesh) scale() (r3.Vector, error) {
	if strings.TrimSpace(m.Scale) == "" {
		return r3.Vector{X: 1, Y: 1, Z: 1}, nil
	}
	s, err := parseTriple(m.Scale, "mesh scale")
	if err != nil {
		return r3.Vector{}, err
	}
	return r3.Vector{X: s[0], Y: s[1], Z: s[2]}, nil
}

// parseTriple reads a space delimited "a b c" attribute. An empty attribute is all zeros.
func parseTriple(s, what string) ([]float64, error) {
	converted := spaceDelimitedStringToFloatSlice(s)
	if len(converted) == 0 {
		return []float64{0, 0, 0}, nil
	}
	if len(converted) != 3 {
		return nil, errors.Errorf("%s %q must have 3 values", what, s)
	}
	for _, v := range converted {
		if math.IsNaN(v) {
			return nil, errors.Errorf("%s %q is not numeric", what, s)
		}
	}
	return converted, nil
}

// spaceDelimitedStringToFloatSlice splits space delimited fields and converts them to floats.
// Unparseable fields become NaN.
func spaceDelimitedStringToFloatSlice(s string) []float64 {
	var converted []float64
	for _, value := range strings.Fields(s) {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			parsed = math.NaN()
		}
		converted = append(converted, parsed)
	}
	return converted
}
