package referenceframe

import (
	"encoding/xml"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ParseURDFFile reads a file and parses the contained URDF XML into a Tree.
func ParseURDFFile(filename string) (*Tree, error) {
	//nolint:gosec
	xmlData, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read URDF file")
	}
	return ParseURDF(xmlData)
}

// ParseURDF converts URDF XML into an immutable Tree. Lengths are meters and angles radians.
// Continuous joints keep their type but are unbounded. Every failure wraps ErrInvalidDescription.
func ParseURDF(xmlData []byte) (*Tree, error) {
	if len(strings.TrimSpace(string(xmlData))) == 0 {
		return nil, errors.Wrap(ErrInvalidDescription, ErrNoModelInformation.Error())
	}

	urdf := &robot{}
	if err := xml.Unmarshal(xmlData, urdf); err != nil {
		return nil, NewInvalidDescriptionError(err.Error())
	}

	tree := newTree(urdf.Name)
	for _, linkElem := range urdf.Links {
		linkElem := linkElem
		if linkElem.Name == "" {
			return nil, NewInvalidDescriptionError("link without a name")
		}
		if _, dup := tree.links[linkElem.Name]; dup {
			return nil, NewInvalidDescriptionError("duplicate link " + linkElem.Name)
		}
		parsed, err := linkElem.toLink()
		if err != nil {
			return nil, NewInvalidDescriptionError(err.Error())
		}
		tree.links[linkElem.Name] = parsed
	}

	for _, jointElem := range urdf.Joints {
		jointElem := jointElem
		j, err := jointElem.toJoint()
		if err != nil {
			return nil, err
		}
		if err := tree.addJoint(j); err != nil {
			return nil, err
		}
	}

	if err := tree.finalize(); err != nil {
		return nil, err
	}
	return tree, nil
}

func (l *link) toLink() (*Link, error) {
	out := &Link{Name: l.Name}
	var err error
	if out.Visuals, err = toMeshRefs(l.Visual); err != nil {
		return nil, errors.Wrapf(err, "link %q visual", l.Name)
	}
	if out.Collisions, err = toMeshRefs(l.Collision); err != nil {
		return nil, errors.Wrapf(err, "link %q collision", l.Name)
	}
	return out, nil
}

func toMeshRefs(geoms []geometry) ([]MeshRef, error) {
	var refs []MeshRef
	for _, g := range geoms {
		if g.Geometry.Mesh == nil {
			continue
		}
		origin, err := g.Origin.Parse()
		if err != nil {
			return nil, err
		}
		scale, err := g.Geometry.Mesh.scale()
		if err != nil {
			return nil, err
		}
		refs = append(refs, MeshRef{Filename: g.Geometry.Mesh.Filename, Origin: origin, Scale: scale})
	}
	return refs, nil
}

func (j *joint) toJoint() (*Joint, error) {
	if j.Name == "" {
		return nil, NewInvalidDescriptionError("joint without a name")
	}
	if j.Parent.Link == "" || j.Child.Link == "" {
		return nil, NewInvalidDescriptionError("joint " + j.Name + " must name a parent and a child link")
	}
	out := &Joint{
		Name:   j.Name,
		Type:   JointType(j.Type),
		Parent: j.Parent.Link,
		Child:  j.Child.Link,
	}

	origin, err := j.Origin.Parse()
	if err != nil {
		return nil, NewInvalidDescriptionError(err.Error())
	}
	out.Origin = origin

	switch out.Type {
	case FixedJoint:
	case RevoluteJoint, PrismaticJoint, ContinuousJoint:
		// A zero axis is representable; it only fails once a chain moves through it.
		if out.Axis, err = j.Axis.Parse(); err != nil {
			return nil, NewInvalidDescriptionError(err.Error())
		}
		switch {
		case out.Type == ContinuousJoint || j.Limit == nil:
			out.Limit = unboundedLimit()
		default:
			out.Limit = Limit{Min: j.Limit.Lower, Max: j.Limit.Upper}
		}
	default:
		return nil, NewUnsupportedJointTypeError(j.Name, j.Type)
	}
	return out, nil
}
