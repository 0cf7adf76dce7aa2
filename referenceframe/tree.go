package referenceframe

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/MarqRazz/robot-calibration/spatialmath"
)

// MeshRef is a mesh attached to a link.
type MeshRef struct {
	Filename string
	Origin   spatialmath.Pose
	Scale    r3.Vector
}

// Link is a named frame of the tree.
type Link struct {
	Name       string
	Visuals    []MeshRef
	Collisions []MeshRef
}

// Tree is the parsed structure of a robot. It is never modified after parsing and is safe for
// concurrent use.
type Tree struct {
	name        string
	root        string
	links       map[string]*Link
	joints      map[string]*Joint
	parentJoint map[string]*Joint // keyed by child link
}

func newTree(name string) *Tree {
	return &Tree{
		name:        name,
		links:       map[string]*Link{},
		joints:      map[string]*Joint{},
		parentJoint: map[string]*Joint{},
	}
}

func unboundedLimit() Limit {
	return Limit{Min: math.Inf(-1), Max: math.Inf(1)}
}

func (t *Tree) addJoint(j *Joint) error {
	if _, dup := t.joints[j.Name]; dup {
		return NewInvalidDescriptionError("duplicate joint " + j.Name)
	}
	for _, linkName := range []string{j.Parent, j.Child} {
		if _, ok := t.links[linkName]; !ok {
			return NewInvalidDescriptionError("joint " + j.Name + " references unknown link " + linkName)
		}
	}
	if existing, ok := t.parentJoint[j.Child]; ok {
		return errors.Wrapf(ErrInvalidDescription, "link %q has two parent joints: %q and %q", j.Child, existing.Name, j.Name)
	}
	t.joints[j.Name] = j
	t.parentJoint[j.Child] = j
	return nil
}

// finalize finds the single root and rejects cycles.
func (t *Tree) finalize() error {
	if len(t.links) == 0 {
		return errors.Wrap(ErrInvalidDescription, "robot has no links")
	}
	var roots []string
	for name := range t.links {
		if _, ok := t.parentJoint[name]; !ok {
			roots = append(roots, name)
		}
	}
	sort.Strings(roots)
	if len(roots) != 1 {
		return errors.Wrapf(ErrInvalidDescription, "robot must have exactly one root link, found %v", roots)
	}
	t.root = roots[0]

	for name := range t.links {
		steps := 0
		for cur := name; cur != t.root; cur = t.parentJoint[cur].Parent {
			if steps++; steps > len(t.links) {
				return errors.Wrapf(ErrInvalidDescription, "link %q is part of a cycle", name)
			}
		}
	}
	return nil
}

// Name returns the robot name.
func (t *Tree) Name() string {
	return t.name
}

// Root returns the name of the root link.
func (t *Tree) Root() string {
	return t.root
}

// HasFrame reports whether the link exists.
func (t *Tree) HasFrame(name string) bool {
	_, ok := t.links[name]
	return ok
}

// Link returns a link by name.
func (t *Tree) Link(name string) (*Link, error) {
	l, ok := t.links[name]
	if !ok {
		return nil, NewFrameMissingError(name)
	}
	return l, nil
}

// Joint returns a joint by name.
func (t *Tree) Joint(name string) (*Joint, bool) {
	j, ok := t.joints[name]
	return j, ok
}

// ParentJoint returns the joint whose child is the given link. The root has none.
func (t *Tree) ParentJoint(linkName string) (*Joint, bool) {
	j, ok := t.parentJoint[linkName]
	return j, ok
}

// JointNames returns every joint name in sorted order.
func (t *Tree) JointNames() []string {
	names := make([]string, 0, len(t.joints))
	for name := range t.joints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FrameNames returns every link name in sorted order.
func (t *Tree) FrameNames() []string {
	names := make([]string, 0, len(t.links))
	for name := range t.links {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveJoint maps a name to a joint. A joint name resolves to itself and a link name resolves
// to the joint that places it.
func (t *Tree) ResolveJoint(name string) (*Joint, error) {
	if j, ok := t.joints[name]; ok {
		return j, nil
	}
	if j, ok := t.parentJoint[name]; ok {
		return j, nil
	}
	return nil, NewFrameMissingError(name)
}

// ancestry returns the joints from the link up to the root, nearest first.
func (t *Tree) ancestry(linkName string) []*Joint {
	var joints []*Joint
	for cur := linkName; cur != t.root; {
		j := t.parentJoint[cur]
		joints = append(joints, j)
		cur = j.Parent
	}
	return joints
}

// Chain returns the path between two frames.
func (t *Tree) Chain(from, to string) (*Chain, error) {
	for _, name := range []string{from, to} {
		if !t.HasFrame(name) {
			return nil, NewFrameMissingError(name)
		}
	}
	up := t.ancestry(from)
	down := t.ancestry(to)
	// Strip the shared tail above the common ancestor.
	for len(up) > 0 && len(down) > 0 && up[len(up)-1] == down[len(down)-1] {
		up = up[:len(up)-1]
		down = down[:len(down)-1]
	}
	// Root-first order for composition.
	for i, k := 0, len(up)-1; i < k; i, k = i+1, k-1 {
		up[i], up[k] = up[k], up[i]
	}
	for i, k := 0, len(down)-1; i < k; i, k = i+1, k-1 {
		down[i], down[k] = down[k], down[i]
	}
	return &Chain{from: from, to: to, up: up, down: down}, nil
}

// Transform returns the pose of frame `to` expressed in frame `from`.
func (t *Tree) Transform(positions JointPositions, corrections Corrections, from, to string) (spatialmath.Pose, error) {
	chain, err := t.Chain(from, to)
	if err != nil {
		return nil, err
	}
	return chain.Transform(positions, corrections)
}

// Chain is the joint path between two frames through their common ancestor.
type Chain struct {
	from, to string
	up       []*Joint // common ancestor down to `from`
	down     []*Joint // common ancestor down to `to`
}

// From returns the frame the result is expressed in.
func (c *Chain) From() string { return c.from }

// To returns the frame being located.
func (c *Chain) To() string { return c.to }

// Joints returns every joint traversed: the branch toward `from` first, then the branch toward `to`.
func (c *Chain) Joints() []*Joint {
	out := make([]*Joint, 0, len(c.up)+len(c.down))
	out = append(out, c.up...)
	return append(out, c.down...)
}

// Transform computes T(from <- to) = inverse(T(ancestor <- from)) * T(ancestor <- to).
func (c *Chain) Transform(positions JointPositions, corrections Corrections) (spatialmath.Pose, error) {
	toFrom, err := composeJoints(c.up, positions, corrections)
	if err != nil {
		return nil, err
	}
	toTo, err := composeJoints(c.down, positions, corrections)
	if err != nil {
		return nil, err
	}
	result := spatialmath.Compose(spatialmath.PoseInverse(toFrom), toTo)
	if !spatialmath.PoseIsFinite(result) {
		return nil, NewSingularChainError(c.from+"->"+c.to, "non-finite transform")
	}
	return result, nil
}

func composeJoints(joints []*Joint, positions JointPositions, corrections Corrections) (spatialmath.Pose, error) {
	pose := spatialmath.NewZeroPose()
	for _, j := range joints {
		local, err := j.Transform(positions, corrections)
		if err != nil {
			return nil, err
		}
		pose = spatialmath.Compose(pose, local)
	}
	return pose, nil
}
