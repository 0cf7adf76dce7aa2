package models

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/MarqRazz/robot-calibration/calibration/offsets"
	"github.com/MarqRazz/robot-calibration/data"
	"github.com/MarqRazz/robot-calibration/referenceframe"
	"github.com/MarqRazz/robot-calibration/spatialmath"
)

// chain holds what every model needs to walk the tree.
type chain struct {
	name        string
	root        string
	frame       string
	tree        *referenceframe.Tree
	clouds      CloudSource
	corrections *offsets.Corrections
}

func newChain(name string, tree *referenceframe.Tree, root, frame string, clouds CloudSource) (chain, error) {
	if tree == nil {
		return chain{}, errors.Wrapf(referenceframe.ErrNoModelInformation, "model %q", name)
	}
	for _, f := range []string{root, frame} {
		if !tree.HasFrame(f) {
			return chain{}, errors.Wrapf(referenceframe.NewFrameMissingError(f), "model %q", name)
		}
	}
	return chain{name: name, root: root, frame: frame, tree: tree, clouds: clouds}, nil
}

// pose returns T(from <- to) under the current corrections.
func (c *chain) pose(positions referenceframe.JointPositions, from, to string) (spatialmath.Pose, error) {
	return c.tree.Transform(positions, c.corrections, from, to)
}

// joints lists the joints between two frames.
func (c *chain) joints(from, to string) ([]string, error) {
	ch, err := c.tree.Chain(from, to)
	if err != nil {
		return nil, err
	}
	joints := ch.Joints()
	names := make([]string, 0, len(joints))
	for _, j := range joints {
		names = append(names, j.Name)
	}
	return names, nil
}

// reference returns the feature reference expressed in `in`. For mesh features this is the cloud
// point closest to near, which must already be expressed in `in`.
func (c *chain) reference(
	positions referenceframe.JointPositions,
	f *data.Feature,
	in, defaultFrame string,
	near r3.Vector,
) (r3.Vector, error) {
	featureFrame := f.Frame
	if featureFrame == "" {
		featureFrame = defaultFrame
	}
	pose, err := c.pose(positions, in, featureFrame)
	if err != nil {
		return r3.Vector{}, err
	}
	if !f.Mesh {
		return spatialmath.TransformPoint(pose, f.Reference()), nil
	}
	if c.clouds == nil {
		return r3.Vector{}, errors.Errorf("model %q has a mesh feature but no mesh loader", c.name)
	}
	cloud, err := c.clouds.Load(featureFrame)
	if err != nil {
		return r3.Vector{}, err
	}
	closest, ok := cloud.Closest(pose, near)
	if !ok {
		return r3.Vector{}, errors.Errorf("mesh of frame %q is empty", featureFrame)
	}
	return closest, nil
}

func observedPoint(f *data.Feature) r3.Vector {
	if len(f.Observed) < 3 {
		return r3.Vector{}
	}
	return r3.Vector{X: f.Observed[0], Y: f.Observed[1], Z: f.Observed[2]}
}

// ChainModel predicts the position of a feature in the root frame by forward kinematics.
type ChainModel struct {
	chain
}

// NewChainModel returns a chain model whose features default to frame.
func NewChainModel(name string, tree *referenceframe.Tree, root, frame string, clouds CloudSource) (*ChainModel, error) {
	c, err := newChain(name, tree, root, frame, clouds)
	if err != nil {
		return nil, err
	}
	return &ChainModel{chain: c}, nil
}

// Name returns the model name.
func (m *ChainModel) Name() string { return m.name }

// Type returns TypeChain3d.
func (m *ChainModel) Type() Type { return TypeChain3d }

// Dim returns 3.
func (m *ChainModel) Dim() int { return 3 }

// Root returns the frame predictions are expressed in.
func (m *ChainModel) Root() string { return m.root }

// Frame returns the default feature frame.
func (m *ChainModel) Frame() string { return m.frame }

// SetCorrections replaces the working corrections.
func (m *ChainModel) SetCorrections(c *offsets.Corrections) { m.corrections = c }

// Clone returns a copy sharing the tree and mesh cache.
func (m *ChainModel) Clone() Model {
	clone := *m
	return &clone
}

// DependsOn returns the joints between the root and the feature frame.
func (m *ChainModel) DependsOn(f *data.Feature) ([]string, error) {
	featureFrame := f.Frame
	if featureFrame == "" {
		featureFrame = m.frame
	}
	return m.joints(m.root, featureFrame)
}

// Project returns T(root <- frame) * point.
func (m *ChainModel) Project(positions referenceframe.JointPositions, f *data.Feature) ([]float64, error) {
	pt, err := m.reference(positions, f, m.root, m.frame, observedPoint(f))
	if err != nil {
		return nil, err
	}
	return []float64{pt.X, pt.Y, pt.Z}, nil
}
