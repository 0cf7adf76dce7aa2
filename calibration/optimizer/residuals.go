package optimizer

import (
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/MarqRazz/robot-calibration/calibration/models"
	"github.com/MarqRazz/robot-calibration/calibration/offsets"
	"github.com/MarqRazz/robot-calibration/calibration/solver"
	"github.com/MarqRazz/robot-calibration/data"
	"github.com/MarqRazz/robot-calibration/referenceframe"
	"github.com/MarqRazz/robot-calibration/spatialmath"
)

// residualBlock is one observed feature of one sample, or one offset penalty.
type residualBlock struct {
	model   string
	sample  *data.Sample
	feature *data.Feature
	penalty *OffsetPenalty
	dim     int
	params  []int
}

// build is everything one solve needs, created in the Building state.
type build struct {
	root    string
	parser  *offsets.Parser
	models  map[string]models.Model
	cameras map[string][]string // camera name to registered intrinsic slot names
	blocks  []residualBlock
}

func (b *build) numResiduals() int {
	return lo.SumBy(b.blocks, func(blk residualBlock) int { return blk.dim })
}

func (b *build) problem() *solver.Problem {
	p := &solver.Problem{
		NumParameters: b.parser.Size(),
		NewEvaluator: func() (solver.Evaluator, error) {
			return b.newEvaluator(), nil
		},
	}
	for _, blk := range b.blocks {
		p.Blocks = append(p.Blocks, solver.Block{Dim: blk.dim, Parameters: blk.params})
	}
	return p
}

// registerOffsets lays out the offset vector from the free params and frames.
func (o *Optimizer) registerOffsets(params *OptimizationParams, b *build) error {
	for _, name := range params.FreeParams {
		if err := o.registerFreeParam(name, b); err != nil {
			return err
		}
	}
	for _, f := range params.FreeFrames {
		joint, err := o.tree.ResolveJoint(f.Name)
		if err != nil {
			return err
		}
		if err := b.parser.RegisterFrame(f.Name, joint.Name, f.FrameMask); err != nil {
			return err
		}
	}
	for _, init := range params.FreeFramesInitialValues {
		if !b.parser.HasFrame(init.Name) {
			return errors.Wrapf(ErrInvalidParams, "initial value for %q which is not a free frame", init.Name)
		}
		if err := b.parser.SetFrameInitialValues(
			init.Name,
			r3.Vector{X: init.X, Y: init.Y, Z: init.Z},
			spatialmath.EulerAngles{Roll: init.Roll, Pitch: init.Pitch, Yaw: init.Yaw},
		); err != nil {
			return err
		}
	}
	return nil
}

// registerFreeParam registers a joint bias, every intrinsic of a camera, or one camera intrinsic.
func (o *Optimizer) registerFreeParam(name string, b *build) error {
	if j, ok := o.tree.Joint(name); ok {
		if !j.Moves() {
			return errors.Wrapf(ErrInvalidParams, "free param %q is a fixed joint, use free_frames", name)
		}
		return b.parser.RegisterOffset(name, offsets.KindJoint)
	}
	if m, ok := b.models[name]; ok {
		if !models.IsCamera(m.Type()) {
			return errors.Wrapf(ErrInvalidParams, "free param %q is a model without intrinsics", name)
		}
		for _, slot := range b.cameras[name] {
			if err := b.parser.RegisterOffset(slot, offsets.KindIntrinsic); err != nil {
				return err
			}
		}
		return nil
	}
	for _, slots := range b.cameras {
		if lo.Contains(slots, name) {
			return b.parser.RegisterOffset(name, offsets.KindIntrinsic)
		}
	}
	return errors.Wrapf(offsets.ErrUnknownOffset, "free param %q is not a joint, camera or camera intrinsic", name)
}

// buildBlocks creates one residual block per observed feature plus the penalty blocks.
func (o *Optimizer) buildBlocks(params *OptimizationParams, samples []data.Sample, b *build) error {
	for sIdx := range samples {
		sample := &samples[sIdx]
		if err := sample.Validate(sIdx); err != nil {
			return err
		}
		for _, obs := range sample.Observations {
			m, ok := b.models[obs.Sensor]
			if !ok {
				return NewUnknownModelError(sIdx, obs.Sensor)
			}
			for fIdx := range obs.Features {
				blk, err := o.featureBlock(sIdx, sample, m, &obs.Features[fIdx], b)
				if err != nil {
					return err
				}
				b.blocks = append(b.blocks, blk)
			}
		}
	}
	if len(b.blocks) == 0 {
		return errors.Wrap(data.ErrEmptyDataset, "samples contain no observed features")
	}

	for i := range params.OffsetPenalties {
		pen := &params.OffsetPenalties[i]
		indices := b.parser.Indices(pen.Name)
		if len(indices) == 0 {
			return errors.Wrapf(ErrInvalidParams, "offset penalty for %q which is not calibrated", pen.Name)
		}
		b.blocks = append(b.blocks, residualBlock{penalty: pen, dim: 3, params: indices})
	}
	return nil
}

func (o *Optimizer) featureBlock(
	sIdx int,
	sample *data.Sample,
	m models.Model,
	f *data.Feature,
	b *build,
) (residualBlock, error) {
	if len(f.Observed) != m.Dim() {
		return residualBlock{}, data.NewMalformedSampleError(sIdx,
			"feature %q of %q has %d observed values, expected %d", f.ID, m.Name(), len(f.Observed), m.Dim())
	}
	if f.Mesh {
		if m.Dim() != 3 {
			return residualBlock{}, data.NewMalformedSampleError(sIdx, "model %q cannot match mesh features", m.Name())
		}
		frame := f.Frame
		if frame == "" {
			frame = m.Frame()
		}
		// Meshes are loaded here so the solve itself does no I/O.
		if _, err := o.meshes.Load(frame); err != nil {
			return residualBlock{}, err
		}
	}

	joints, err := m.DependsOn(f)
	if err != nil {
		return residualBlock{}, err
	}
	var indices []int
	for _, name := range joints {
		j, _ := o.tree.Joint(name)
		if j != nil && j.Moves() {
			if _, ok := sample.JointStates[name]; !ok {
				return residualBlock{}, errors.Wrapf(referenceframe.NewMissingJointStateError(name), "sample %d", sIdx)
			}
		}
		if idx, ok := b.parser.Index(name); ok {
			indices = append(indices, idx)
		}
		indices = append(indices, b.parser.FrameIndicesForJoint(name)...)
	}
	for _, slot := range b.cameras[m.Name()] {
		if idx, ok := b.parser.Index(slot); ok {
			indices = append(indices, idx)
		}
	}
	indices = lo.Uniq(indices)
	sort.Ints(indices)
	return residualBlock{model: m.Name(), sample: sample, feature: f, dim: m.Dim(), params: indices}, nil
}

// evaluator owns worker-local model clones.
type evaluator struct {
	build  *build
	models map[string]models.Model
	values []float64
}

func (b *build) newEvaluator() *evaluator {
	return &evaluator{
		build:  b,
		models: lo.MapValues(b.models, func(m models.Model, _ string) models.Model { return m.Clone() }),
	}
}

func (e *evaluator) SetParameters(x []float64) error {
	c, err := e.build.parser.Corrections(x)
	if err != nil {
		return err
	}
	for _, m := range e.models {
		m.SetCorrections(c)
	}
	e.values = append(e.values[:0], x...)
	return nil
}

func (e *evaluator) Evaluate(block int, out []float64) error {
	blk := &e.build.blocks[block]
	if blk.penalty != nil {
		e.penalty(blk.penalty, out)
		return nil
	}
	predicted, err := e.models[blk.model].Project(blk.sample.JointStates, blk.feature)
	if err != nil {
		return err
	}
	for i := range out {
		out[i] = blk.feature.Observed[i] - predicted[i]
	}
	return nil
}

// penalty grows with the scalar offset, the translation and the rotation angle of the frame
// correction registered under a name. Whichever is not registered contributes 0.
func (e *evaluator) penalty(pen *OffsetPenalty, out []float64) {
	pose := e.build.parser.GetFrame(e.values, pen.Name)
	out[0] = pen.JointScale * e.build.parser.Get(e.values, pen.Name)
	out[1] = pen.PositionScale * pose.Point().Norm()
	out[2] = pen.RotationScale * pose.Orientation().AxisAngles().Theta
}
