// Package offsets maps named calibration quantities onto the flat parameter vector the solver
// works on.
package offsets

import (
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/MarqRazz/robot-calibration/spatialmath"
)

var (
	// ErrDuplicateOffset is returned when a name is registered twice.
	ErrDuplicateOffset = errors.New("duplicate offset")
	// ErrFrozenParser is returned when registering after the vector layout has been used.
	ErrFrozenParser = errors.New("offset parser is frozen")
	// ErrUnknownOffset is returned when a name has no slot.
	ErrUnknownOffset = errors.New("unknown offset")
	// ErrWrongSize is returned when a vector does not match the registered layout.
	ErrWrongSize = errors.New("offset vector has the wrong size")
)

// Kind is the type of calibration quantity behind a registered name.
type Kind int

const (
	// KindJoint is an additive joint position bias. One slot.
	KindJoint Kind = iota
	// KindFrame is a 6-DoF correction of a joint origin: translation x, y, z and rotation
	// vector a, b, c. One slot per enabled axis.
	KindFrame
	// KindIntrinsic is a single scalar sensor parameter offset. One slot.
	KindIntrinsic
)

func (k Kind) String() string {
	switch k {
	case KindJoint:
		return "joint"
	case KindFrame:
		return "frame"
	case KindIntrinsic:
		return "intrinsic"
	}
	return "unknown"
}

// Frame slot suffixes in vector order.
var frameSuffixes = [6]string{"_x", "_y", "_z", "_a", "_b", "_c"}

// FrameMask selects which axes of a frame correction are free.
type FrameMask struct {
	X     bool `yaml:"x" json:"x"`
	Y     bool `yaml:"y" json:"y"`
	Z     bool `yaml:"z" json:"z"`
	Roll  bool `yaml:"roll" json:"roll"`
	Pitch bool `yaml:"pitch" json:"pitch"`
	Yaw   bool `yaml:"yaw" json:"yaw"`
}

// AllAxes frees all six axes.
func AllAxes() FrameMask {
	return FrameMask{true, true, true, true, true, true}
}

func (m FrameMask) axes() [6]bool {
	return [6]bool{m.X, m.Y, m.Z, m.Roll, m.Pitch, m.Yaw}
}

// Count returns the number of free axes.
func (m FrameMask) Count() int {
	n := 0
	for _, on := range m.axes() {
		if on {
			n++
		}
	}
	return n
}

type entry struct {
	kind  Kind
	joint string // corrected joint, KindFrame only
	// slots holds the vector index of each component; -1 for components that are not free.
	// KindJoint and KindIntrinsic use slots[0] only.
	slots [6]int
}

// Parser owns the layout of the offset vector. Registration is only allowed until the layout is
// first used to evaluate; afterwards it is read-only and safe for concurrent use.
//
// Scalars (joint biases and intrinsics) and frame corrections live in separate namespaces, so a
// joint can carry both a bias and a frame correction under its own name.
type Parser struct {
	mu      sync.RWMutex
	names   []string
	index   map[string]int
	scalars map[string]*entry
	frames  map[string]*entry
	order   []string
	frozen  bool
	initial []float64
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{index: map[string]int{}, scalars: map[string]*entry{}, frames: map[string]*entry{}}
}

// RegisterOffset reserves slots for a quantity. Frames registered this way correct the joint of
// the same name with all six axes free.
func (p *Parser) RegisterOffset(name string, kind Kind) error {
	switch kind {
	case KindFrame:
		return p.RegisterFrame(name, name, AllAxes())
	case KindJoint, KindIntrinsic:
	default:
		return errors.Errorf("cannot register %q with unknown kind %d", name, kind)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkAvailable(p.scalars, name, name); err != nil {
		return err
	}
	e := &entry{kind: kind, slots: [6]int{-1, -1, -1, -1, -1, -1}}
	e.slots[0] = p.addSlot(name)
	p.scalars[name] = e
	p.addName(name)
	return nil
}

// RegisterFrame reserves the masked axes of a correction applied to `joint` under `name`.
func (p *Parser) RegisterFrame(name, joint string, mask FrameMask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var slotNames []string
	for i, on := range mask.axes() {
		if on {
			slotNames = append(slotNames, name+frameSuffixes[i])
		}
	}
	if err := p.checkAvailable(p.frames, name, slotNames...); err != nil {
		return err
	}
	for _, existing := range p.frames {
		if existing.joint == joint {
			return errors.Wrapf(ErrDuplicateOffset, "joint %q already has a frame correction", joint)
		}
	}

	e := &entry{kind: KindFrame, joint: joint, slots: [6]int{-1, -1, -1, -1, -1, -1}}
	for i, on := range mask.axes() {
		if on {
			e.slots[i] = p.addSlot(name + frameSuffixes[i])
		}
	}
	p.frames[name] = e
	p.addName(name)
	return nil
}

// checkAvailable rejects a name already used in its namespace and any slot name already in the
// vector.
func (p *Parser) checkAvailable(namespace map[string]*entry, name string, slotNames ...string) error {
	if p.frozen {
		return errors.Wrapf(ErrFrozenParser, "cannot register %q", name)
	}
	if _, ok := namespace[name]; ok {
		return errors.Wrapf(ErrDuplicateOffset, "%q", name)
	}
	for _, n := range slotNames {
		if _, ok := p.index[n]; ok {
			return errors.Wrapf(ErrDuplicateOffset, "%q", n)
		}
	}
	return nil
}

func (p *Parser) addName(name string) {
	if _, scalar := p.scalars[name]; scalar {
		if _, frame := p.frames[name]; frame {
			return
		}
	}
	p.order = append(p.order, name)
}

func (p *Parser) addSlot(slotName string) int {
	idx := len(p.names)
	p.names = append(p.names, slotName)
	p.index[slotName] = idx
	p.initial = append(p.initial, 0)
	return idx
}

// Size returns the length of the offset vector.
func (p *Parser) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.names)
}

// Freeze ends registration. It is idempotent.
func (p *Parser) Freeze() {
	p.mu.Lock()
	p.frozen = true
	p.mu.Unlock()
}

// Frozen reports whether registration has ended.
func (p *Parser) Frozen() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.frozen
}

// Names returns the slot names in vector order.
func (p *Parser) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.names...)
}

// Registered returns the registered quantity names in registration order.
func (p *Parser) Registered() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.order...)
}

// Kind returns the kind a name was registered with. A name holding both a joint bias and a frame
// correction reports KindJoint; use HasFrame for the frame.
func (p *Parser) Kind(name string) (Kind, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, ok := p.scalars[name]; ok {
		return e.kind, true
	}
	if _, ok := p.frames[name]; ok {
		return KindFrame, true
	}
	return 0, false
}

// HasFrame reports whether a frame correction is registered under name.
func (p *Parser) HasFrame(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.frames[name]
	return ok
}

// Index returns the vector index of a slot.
func (p *Parser) Index(slotName string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	idx, ok := p.index[slotName]
	return idx, ok
}

// Indices returns every vector index owned by a registered name, scalar slot first.
func (p *Parser) Indices(name string) []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []int
	for _, e := range []*entry{p.scalars[name], p.frames[name]} {
		out = e.appendSlots(out)
	}
	return out
}

// FrameIndicesForJoint returns the vector indices of the frame correction applied to a joint.
func (p *Parser) FrameIndicesForJoint(joint string) []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.frames {
		if e.joint == joint {
			return e.appendSlots(nil)
		}
	}
	return nil
}

func (e *entry) appendSlots(out []int) []int {
	if e == nil {
		return out
	}
	for _, idx := range e.slots {
		if idx >= 0 {
			out = append(out, idx)
		}
	}
	return out
}

// Get returns the value of a slot, or 0 when nothing is registered under the name.
func (p *Parser) Get(values []float64, slotName string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if idx, ok := p.index[slotName]; ok && idx < len(values) {
		return values[idx]
	}
	return 0
}

// GetFrame returns the correction registered under name, or the identity.
func (p *Parser) GetFrame(values []float64, name string) spatialmath.Pose {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.frames[name]
	if !ok {
		return spatialmath.NewZeroPose()
	}
	return framePose(e, values)
}

func framePose(e *entry, values []float64) spatialmath.Pose {
	var c [6]float64
	for i, idx := range e.slots {
		if idx >= 0 && idx < len(values) {
			c[i] = values[idx]
		}
	}
	return spatialmath.NewPose(
		r3.Vector{X: c[0], Y: c[1], Z: c[2]},
		spatialmath.NewOrientationFromRotationVector(r3.Vector{X: c[3], Y: c[4], Z: c[5]}),
	)
}

// SetInitialValue seeds the starting value of a slot.
func (p *Parser) SetInitialValue(slotName string, value float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.index[slotName]
	if !ok {
		return errors.Wrapf(ErrUnknownOffset, "%q", slotName)
	}
	p.initial[idx] = value
	return nil
}

// SetFrameInitialValues seeds a frame correction from a translation and fixed-axis roll, pitch,
// yaw. Axes that are not free are ignored.
func (p *Parser) SetFrameInitialValues(name string, xyz r3.Vector, rpy spatialmath.EulerAngles) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.frames[name]
	if !ok {
		return errors.Wrapf(ErrUnknownOffset, "frame %q", name)
	}
	rv := rpy.RotationVector()
	components := [6]float64{xyz.X, xyz.Y, xyz.Z, rv.X, rv.Y, rv.Z}
	for i, idx := range e.slots {
		if idx >= 0 {
			p.initial[idx] = components[i]
		}
	}
	return nil
}

// InitialValues returns a copy of the starting vector.
func (p *Parser) InitialValues() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]float64(nil), p.initial...)
}

// Corrections freezes the layout and returns the adjustments encoded by values.
func (p *Parser) Corrections(values []float64) (*Corrections, error) {
	p.Freeze()
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(values) != len(p.names) {
		return nil, errors.Wrapf(ErrWrongSize, "got %d values for %d slots", len(values), len(p.names))
	}
	c := &Corrections{
		bias:    map[string]float64{},
		frames:  map[string]spatialmath.Pose{},
		scalars: make(map[string]float64, len(p.names)),
	}
	for i, name := range p.names {
		c.scalars[name] = values[i]
	}
	for name, e := range p.scalars {
		if e.kind == KindJoint {
			c.bias[name] = values[e.slots[0]]
		}
	}
	for _, e := range p.frames {
		c.frames[e.joint] = framePose(e, values)
	}
	return c, nil
}

// Correctable is anything that consumes corrections, typically a sensor model.
type Correctable interface {
	SetCorrections(c *Corrections)
}

// ApplyTo sets the working corrections of a model from the vector. The robot description itself
// is never modified.
func (p *Parser) ApplyTo(model Correctable, values []float64) error {
	c, err := p.Corrections(values)
	if err != nil {
		return err
	}
	model.SetCorrections(c)
	return nil
}
