// Package optimizer estimates the calibration offsets of a robot from captured samples.
//
// An Optimizer is created from a URDF description and solves once per Optimize call:
//
//	opt, err := optimizer.NewOptimizer(urdf, optimizer.WithLogger(logger))
//	status, err := opt.Optimize(params, samples)
//	yaml, err := opt.OffsetsYAML()
//
// Errors in the description, the params or the samples are returned before the solve starts.
// Numeric failures and limits hit during the solve are reported through the status and Summary.
package optimizer

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/MarqRazz/robot-calibration/calibration/meshloader"
	"github.com/MarqRazz/robot-calibration/calibration/models"
	"github.com/MarqRazz/robot-calibration/calibration/offsets"
	"github.com/MarqRazz/robot-calibration/calibration/solver"
	"github.com/MarqRazz/robot-calibration/data"
	"github.com/MarqRazz/robot-calibration/logging"
	"github.com/MarqRazz/robot-calibration/referenceframe"
	"github.com/MarqRazz/robot-calibration/rimage/transform"
	"github.com/MarqRazz/robot-calibration/utils"
)

// State is the lifecycle stage of an Optimizer.
type State int

const (
	// StateUninitialized is an optimizer without a robot description.
	StateUninitialized State = iota
	// StateConfigured is ready to Optimize.
	StateConfigured
	// StateBuilding is creating models and residuals.
	StateBuilding
	// StateSolving is running the solver.
	StateSolving
	// StateSolved holds a converged result.
	StateSolved
	// StateFailed holds a result that did not converge.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateBuilding:
		return "building"
	case StateSolving:
		return "solving"
	case StateSolved:
		return "solved"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger. Iteration progress is logged at info level when params ask for it.
func WithLogger(logger logging.Logger) Option {
	return func(o *Optimizer) { o.logger = logger }
}

// WithMeshLoader replaces the mesh source used for mesh features.
func WithMeshLoader(meshes models.CloudSource) Option {
	return func(o *Optimizer) { o.meshes = meshes }
}

// WithMeshOptions configures the default mesh loader, e.g. with package roots.
func WithMeshOptions(opts ...meshloader.Option) Option {
	return func(o *Optimizer) { o.meshOpts = append(o.meshOpts, opts...) }
}

// WithRootFrame sets the frame chains are resolved from when params name no base link.
func WithRootFrame(frame string) Option {
	return func(o *Optimizer) { o.rootFrame = frame }
}

// WithLedFrame sets the frame chain3d models without a frame observe.
func WithLedFrame(frame string) Option {
	return func(o *Optimizer) { o.ledFrame = frame }
}

// Optimizer owns the robot description and the outcome of one solve.
type Optimizer struct {
	tree      *referenceframe.Tree
	logger    logging.Logger
	meshes    models.CloudSource
	meshOpts  []meshloader.Option
	rootFrame string
	ledFrame  string

	mu      sync.Mutex
	state   State
	build   *build
	summary *solver.Summary
	values  []float64
}

// NewOptimizer parses a URDF description. Every failure wraps ErrInvalidDescription.
func NewOptimizer(description string, opts ...Option) (*Optimizer, error) {
	tree, err := referenceframe.ParseURDF([]byte(description))
	if err != nil {
		return nil, err
	}
	return newOptimizer(tree, opts...)
}

// NewOptimizerFromFile reads the URDF description from a file.
func NewOptimizerFromFile(path string, opts ...Option) (*Optimizer, error) {
	tree, err := referenceframe.ParseURDFFile(path)
	if err != nil {
		return nil, errors.Wrap(referenceframe.ErrInvalidDescription, err.Error())
	}
	return newOptimizer(tree, opts...)
}

func newOptimizer(tree *referenceframe.Tree, opts ...Option) (*Optimizer, error) {
	o := &Optimizer{tree: tree}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NewLogger("optimizer")
	}
	if o.meshes == nil {
		o.meshes = meshloader.New(tree, o.logger.Sublogger("meshes"), o.meshOpts...)
	}
	for _, frame := range []string{o.rootFrame, o.ledFrame} {
		if frame != "" && !tree.HasFrame(frame) {
			return nil, errors.Wrapf(referenceframe.ErrInvalidDescription, "frame %q is not in robot %q", frame, tree.Name())
		}
	}
	o.state = StateConfigured
	return o, nil
}

// Tree returns the parsed robot description.
func (o *Optimizer) Tree() *referenceframe.Tree {
	return o.tree
}

// State returns the current lifecycle stage.
func (o *Optimizer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Reset discards the result of a finished solve so the optimizer can solve again.
func (o *Optimizer) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case StateBuilding, StateSolving:
		return errors.Wrapf(ErrOptimizerBusy, "cannot reset while %s", o.state)
	case StateUninitialized:
		return errors.Wrap(referenceframe.ErrNoModelInformation, "cannot reset without a description")
	default:
	}
	o.state = StateConfigured
	o.build = nil
	o.summary = nil
	o.values = nil
	return nil
}

// Optimize builds the calibration problem from params and samples and solves it. A non-nil error
// means nothing was solved; the status then says whether the params or the samples were at fault
// and the optimizer stays Configured. Otherwise the status reflects the outcome of the solve and
// the result stays readable until Reset.
func (o *Optimizer) Optimize(params OptimizationParams, samples []data.Sample) (Status, error) {
	o.mu.Lock()
	if o.state != StateConfigured {
		state := o.state
		o.mu.Unlock()
		return StatusConfigurationError, errors.Wrapf(ErrOptimizerBusy, "optimizer is %s", state)
	}
	o.state = StateBuilding
	o.mu.Unlock()

	b, err := o.prepare(&params, samples)
	if err != nil {
		o.setState(StateConfigured)
		o.logger.Warnw("calibration problem rejected", "error", err)
		return StatusOf(err), err
	}

	numParams, numResiduals := b.parser.Size(), b.numResiduals()
	if numResiduals < numParams {
		o.logger.Warnw("fewer residuals than parameters, the solve cannot be fully constrained",
			"parameters", numParams, "residuals", numResiduals)
	}
	o.logger.Infow("solving",
		"parameters", numParams, "residuals", numResiduals, "blocks", len(b.blocks), "solver", params.Solver)

	o.mu.Lock()
	o.build = b
	o.state = StateSolving
	o.mu.Unlock()

	opts := params.solverOptions()
	opts.Logger = o.logger.Sublogger("solver")
	values, summary, err := solver.Solve(b.problem(), b.parser.InitialValues(), opts)
	if err != nil {
		o.mu.Lock()
		o.build = nil
		o.state = StateConfigured
		o.mu.Unlock()
		return StatusConfigurationError, err
	}

	status := statusOfSummary(summary)
	o.mu.Lock()
	o.summary = summary
	o.values = values
	if status == StatusConverged {
		o.state = StateSolved
	} else {
		o.state = StateFailed
	}
	o.mu.Unlock()

	o.logger.Infow("calibration finished", "status", status.String(), "id", summary.ID.String(),
		"initial_cost", summary.InitialCost, "final_cost", summary.FinalCost, "iterations", summary.Iterations)
	return status, nil
}

// Prepare builds the problem without solving and returns its size. The optimizer state is not
// changed, so Prepare is usable to check inputs before calling Optimize.
func (o *Optimizer) Prepare(params OptimizationParams, samples []data.Sample) (int, int, error) {
	o.mu.Lock()
	if o.state == StateBuilding || o.state == StateSolving {
		o.mu.Unlock()
		return 0, 0, ErrOptimizerBusy
	}
	o.mu.Unlock()
	b, err := o.prepare(&params, samples)
	if err != nil {
		return 0, 0, err
	}
	return b.parser.Size(), b.numResiduals(), nil
}

func (o *Optimizer) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

// prepare runs the whole Building stage.
func (o *Optimizer) prepare(params *OptimizationParams, samples []data.Sample) (*build, error) {
	params = o.withLedFrame(params)
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errors.Wrap(data.ErrEmptyDataset, "no samples")
	}

	root := params.BaseLink
	if root == "" {
		root = o.rootFrame
	}
	if root == "" {
		root = o.tree.Root()
	}
	if !o.tree.HasFrame(root) {
		return nil, referenceframe.NewFrameMissingError(root)
	}

	b := &build{
		root:    root,
		parser:  offsets.NewParser(),
		models:  make(map[string]models.Model, len(params.Models)),
		cameras: map[string][]string{},
	}
	for _, cfg := range params.Models {
		cfg := cfg
		m, err := models.New(cfg, o.tree, root, o.meshes)
		if err != nil {
			return nil, errors.Wrapf(err, "model %q", cfg.Name)
		}
		b.models[cfg.Name] = m
		if models.IsCamera(cfg.Type) {
			b.cameras[cfg.Name] = lo.Map(models.IntrinsicNames(cfg), func(intr string, _ int) string {
				return models.IntrinsicSlot(cfg.Name, intr)
			})
		}
	}
	if err := o.registerOffsets(params, b); err != nil {
		return nil, err
	}
	if err := o.buildBlocks(params, samples, b); err != nil {
		return nil, err
	}
	return b, nil
}

// withLedFrame fills the frame of chain3d models that name none with the LED frame.
func (o *Optimizer) withLedFrame(params *OptimizationParams) *OptimizationParams {
	if o.ledFrame == "" {
		return params
	}
	out := *params
	out.Models = append([]models.Config(nil), params.Models...)
	for i := range out.Models {
		if out.Models[i].Type == models.TypeChain3d && out.Models[i].Frame == "" {
			out.Models[i].Frame = o.ledFrame
		}
	}
	return &out
}

func statusOfSummary(s *solver.Summary) Status {
	switch {
	case s.Termination == solver.Failure:
		return StatusNumericFailure
	case s.RankDeficient:
		return StatusRankDeficient
	case s.Termination == solver.NoConvergence:
		return StatusNoConvergence
	default:
		return StatusConverged
	}
}

// Summary returns the summary of the last solve, or nil before one finished.
func (o *Optimizer) Summary() *solver.Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summary
}

// Offsets returns the offset layout of the last solve.
func (o *Optimizer) Offsets() (*offsets.Parser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.build == nil {
		return nil, ErrNoResult
	}
	return o.build.parser, nil
}

// OffsetValues returns a copy of the offset vector of the last solve.
func (o *Optimizer) OffsetValues() ([]float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.values == nil {
		return nil, ErrNoResult
	}
	return append([]float64(nil), o.values...), nil
}

// Offset returns one solved offset slot by name.
func (o *Optimizer) Offset(slot string) (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.values == nil {
		return 0, ErrNoResult
	}
	if _, ok := o.build.parser.Index(slot); !ok {
		return 0, errors.Wrapf(offsets.ErrUnknownOffset, "%q", slot)
	}
	return o.build.parser.Get(o.values, slot), nil
}

// OffsetsYAML exports the solved offsets by slot name.
func (o *Optimizer) OffsetsYAML() ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.values == nil {
		return nil, ErrNoResult
	}
	return o.build.parser.YAML(o.values)
}

// NumParameters returns the length of the offset vector of the current problem.
func (o *Optimizer) NumParameters() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.build == nil {
		return 0
	}
	return o.build.parser.Size()
}

// NumResiduals returns the number of residuals of the current problem, penalties included.
func (o *Optimizer) NumResiduals() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.build == nil {
		return 0
	}
	return o.build.numResiduals()
}

// CameraNames returns the sorted names of the camera models of the current problem.
func (o *Optimizer) CameraNames() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.build == nil {
		return nil
	}
	names := lo.Keys(o.build.cameras)
	sort.Strings(names)
	return names
}

// CalibratedIntrinsics returns a camera's intrinsics with the solved corrections applied.
func (o *Optimizer) CalibratedIntrinsics(camera string) (transform.PinholeCameraModel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.values == nil {
		return transform.PinholeCameraModel{}, ErrNoResult
	}
	m, ok := o.build.models[camera]
	if !ok {
		return transform.PinholeCameraModel{}, errors.Wrapf(ErrUnknownModel, "%q", camera)
	}
	cam, ok := m.Clone().(*models.CameraModel)
	if !ok {
		return transform.PinholeCameraModel{}, errors.Wrapf(ErrUnknownModel, "%q is not a camera", camera)
	}
	if err := o.build.parser.ApplyTo(cam, o.values); err != nil {
		return transform.PinholeCameraModel{}, err
	}
	return cam.Intrinsics(), nil
}

// Cost evaluates ½‖r‖² of the current problem at values, e.g. the initial offsets to compare
// against the solved cost.
func (o *Optimizer) Cost(values []float64) (float64, error) {
	o.mu.Lock()
	b := o.build
	o.mu.Unlock()
	if b == nil {
		return 0, ErrNoResult
	}
	ev := b.newEvaluator()
	if err := ev.SetParameters(values); err != nil {
		return 0, err
	}
	var cost float64
	for i, blk := range b.blocks {
		out := make([]float64, blk.dim)
		if err := ev.Evaluate(i, out); err != nil {
			return 0, err
		}
		cost += utils.SumSquares(out)
	}
	return 0.5 * cost, nil
}
