package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/MarqRazz/robot-calibration/calibration/meshloader"
	"github.com/MarqRazz/robot-calibration/calibration/optimizer"
	"github.com/MarqRazz/robot-calibration/calibration/store"
	"github.com/MarqRazz/robot-calibration/data"
	"github.com/MarqRazz/robot-calibration/logging"
)

// problemInputs is what run and check read from disk.
type problemInputs struct {
	opt     *optimizer.Optimizer
	params  optimizer.OptimizationParams
	samples []data.Sample
}

func newLogger(c *cli.Context) logging.Logger {
	logger := logging.NewBlankLogger("calibrate")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if c.Bool(debugFlag) {
		logger.SetLevel(logging.DEBUG)
	} else {
		logger.SetLevel(logging.INFO)
	}
	return logger
}

// parsePackageRoots turns NAME=DIR pairs into mesh loader options.
func parsePackageRoots(pairs []string) ([]meshloader.Option, error) {
	opts := make([]meshloader.Option, 0, len(pairs))
	for _, pair := range pairs {
		name, dir, ok := strings.Cut(pair, "=")
		if !ok || name == "" || dir == "" {
			return nil, errors.Errorf("package root %q is not of the form NAME=DIR", pair)
		}
		opts = append(opts, meshloader.WithPackageRoot(name, dir))
	}
	return opts, nil
}

// exitWithStatus ends the command with the status as exit code.
func exitWithStatus(status optimizer.Status, err error) error {
	return cli.Exit(err.Error(), int(status))
}

func loadInputs(c *cli.Context, logger logging.Logger) (*problemInputs, error) {
	meshOpts, err := parsePackageRoots(c.StringSlice(packageFlag))
	if err != nil {
		return nil, exitWithStatus(optimizer.StatusConfigurationError, err)
	}
	opt, err := optimizer.NewOptimizerFromFile(c.Path(urdfFlag),
		optimizer.WithLogger(logger),
		optimizer.WithRootFrame(c.String(rootFrameFlag)),
		optimizer.WithLedFrame(c.String(ledFrameFlag)),
		optimizer.WithMeshOptions(meshOpts...),
	)
	if err != nil {
		return nil, exitWithStatus(optimizer.StatusConfigurationError, err)
	}
	params, err := optimizer.LoadParams(c.Path(paramsFlag))
	if err != nil {
		return nil, exitWithStatus(optimizer.StatusConfigurationError, err)
	}
	samples, err := data.LoadSamples(c.Path(dataFlag))
	if err != nil {
		return nil, exitWithStatus(optimizer.StatusDatasetError, err)
	}
	logger.Debugw("inputs loaded", "robot", opt.Tree().Name(), "samples", len(samples), "models", len(params.Models))
	return &problemInputs{opt: opt, params: params, samples: samples}, nil
}

// RunAction solves a calibration problem, prints the report and writes the offsets. The exit code
// is the optimizer status.
func RunAction(c *cli.Context) error {
	logger := newLogger(c)
	in, err := loadInputs(c, logger)
	if err != nil {
		return err
	}

	status, err := in.opt.Optimize(in.params, in.samples)
	if err != nil {
		return exitWithStatus(status, err)
	}

	summary := in.opt.Summary()
	if c.Bool(fullReportFlag) {
		printf(c.App.Writer, "%s", summary.FullReport())
	} else {
		printf(c.App.Writer, "%s", summary.BriefReport())
	}
	if status != optimizer.StatusConverged {
		warningf(c.App.ErrWriter, "calibration finished with status %q: %s", status, summary.Message)
	}

	if summary.Usable() {
		if err := writeOffsets(c, in.opt); err != nil {
			return err
		}
	}

	if dbPath := c.Path(dbFlag); dbPath != "" {
		robot := c.String(robotFlag)
		if robot == "" {
			robot = in.opt.Tree().Name()
		}
		if err := saveRun(c, dbPath, robot, status, in.opt, logger); err != nil {
			return err
		}
	}

	if status != optimizer.StatusConverged {
		return cli.Exit("", int(status))
	}
	return nil
}

func writeOffsets(c *cli.Context, opt *optimizer.Optimizer) error {
	raw, err := opt.OffsetsYAML()
	if err != nil {
		return err
	}
	out := c.Path(outFlag)
	if out == "" {
		printf(c.App.Writer, "%s", strings.TrimRight(string(raw), "\n"))
		return nil
	}
	if err := os.WriteFile(out, raw, 0o600); err != nil {
		return errors.Wrapf(err, "could not write offsets to %s", out)
	}
	printf(c.App.Writer, "Offsets written to %s", out)
	return nil
}

func saveRun(c *cli.Context, dbPath, robot string, status optimizer.Status, opt *optimizer.Optimizer, logger logging.Logger) error {
	run, err := store.NewRun(robot, status, opt)
	if err != nil {
		return err
	}
	s, err := store.Open(c.Context, dbPath, logger.Sublogger("store"))
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warnw("failed to close run store", "error", err)
		}
	}()
	if err := s.SaveRun(c.Context, run); err != nil {
		return err
	}
	printf(c.App.Writer, "Stored run %s for robot %q", run.ID, robot)
	return nil
}

// CheckAction builds the calibration problem and prints its size without solving.
func CheckAction(c *cli.Context) error {
	logger := newLogger(c)
	in, err := loadInputs(c, logger)
	if err != nil {
		return err
	}
	numParams, numResiduals, err := in.opt.Prepare(in.params, in.samples)
	if err != nil {
		return exitWithStatus(optimizer.StatusOf(err), err)
	}

	counts := data.CountFeatures(in.samples)
	sensors := make([]string, 0, len(counts))
	for sensor := range counts {
		sensors = append(sensors, sensor)
	}
	sort.Strings(sensors)

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Sensor", "Features"})
	for _, sensor := range sensors {
		t.AppendRow(table.Row{sensor, counts[sensor]})
	}
	t.AppendFooter(table.Row{"Samples", len(in.samples)})
	printf(c.App.Writer, "%s", t.Render())
	printf(c.App.Writer, "Parameters: %d", numParams)
	printf(c.App.Writer, "Residuals: %d", numResiduals)
	if numResiduals < numParams {
		warningf(c.App.ErrWriter, "%d residuals cannot constrain %d parameters", numResiduals, numParams)
	}
	return nil
}

// ListRunsAction prints stored runs, newest first.
func ListRunsAction(c *cli.Context) error {
	s, err := store.Open(c.Context, c.Path(dbFlag), newLogger(c).Sublogger("store"))
	if err != nil {
		return err
	}
	defer func() {
		//nolint:errcheck
		s.Close()
	}()
	runs, err := s.Runs(c.Context, c.String(robotFlag), c.Int(limitFlag))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		printf(c.App.Writer, "No runs found")
		return nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Robot", "Created", "Status", "Solver", "Iterations", "Final cost"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.ID,
			r.Robot,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.StatusText,
			r.Solver,
			r.Iterations,
			fmt.Sprintf("%e", r.FinalCost),
		})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

// ShowRunAction prints the offsets and camera calibrations of one stored run.
func ShowRunAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("expected exactly one run id")
	}
	s, err := store.Open(c.Context, c.Path(dbFlag), newLogger(c).Sublogger("store"))
	if err != nil {
		return err
	}
	defer func() {
		//nolint:errcheck
		s.Close()
	}()
	run, err := s.Run(c.Context, c.Args().First())
	if err != nil {
		return err
	}

	printf(c.App.Writer, "Run %s of robot %q: %s after %d iterations, final cost %e",
		run.ID, run.Robot, run.StatusText, run.Iterations, run.FinalCost)
	if run.Message != "" {
		printf(c.App.Writer, "%s", run.Message)
	}
	offsets := table.NewWriter()
	offsets.SetStyle(table.StyleLight)
	offsets.AppendHeader(table.Row{"Offset", "Value"})
	for _, o := range run.Offsets {
		offsets.AppendRow(table.Row{o.Name, fmt.Sprintf("%.9f", o.Value)})
	}
	printf(c.App.Writer, "%s", offsets.Render())

	for _, cam := range run.Cameras {
		in := cam.Intrinsics
		printf(c.App.Writer, "%s: fx %.4f fy %.4f ppx %.4f ppy %.4f (%dx%d)",
			cam.Camera, in.Fx, in.Fy, in.Ppx, in.Ppy, in.Width, in.Height)
		if cam.DistortionType != "" {
			printf(c.App.Writer, "  %s distortion %v", cam.DistortionType, cam.Distortion)
		}
	}
	return nil
}
