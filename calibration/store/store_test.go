package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"

	"github.com/MarqRazz/robot-calibration/calibration/models"
	"github.com/MarqRazz/robot-calibration/calibration/optimizer"
	"github.com/MarqRazz/robot-calibration/data"
	"github.com/MarqRazz/robot-calibration/logging"
	"github.com/MarqRazz/robot-calibration/referenceframe"
	"github.com/MarqRazz/robot-calibration/rimage/transform"
	"github.com/MarqRazz/robot-calibration/testutils"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { test.That(t, s.Close(), test.ShouldBeNil) })
	return s
}

func TestSaveAndReadRun(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	run := &Run{
		Robot:         "calib_bot",
		StatusText:    "converged",
		Converged:     true,
		Solver:        "levenberg_marquardt",
		Termination:   "CONVERGENCE",
		InitialCost:   1.5,
		FinalCost:     1e-14,
		Iterations:    7,
		NumParameters: 2,
		NumResiduals:  36,
		Duration:      250 * time.Millisecond,
		CreatedAt:     time.Unix(0, 1700000000000000000),
		Offsets: []Offset{
			{Name: "shoulder_pan_joint", Value: 0.05},
			{Name: "head_camera_fx", Value: -0.002},
		},
		Cameras: []CameraCalibration{{
			Camera:         "head_camera",
			Intrinsics:     transform.PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 499, Fy: 500, Ppx: 320, Ppy: 240},
			DistortionType: transform.BrownConradyDistortionType,
			Distortion:     []float64{0.1, 0, 0, 0, 0},
		}},
	}
	test.That(t, s.SaveRun(ctx, run), test.ShouldBeNil)
	test.That(t, run.ID, test.ShouldNotBeEmpty)

	read, err := s.Run(ctx, run.ID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff(run, read), test.ShouldBeEmpty)
	test.That(t, read.OffsetMap()["shoulder_pan_joint"], test.ShouldEqual, 0.05)

	// Ids are unique.
	err = s.SaveRun(ctx, &Run{ID: run.ID, Robot: "calib_bot"})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = s.Run(ctx, "missing")
	test.That(t, errors.Is(err, ErrRunNotFound), test.ShouldBeTrue)
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	base := time.Unix(1700000000, 0)
	for i, r := range []*Run{
		{Robot: "calib_bot", Converged: true, CreatedAt: base},
		{Robot: "calib_bot", Converged: false, CreatedAt: base.Add(time.Minute)},
		{Robot: "other_bot", Converged: true, CreatedAt: base.Add(2 * time.Minute)},
	} {
		r.Offsets = []Offset{{Name: "shoulder_pan_joint", Value: float64(i)}}
		test.That(t, s.SaveRun(ctx, r), test.ShouldBeNil)
	}

	all, err := s.Runs(ctx, "", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, all, test.ShouldHaveLength, 3)
	test.That(t, all[0].Robot, test.ShouldEqual, "other_bot")
	test.That(t, all[0].Offsets, test.ShouldBeEmpty)

	mine, err := s.Runs(ctx, "calib_bot", 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mine, test.ShouldHaveLength, 1)
	test.That(t, mine[0].Converged, test.ShouldBeFalse)

	latest, err := s.LatestConverged(ctx, "calib_bot")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, latest.CreatedAt.Equal(base), test.ShouldBeTrue)
	test.That(t, latest.OffsetMap()["shoulder_pan_joint"], test.ShouldEqual, 0.)
	_, err = s.LatestConverged(ctx, "nobody")
	test.That(t, errors.Is(err, ErrRunNotFound), test.ShouldBeTrue)

	test.That(t, s.DeleteRun(ctx, latest.ID), test.ShouldBeNil)
	_, err = s.Run(ctx, latest.ID)
	test.That(t, errors.Is(err, ErrRunNotFound), test.ShouldBeTrue)
	test.That(t, errors.Is(s.DeleteRun(ctx, latest.ID), ErrRunNotFound), test.ShouldBeTrue)
}

func TestNewRun(t *testing.T) {
	logger := logging.NewTestLogger(t)
	opt, err := optimizer.NewOptimizer(testutils.CalibBotURDF, optimizer.WithLogger(logger))
	test.That(t, err, test.ShouldBeNil)

	_, err = NewRun("calib_bot", optimizer.StatusConverged, opt)
	test.That(t, errors.Is(err, optimizer.ErrNoResult), test.ShouldBeTrue)

	camera := models.Config{
		Name:       "head_camera",
		Type:       models.TypeCamera3d,
		Frame:      "head_camera_optical_frame",
		Intrinsics: &transform.PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240},
	}
	params := optimizer.DefaultParams()
	params.FreeParams = []string{"head_camera_fx"}
	params.Models = []models.Config{camera}

	var samples []data.Sample
	for _, pan := range []float64{-0.5, 0, 0.5} {
		js := referenceframe.JointPositions{"shoulder_pan_joint": pan, "elbow_flex_joint": 0, "head_pan_joint": 0}
		samples = append(samples, data.Sample{
			JointStates: js,
			Observations: []data.Observation{{
				Sensor:   "head_camera",
				Features: []data.Feature{{Point: [3]float64{0.7, pan, 0.3}, Observed: []float64{-pan, 0.7, 0.6}}},
			}},
		})
	}
	status, err := opt.Optimize(params, samples)
	test.That(t, err, test.ShouldBeNil)

	run, err := NewRun("calib_bot", status, opt)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, run.ID, test.ShouldEqual, opt.Summary().ID.String())
	test.That(t, run.Status, test.ShouldEqual, int(status))
	test.That(t, run.NumParameters, test.ShouldEqual, 1)
	test.That(t, run.NumResiduals, test.ShouldEqual, 9)
	test.That(t, run.Offsets, test.ShouldHaveLength, 1)
	test.That(t, run.Offsets[0].Name, test.ShouldEqual, "head_camera_fx")
	test.That(t, run.Cameras, test.ShouldHaveLength, 1)
	test.That(t, run.Cameras[0].Intrinsics.Fx, test.ShouldAlmostEqual, 500*(1+run.Offsets[0].Value))

	s := openStore(t)
	test.That(t, s.SaveRun(context.Background(), run), test.ShouldBeNil)
	read, err := s.Run(context.Background(), run.ID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.Cameras, test.ShouldResemble, run.Cameras)
}
