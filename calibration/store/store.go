// Package store persists calibration runs in a SQLite database so results of earlier solves can be
// compared and the latest offsets of a robot looked up.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/MarqRazz/robot-calibration/logging"
	"github.com/MarqRazz/robot-calibration/rimage/transform"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("calibration run not found")

const schema = `
CREATE TABLE IF NOT EXISTS calibration_runs (
	run_id          TEXT PRIMARY KEY,
	robot           TEXT NOT NULL,
	status          INTEGER NOT NULL,
	status_text     TEXT NOT NULL,
	converged       INTEGER NOT NULL,
	solver          TEXT,
	termination     TEXT,
	message         TEXT,
	initial_cost    DOUBLE,
	final_cost      DOUBLE,
	iterations      INTEGER,
	num_parameters  INTEGER,
	num_residuals   INTEGER,
	duration_ns     INTEGER,
	created_at_ns   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calibration_runs_robot ON calibration_runs (robot, created_at_ns);
CREATE TABLE IF NOT EXISTS calibration_offsets (
	run_id  TEXT NOT NULL,
	idx     INTEGER NOT NULL,
	name    TEXT NOT NULL,
	value   DOUBLE NOT NULL,
	PRIMARY KEY (run_id, name),
	FOREIGN KEY (run_id) REFERENCES calibration_runs (run_id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS camera_calibrations (
	run_id           TEXT NOT NULL,
	camera           TEXT NOT NULL,
	intrinsics_json  TEXT NOT NULL,
	distortion_type  TEXT,
	distortion_json  TEXT,
	PRIMARY KEY (run_id, camera),
	FOREIGN KEY (run_id) REFERENCES calibration_runs (run_id) ON DELETE CASCADE
);
`

// Offset is one named slot of a solved offset vector.
type Offset struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// CameraCalibration is the calibrated intrinsics of one camera of a run.
type CameraCalibration struct {
	Camera         string                            `json:"camera"`
	Intrinsics     transform.PinholeCameraIntrinsics `json:"intrinsics"`
	DistortionType transform.DistortionType          `json:"distortion_type,omitempty"`
	Distortion     []float64                         `json:"distortion,omitempty"`
}

// Run is one stored solve.
type Run struct {
	ID            string              `json:"id"`
	Robot         string              `json:"robot"`
	Status        int                 `json:"status"`
	StatusText    string              `json:"status_text"`
	Converged     bool                `json:"converged"`
	Solver        string              `json:"solver,omitempty"`
	Termination   string              `json:"termination,omitempty"`
	Message       string              `json:"message,omitempty"`
	InitialCost   float64             `json:"initial_cost"`
	FinalCost     float64             `json:"final_cost"`
	Iterations    int                 `json:"iterations"`
	NumParameters int                 `json:"num_parameters"`
	NumResiduals  int                 `json:"num_residuals"`
	Duration      time.Duration       `json:"duration"`
	CreatedAt     time.Time           `json:"created_at"`
	Offsets       []Offset            `json:"offsets,omitempty"`
	Cameras       []CameraCalibration `json:"cameras,omitempty"`
}

// OffsetMap returns the offsets of the run by name.
func (r *Run) OffsetMap() map[string]float64 {
	out := make(map[string]float64, len(r.Offsets))
	for _, o := range r.Offsets {
		out[o.Name] = o.Value
	}
	return out
}

// Store is a SQLite database of calibration runs.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens or creates the database at path. ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open results database %s", path)
	}
	// A single connection keeps in-memory databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "failed to enable foreign keys"), db.Close())
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "failed to create schema"), db.Close())
	}
	logger.Debugw("opened results database", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a run with its offsets and cameras in one transaction. An empty ID is replaced by
// a new one and a zero CreatedAt by the current time.
func (s *Store) SaveRun(ctx context.Context, run *Run) (err error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = multierr.Append(err, rbErr)
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO calibration_runs (
			run_id, robot, status, status_text, converged, solver, termination, message,
			initial_cost, final_cost, iterations, num_parameters, num_residuals,
			duration_ns, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Robot, run.Status, run.StatusText, run.Converged, run.Solver, run.Termination, run.Message,
		run.InitialCost, run.FinalCost, run.Iterations, run.NumParameters, run.NumResiduals,
		run.Duration.Nanoseconds(), run.CreatedAt.UnixNano(),
	); err != nil {
		return errors.Wrapf(err, "failed to insert run %s", run.ID)
	}

	for i, o := range run.Offsets {
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO calibration_offsets (run_id, idx, name, value) VALUES (?, ?, ?, ?)",
			run.ID, i, o.Name, o.Value,
		); err != nil {
			return errors.Wrapf(err, "failed to insert offset %q", o.Name)
		}
	}

	for _, cam := range run.Cameras {
		intrinsics, jsonErr := json.Marshal(cam.Intrinsics)
		if jsonErr != nil {
			return errors.Wrapf(jsonErr, "camera %q", cam.Camera)
		}
		distortion, jsonErr := json.Marshal(cam.Distortion)
		if jsonErr != nil {
			return errors.Wrapf(jsonErr, "camera %q", cam.Camera)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO camera_calibrations (run_id, camera, intrinsics_json, distortion_type, distortion_json)
			VALUES (?, ?, ?, ?, ?)`,
			run.ID, cam.Camera, string(intrinsics), string(cam.DistortionType), string(distortion),
		); err != nil {
			return errors.Wrapf(err, "failed to insert camera %q", cam.Camera)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit run")
	}
	s.logger.Infow("stored calibration run", "id", run.ID, "robot", run.Robot, "offsets", len(run.Offsets))
	return nil
}

const runColumns = `run_id, robot, status, status_text, converged, solver, termination, message,
	initial_cost, final_cost, iterations, num_parameters, num_residuals, duration_ns, created_at_ns`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run                           Run
		solver, termination, message  sql.NullString
		durationNs, createdAtNs       int64
		initialCost, finalCost        sql.NullFloat64
		iterations, params, residuals sql.NullInt64
	)
	if err := row.Scan(
		&run.ID, &run.Robot, &run.Status, &run.StatusText, &run.Converged,
		&solver, &termination, &message,
		&initialCost, &finalCost, &iterations, &params, &residuals,
		&durationNs, &createdAtNs,
	); err != nil {
		return nil, err
	}
	run.Solver = solver.String
	run.Termination = termination.String
	run.Message = message.String
	run.InitialCost = initialCost.Float64
	run.FinalCost = finalCost.Float64
	run.Iterations = int(iterations.Int64)
	run.NumParameters = int(params.Int64)
	run.NumResiduals = int(residuals.Int64)
	run.Duration = time.Duration(durationNs)
	run.CreatedAt = time.Unix(0, createdAtNs)
	return &run, nil
}

// Run returns a stored run with its offsets and cameras.
func (s *Store) Run(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM calibration_runs WHERE run_id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrRunNotFound, "%q", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read run %q", id)
	}
	if err := s.loadDetails(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Runs lists the runs of a robot, newest first, without offsets or cameras. An empty robot lists
// all runs. limit <= 0 means no limit.
func (s *Store) Runs(ctx context.Context, robot string, limit int) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM calibration_runs"
	var args []interface{}
	if robot != "" {
		query += " WHERE robot = ?"
		args = append(args, robot)
	}
	query += " ORDER BY created_at_ns DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer func() {
		// Errors while iterating are reported by rows.Err.
		_ = rows.Close()
	}()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestConverged returns the newest converged run of a robot, with details.
func (s *Store) LatestConverged(ctx context.Context, robot string) (*Run, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT run_id FROM calibration_runs WHERE robot = ? AND converged = 1 ORDER BY created_at_ns DESC LIMIT 1",
		robot,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrRunNotFound, "no converged run for robot %q", robot)
	}
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, id)
}

// DeleteRun removes a run and everything stored with it.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM calibration_runs WHERE run_id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete run %q", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrRunNotFound, "%q", id)
	}
	return nil
}

func (s *Store) loadDetails(ctx context.Context, run *Run) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, value FROM calibration_offsets WHERE run_id = ? ORDER BY idx", run.ID)
	if err != nil {
		return errors.Wrap(err, "failed to read offsets")
	}
	for rows.Next() {
		var o Offset
		if err := rows.Scan(&o.Name, &o.Value); err != nil {
			return multierr.Combine(err, rows.Close())
		}
		run.Offsets = append(run.Offsets, o)
	}
	if err := multierr.Combine(rows.Err(), rows.Close()); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT camera, intrinsics_json, distortion_type, distortion_json
		FROM camera_calibrations WHERE run_id = ? ORDER BY camera`, run.ID)
	if err != nil {
		return errors.Wrap(err, "failed to read cameras")
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		var (
			cam                        CameraCalibration
			intrinsics                 string
			distortionType, distortion sql.NullString
		)
		if err := rows.Scan(&cam.Camera, &intrinsics, &distortionType, &distortion); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(intrinsics), &cam.Intrinsics); err != nil {
			return errors.Wrapf(err, "camera %q has corrupt intrinsics", cam.Camera)
		}
		cam.DistortionType = transform.DistortionType(distortionType.String)
		if distortion.Valid && distortion.String != "" {
			if err := json.Unmarshal([]byte(distortion.String), &cam.Distortion); err != nil {
				return errors.Wrapf(err, "camera %q has corrupt distortion", cam.Camera)
			}
		}
		run.Cameras = append(run.Cameras, cam)
	}
	return rows.Err()
}
