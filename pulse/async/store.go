package async

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/hydrotrace/errors"
)

// FailureScope says what a failure record is about.
type FailureScope string

const (
	ScopeJob   FailureScope = "job"
	ScopeStore FailureScope = "store"
)

// Failure is an append-only failure record.
type Failure struct {
	ID        int64        `json:"id" yaml:"-"`
	RunID     string       `json:"run_id" yaml:"-"`
	Scope     FailureScope `json:"scope" yaml:"scope"`
	Subject   string       `json:"subject" yaml:"subject"` // seed name or store path
	Stage     string       `json:"stage,omitempty" yaml:"stage,omitempty"`
	Code      ErrorCode    `json:"code,omitempty" yaml:"code,omitempty"`
	Detail    string       `json:"detail" yaml:"detail"`
	CreatedAt time.Time    `json:"created_at" yaml:"created_at"`
}

// Run is one pipeline invocation.
type Run struct {
	ID         string
	Workspace  string
	Network    string
	Workers    int
	Discovered int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// JobRecord is the ledger row of a job.
type JobRecord struct {
	ID            string
	RunID         string
	Seed          string
	State         JobState
	WorkspacePath string
	ResultPath    string
	Error         string
	StartedAt     *time.Time
	FinishedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store persists runs, jobs and failure records in the run ledger
type Store struct {
	db *sql.DB
}

// NewStore creates a ledger store on a migrated ledger database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRun inserts a run row
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, workspace, network, workers, discovered, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Workspace, run.Network, run.Workers, run.Discovered, run.StartedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to create run %s", run.ID)
	}
	return nil
}

// SetDiscovered records how many jobs the run enumerated
func (s *Store) SetDiscovered(ctx context.Context, runID string, n int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET discovered = ? WHERE id = ?`, n, runID)
	if err != nil {
		return errors.Wrapf(err, "failed to update run %s", runID)
	}
	return nil
}

// FinishRun stamps the run's end time
func (s *Store) FinishRun(ctx context.Context, runID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET finished_at = ? WHERE id = ?`, at, runID)
	if err != nil {
		return errors.Wrapf(err, "failed to finish run %s", runID)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace, network, workers, discovered, started_at, finished_at
		FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &run.Workspace, &run.Network, &run.Workers, &run.Discovered, &run.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("run not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get run")
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

// CreateJob inserts a pending job row
func (s *Store) CreateJob(ctx context.Context, runID string, job *Job) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, run_id, seed, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, runID, job.Seed, StatePending, job.CreatedAt, now)
	if err != nil {
		return errors.Wrapf(err, "failed to create job %s", job.ID)
	}
	return nil
}

// UpdateJob writes the mutable columns of a job row
func (s *Store) UpdateJob(ctx context.Context, rec *JobRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = ?,
		    workspace_path = ?,
		    result_path = ?,
		    error = ?,
		    started_at = ?,
		    finished_at = ?,
		    updated_at = ?
		WHERE id = ?`,
		rec.State,
		nullString(rec.WorkspacePath),
		nullString(rec.ResultPath),
		nullString(rec.Error),
		rec.StartedAt,
		rec.FinishedAt,
		time.Now(),
		rec.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", rec.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("job not found: %s", rec.ID)
	}
	return nil
}

// GetJob retrieves a job row by ID
func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	defer rows.Close()

	jobs, err := scanJobRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	return jobs[0], nil
}

// ListJobs returns a run's jobs by seed, optionally filtered by state
func (s *Store) ListJobs(ctx context.Context, runID string, state *JobState) ([]*JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE run_id = ?`
	args := []interface{}{runID}
	if state != nil {
		query += ` AND state = ?`
		args = append(args, *state)
	}
	query += ` ORDER BY seed`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()
	return scanJobRecords(rows)
}

// JobCounts returns the number of a run's jobs in each state
func (s *Store) JobCounts(ctx context.Context, runID string) (map[JobState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs WHERE run_id = ? GROUP BY state`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobState]int)
	for rows.Next() {
		var state JobState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[state] = n
	}
	return counts, errors.Wrap(rows.Err(), "error iterating job counts")
}

// RecordFailure appends a failure record
func (s *Store) RecordFailure(ctx context.Context, f *Failure) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO failures (run_id, scope, subject, stage, code, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.RunID, f.Scope, f.Subject, nullString(f.Stage), nullString(string(f.Code)), f.Detail, f.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to record failure for %s", f.Subject)
	}
	if id, err := res.LastInsertId(); err == nil {
		f.ID = id
	}
	return nil
}

// ListFailures returns a run's failure records in insertion order
func (s *Store) ListFailures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, scope, subject, stage, code, detail, created_at
		FROM failures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list failures")
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var stage, code sql.NullString
		if err := rows.Scan(&f.ID, &f.RunID, &f.Scope, &f.Subject, &stage, &code, &f.Detail, &f.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan failure")
		}
		f.Stage = stage.String
		f.Code = ErrorCode(code.String)
		out = append(out, f)
	}
	return out, errors.Wrap(rows.Err(), "error iterating failures")
}

const jobColumns = `id, run_id, seed, state, workspace_path, result_path, error, started_at, finished_at, created_at, updated_at`

func scanJobRecords(rows *sql.Rows) ([]*JobRecord, error) {
	var out []*JobRecord
	for rows.Next() {
		var rec JobRecord
		var ws, result, errMsg sql.NullString
		var started, finished sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Seed, &rec.State, &ws, &result, &errMsg,
			&started, &finished, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		rec.WorkspacePath = ws.String
		rec.ResultPath = result.String
		rec.Error = errMsg.String
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if finished.Valid {
			rec.FinishedAt = &finished.Time
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
