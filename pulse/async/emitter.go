package async

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/logger"
)

// StateEmitter receives job state changes and failure records.
type StateEmitter interface {
	EmitState(ctx context.Context, rec *JobRecord) error
	EmitFailure(ctx context.Context, f *Failure) error
}

// LedgerEmitter writes state changes and failures to the run ledger.
type LedgerEmitter struct {
	store *Store
	runID string
}

// NewLedgerEmitter creates an emitter for one run.
func NewLedgerEmitter(store *Store, runID string) *LedgerEmitter {
	return &LedgerEmitter{store: store, runID: runID}
}

// EmitState persists a job row
func (e *LedgerEmitter) EmitState(ctx context.Context, rec *JobRecord) error {
	rec.RunID = e.runID
	return e.store.UpdateJob(ctx, rec)
}

// EmitFailure appends a failure record for the run
func (e *LedgerEmitter) EmitFailure(ctx context.Context, f *Failure) error {
	f.RunID = e.runID
	return e.store.RecordFailure(ctx, f)
}

// JobRun is a job's handle on its own lifecycle while a worker executes it.
// It validates transitions and reports them; it is used by one goroutine.
type JobRun struct {
	job     *Job
	out     *Outcome
	emitter StateEmitter
	log     *zap.SugaredLogger

	mu       sync.Mutex
	rec      JobRecord
	recorded bool
}

func newJobRun(job *Job, out *Outcome, emitter StateEmitter, log *zap.SugaredLogger) *JobRun {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &JobRun{
		job:     job,
		out:     out,
		emitter: emitter,
		log:     logger.ChildLogger(log, logger.FieldJobID, job.ID, logger.FieldSeed, job.Seed),
		rec:     JobRecord{ID: job.ID, Seed: job.Seed, State: StatePending, CreatedAt: job.CreatedAt},
	}
}

// Job returns the job being run.
func (r *JobRun) Job() *Job { return r.job }

// Logger returns a logger carrying the job's identity.
func (r *JobRun) Logger() *zap.SugaredLogger { return r.log }

// State returns the current state.
func (r *JobRun) State() JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.State
}

// Transition moves the job to state to. Illegal moves return
// ErrInvalidTransition and leave the state unchanged.
func (r *JobRun) Transition(ctx context.Context, to JobState) error {
	r.mu.Lock()
	from := r.rec.State
	if !CanTransition(from, to) {
		r.mu.Unlock()
		return errors.Wrapf(errors.ErrInvalidTransition, "job %s: %s -> %s", r.job.ID, from, to)
	}
	now := time.Now()
	r.rec.State = to
	if from == StatePending {
		r.rec.StartedAt = &now
	}
	if to.Terminal() {
		r.rec.FinishedAt = &now
	}
	rec := r.rec
	r.out.State = to
	r.mu.Unlock()

	r.log.Debugw("Job state", logger.FieldState, to, "from", from)
	r.emit(ctx, &rec)
	return nil
}

// SetWorkspace records the isolated workspace in use.
func (r *JobRun) SetWorkspace(path string) {
	r.mu.Lock()
	r.rec.WorkspacePath = path
	r.out.Workspace = path
	r.mu.Unlock()
}

// SetResult records the result store the job writes.
func (r *JobRun) SetResult(path string) {
	r.mu.Lock()
	r.rec.ResultPath = path
	r.out.Result = path
	r.mu.Unlock()
}

// Fail records the job's failure record. Only the first call has an effect,
// so a job never carries more than one record.
func (r *JobRun) Fail(ctx context.Context, err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	if r.recorded {
		r.mu.Unlock()
		return
	}
	r.recorded = true
	stage := r.rec.State
	r.rec.Error = err.Error()
	r.out.Err = err
	r.out.Stage = stage
	r.mu.Unlock()

	ec := ClassifyError(string(stage), err)
	r.log.Errorw("Job failed",
		logger.FieldStage, stage,
		logger.FieldErrorCode, ec.Code,
		logger.FieldError, err,
	)
	if r.emitter == nil {
		return
	}
	f := &Failure{
		Scope:   ScopeJob,
		Subject: r.job.Seed,
		Stage:   string(stage),
		Code:    ec.Code,
		Detail:  ec.Message,
	}
	if emitErr := r.emitter.EmitFailure(context.WithoutCancel(ctx), f); emitErr != nil {
		r.log.Warnw("Failed to record job failure", logger.FieldError, emitErr)
	}
}

// Failed reports whether a failure was recorded.
func (r *JobRun) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorded
}

func (r *JobRun) emit(ctx context.Context, rec *JobRecord) {
	if r.emitter == nil {
		return
	}
	if err := r.emitter.EmitState(context.WithoutCancel(ctx), rec); err != nil {
		r.log.Warnw("Failed to persist job state", logger.FieldState, rec.State, logger.FieldError, err)
	}
}
