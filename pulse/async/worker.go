package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/logger"
	"github.com/teranos/hydrotrace/pulse"
)

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

// Pulse logs general worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// JobExecutor runs one job to a terminal state. It drives run through the
// job's states and returns the error that failed it, if any.
type JobExecutor interface {
	Execute(ctx context.Context, run *JobRun) error
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers           int     `json:"workers"`             // Number of concurrent workers
	DispatchPerSecond float64 `json:"dispatch_per_second"` // Dispatch pacing; 0 dispatches as fast as workers free up
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{Workers: 1}
}

// WorkerPool runs a batch of jobs on a fixed set of goroutines.
type WorkerPool struct {
	cfg      WorkerPoolConfig
	executor JobExecutor
	emitter  StateEmitter
	progress pulse.ProgressEmitter
	logger   pulseLogger

	mu            sync.Mutex
	activeWorkers int
}

// NewWorkerPool creates a pool. emitter may be nil.
func NewWorkerPool(cfg WorkerPoolConfig, executor JobExecutor, emitter StateEmitter, log *zap.SugaredLogger) *WorkerPool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &WorkerPool{
		cfg:      cfg,
		executor: executor,
		emitter:  emitter,
		logger:   pulseLogger{log.Named("pulse")},
	}
}

// WithProgress attaches a progress emitter. Call before Start.
func (wp *WorkerPool) WithProgress(p pulse.ProgressEmitter) *WorkerPool {
	wp.progress = p
	return wp
}

// Batch is a running set of jobs.
type Batch struct {
	Outcomes []*Outcome
	wg       sync.WaitGroup
}

// Wait blocks until every job of the batch is terminal.
func (b *Batch) Wait() {
	b.wg.Wait()
}

// Succeeded returns the outcomes that reached StateDone.
func (b *Batch) Succeeded() []*Outcome {
	var out []*Outcome
	for _, o := range b.Outcomes {
		if o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

// Failed returns the outcomes that reached StateFailed.
func (b *Batch) Failed() []*Outcome {
	var out []*Outcome
	for _, o := range b.Outcomes {
		if o.State == StateFailed {
			out = append(out, o)
		}
	}
	return out
}

// Run dispatches every job and returns once all of them are terminal.
func (wp *WorkerPool) Run(ctx context.Context, jobs []*Job) *Batch {
	b := wp.Start(ctx, jobs)
	b.Wait()
	wp.logger.Closing("Batch complete",
		logger.FieldCount, len(jobs),
		"succeeded", len(b.Succeeded()),
		logger.FieldFailed, len(b.Failed()),
	)
	return b
}

// Start dispatches the jobs in the background and returns immediately.
// Each outcome's Done channel closes when its job finishes. Cancelling ctx
// stops dispatch; jobs not yet dispatched fail with the context error while
// running jobs finish on their own.
func (wp *WorkerPool) Start(ctx context.Context, jobs []*Job) *Batch {
	b := &Batch{Outcomes: make([]*Outcome, len(jobs))}
	for i, job := range jobs {
		b.Outcomes[i] = newOutcome(job)
	}
	b.wg.Add(len(jobs))

	workers := min(wp.cfg.Workers, max(len(jobs), 1))
	wp.logger.Starting("Dispatching batch", logger.FieldCount, len(jobs), logger.FieldWorkers, workers)
	if wp.progress != nil {
		wp.progress.EmitStage("trace", fmt.Sprintf("tracing %d seeds on %d workers", len(jobs), workers))
		if tracker, ok := wp.progress.(pulse.TaskTracker); ok {
			for _, job := range jobs {
				tracker.AddTask(job.ID, job.Seed)
			}
		}
	}

	queue := make(chan *Outcome)
	for i := 0; i < workers; i++ {
		go wp.worker(ctx, i, queue, &b.wg)
	}
	go wp.dispatch(ctx, b, queue)
	return b
}

func (wp *WorkerPool) dispatch(ctx context.Context, b *Batch, queue chan<- *Outcome) {
	defer close(queue)

	var limiter *rate.Limiter
	if wp.cfg.DispatchPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(wp.cfg.DispatchPerSecond), 1)
	}

	for i, out := range b.Outcomes {
		err := ctx.Err()
		if err == nil && limiter != nil {
			err = limiter.Wait(ctx)
		}
		if err == nil {
			select {
			case queue <- out:
				continue
			case <-ctx.Done():
				err = ctx.Err()
			}
		}

		for _, rest := range b.Outcomes[i:] {
			wp.abandon(ctx, rest, err, &b.wg)
		}
		wp.logger.Closing("Dispatch stopped", "undispatched", len(b.Outcomes)-i, logger.FieldError, err)
		return
	}
}

// abandon fails a job that never reached a worker.
func (wp *WorkerPool) abandon(ctx context.Context, out *Outcome, cause error, wg *sync.WaitGroup) {
	run := newJobRun(out.Job, out, wp.emitter, wp.logger.SugaredLogger)
	out.Started = time.Now()
	run.Fail(ctx, errors.Wrap(cause, "job not dispatched"))
	settle(ctx, run, StateFailed, wp.logger.SugaredLogger)
	wp.finish(out, wg)
}

func (wp *WorkerPool) worker(ctx context.Context, id int, queue <-chan *Outcome, wg *sync.WaitGroup) {
	log := logger.ChildLogger(wp.logger.SugaredLogger, logger.FieldWorkerID, id)
	for out := range queue {
		wp.setActive(1)
		wp.execute(ctx, out, log)
		wp.setActive(-1)
		wp.finish(out, wg)
	}
}

// execute runs one job and guarantees it ends terminal with at most one
// failure record, whatever the executor does.
func (wp *WorkerPool) execute(ctx context.Context, out *Outcome, log *zap.SugaredLogger) {
	run := newJobRun(out.Job, out, wp.emitter, log)
	out.Started = time.Now()

	var execErr error
	var pc panics.Catcher
	pc.Try(func() { execErr = wp.executor.Execute(ctx, run) })
	if r := pc.Recovered(); r != nil {
		execErr = errors.Mark(errors.Wrapf(r.AsError(), "seed %s", out.Job.Seed), ErrPanic)
	}

	state := run.State()
	switch {
	case execErr != nil:
		run.Fail(ctx, execErr)
		if state != StateFailed {
			settle(ctx, run, StateFailed, log)
		}
	case state == StateDone:
	case CanTransition(state, StateDone):
		settle(ctx, run, StateDone, log)
	default:
		run.Fail(ctx, errors.Newf("executor returned in state %s without finishing", state))
		if state != StateFailed {
			settle(ctx, run, StateFailed, log)
		}
	}
}

// settle moves run to a terminal state, warning when the move is refused.
func settle(ctx context.Context, run *JobRun, to JobState, log *zap.SugaredLogger) {
	if err := run.Transition(ctx, to); err != nil {
		log.Warnw("Failed to settle job",
			logger.FieldState, string(run.State()),
			"target", string(to),
			logger.FieldError, err,
		)
	}
}

func (wp *WorkerPool) finish(out *Outcome, wg *sync.WaitGroup) {
	out.Finished = time.Now()
	if wp.progress != nil {
		wp.progress.EmitProgress(1, map[string]interface{}{
			logger.FieldSeed:  out.Job.Seed,
			logger.FieldState: string(out.State),
		})
		if tracker, ok := wp.progress.(pulse.TaskTracker); ok {
			result := string(out.State)
			if out.Err != nil {
				result = out.Err.Error()
			}
			tracker.UpdateTaskStatus(out.Job.ID, out.Succeeded(), result)
		}
	}
	close(out.done)
	wg.Done()
}

func (wp *WorkerPool) setActive(delta int) {
	wp.mu.Lock()
	wp.activeWorkers += delta
	wp.mu.Unlock()
}

// ActiveWorkers returns the number of workers currently executing a job.
func (wp *WorkerPool) ActiveWorkers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.activeWorkers
}
