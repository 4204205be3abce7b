package trace

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/gdb"
	"github.com/teranos/hydrotrace/hydronet"
	"github.com/teranos/hydrotrace/internal/util"
	"github.com/teranos/hydrotrace/isolate"
	"github.com/teranos/hydrotrace/logger"
	"github.com/teranos/hydrotrace/pulse/async"
)

// Executor runs one seed's trace. It implements async.JobExecutor.
type Executor struct {
	opts     Options
	isolator *isolate.Isolator
	tracer   hydronet.Tracer
	log      *zap.SugaredLogger
}

// NewExecutor creates an executor. The isolator decides where isolated
// workspaces live; result stores go under opts.ResultsRoot.
func NewExecutor(opts Options, isolator *isolate.Isolator, tracer hydronet.Tracer, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{opts: opts, isolator: isolator, tracer: tracer, log: log.Named("trace")}
}

// Execute runs the job to done, or records its failure and leaves it in
// cleaning_up with the error returned. The isolated workspace is cleaned up
// either way, including when a step panics.
func (e *Executor) Execute(ctx context.Context, run *async.JobRun) error {
	job := run.Job()
	log := run.Logger()
	start := time.Now()
	log.Infow("Processing seed", logger.FieldNetwork, job.Network)

	var ws *isolate.Workspace
	cleanup := sync.OnceFunc(func() { e.cleanup(log, ws) })
	defer cleanup()

	err := e.steps(ctx, run, util.NewUniqueID(), &ws)
	if err != nil {
		run.Fail(ctx, err)
	}

	if tErr := run.Transition(ctx, async.StateCleaningUp); tErr != nil && err == nil {
		err = tErr
	}
	cleanup()
	if err != nil {
		return err
	}

	if err := run.Transition(ctx, async.StateDone); err != nil {
		return err
	}
	log.Infow("Finished trace",
		"group", e.opts.GroupName(job.Seed),
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return nil
}

// steps runs isolating through propagating. *ws is set as soon as isolation
// succeeds so the caller can clean it up whatever happens afterwards.
func (e *Executor) steps(ctx context.Context, run *async.JobRun, id string, ws **isolate.Workspace) error {
	job := run.Job()
	log := run.Logger()

	if err := run.Transition(ctx, async.StateIsolating); err != nil {
		return err
	}
	isolated, err := e.isolator.Isolate(ctx, job.Network, id)
	if err != nil {
		return errors.Wrap(err, "isolate network")
	}
	*ws = isolated
	run.SetWorkspace(isolated.Dir)

	result, err := gdb.CreateIn(e.opts.ResultsRoot, e.opts.ResultStoreName(id), log)
	if err != nil {
		return errors.Wrap(err, "create result store")
	}
	defer func() {
		if err := result.Close(); err != nil {
			log.Warnw("Failed to close result store", logger.FieldStore, result.Path(), logger.FieldError, err)
		}
	}()
	run.SetResult(result.Path())

	if err := run.Transition(ctx, async.StateCopyingSeed); err != nil {
		return err
	}
	if err := copySeed(ctx, job, result, log); err != nil {
		return err
	}

	if err := run.Transition(ctx, async.StateTracing); err != nil {
		return err
	}
	res, err := e.tracer.Trace(ctx, hydronet.Request{
		Network:    isolated.Network,
		StartStore: result.Path(),
		StartClass: job.Seed,
		Options:    hydronet.DownstreamOptions(e.opts.GroupName(job.Seed)),
	})
	if err != nil {
		return errors.Wrapf(err, "trace %s", job.Seed)
	}
	selection, ok := res.Selection(e.opts.EdgeClass)
	if !ok {
		return errors.NewNotFoundError("trace group %s has no %s layer", res.Group, e.opts.EdgeClass)
	}

	output := e.opts.OutputName(job.Seed)
	if err := run.Transition(ctx, async.StateCopyingResult); err != nil {
		return err
	}
	if err := copySelection(ctx, isolated, selection, result, output, log); err != nil {
		// The join below fails on the missing output and fails the job.
		log.Warnw("Failed to copy trace selection, continuing",
			"selection", selection,
			logger.FieldError, err,
		)
	}

	if err := run.Transition(ctx, async.StateJoining); err != nil {
		return err
	}
	fields, key, err := identifierFields(ctx, result, job.Seed, e.opts.IdentifierField)
	if err != nil {
		return err
	}
	if err := result.JoinField(ctx, output, e.opts.JoinKey, result, job.Seed, key, fields); err != nil {
		return errors.Wrap(err, "join identifiers")
	}

	if err := run.Transition(ctx, async.StatePropagating); err != nil {
		return err
	}
	values, err := BuildPropagationMap(ctx, result, job.Seed, fields)
	if err != nil {
		return err
	}
	n, err := Propagate(ctx, result, output, values)
	if err != nil {
		return err
	}
	log.Debugw("Propagated identifiers", "fields", fields, "rows", n)
	return nil
}

func copySeed(ctx context.Context, job *async.Job, result *gdb.Store, log *zap.SugaredLogger) error {
	shared, err := gdb.Open(job.Workspace, gdb.OpenOptions{ReadOnly: true}, log)
	if err != nil {
		return errors.Wrap(err, "open shared workspace")
	}
	defer shared.Close()

	if err := gdb.CopyFeatures(ctx, shared, job.Seed, result, job.Seed); err != nil {
		return errors.Wrap(err, "copy seed")
	}
	return nil
}

func copySelection(ctx context.Context, ws *isolate.Workspace, selection string, result *gdb.Store, output string, log *zap.SugaredLogger) error {
	ref, err := hydronet.ParseNetworkPath(ws.Network)
	if err != nil {
		return err
	}
	net, err := gdb.Open(ref.Store, gdb.OpenOptions{ReadOnly: true}, log)
	if err != nil {
		return err
	}
	defer net.Close()
	return gdb.CopyFeatures(ctx, net, selection, result, output)
}

// cleanup never fails the job.
func (e *Executor) cleanup(log *zap.SugaredLogger, ws *isolate.Workspace) {
	if ws == nil {
		return
	}
	report := e.isolator.Cleanup(ws)
	log.Debugw("Workspace cleaned",
		logger.FieldWorkspace, ws.Dir,
		logger.FieldRemoved, report.Removed,
		logger.FieldKept, len(report.Kept),
		"cleanup_errors", len(report.Errors),
	)
	for _, err := range report.Errors {
		log.Debugw("Cleanup error", logger.FieldError, err)
	}
}
