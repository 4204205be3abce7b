// Package pipeline wires a full batch run: setup, enumerate, trace on the
// worker pool, aggregate and report.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/hydrotrace/aggregate"
	"github.com/teranos/hydrotrace/am"
	"github.com/teranos/hydrotrace/db"
	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/gdb"
	"github.com/teranos/hydrotrace/hydronet"
	"github.com/teranos/hydrotrace/internal/util"
	"github.com/teranos/hydrotrace/isolate"
	"github.com/teranos/hydrotrace/logger"
	"github.com/teranos/hydrotrace/pulse"
	"github.com/teranos/hydrotrace/pulse/async"
	"github.com/teranos/hydrotrace/trace"
	"github.com/teranos/hydrotrace/version"
)

// Pipeline holds the collaborators of a run.
type Pipeline struct {
	cfg        *am.Config
	tracer     hydronet.Tracer
	progress   pulse.ProgressEmitter
	reportPath string
	log        *zap.SugaredLogger
}

// Option configures optional collaborators.
type Option func(*Pipeline)

// WithTracer replaces the reference graph tracer.
func WithTracer(t hydronet.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithProgress reports per-job progress to p.
func WithProgress(pe pulse.ProgressEmitter) Option {
	return func(p *Pipeline) { p.progress = pe }
}

// WithReportPath sets where the YAML report is written. The default is
// <results root>/run_<run id>.yaml.
func WithReportPath(path string) Option {
	return func(p *Pipeline) { p.reportPath = path }
}

// WithLogger sets the logger; the default is the global run logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New creates a pipeline for cfg.
func New(cfg *am.Config, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.ComponentLogger("pipeline")
	}
	if p.tracer == nil {
		p.tracer = hydronet.NewGraphTracer(graphConfig(cfg), p.log)
	}
	return p
}

// Run executes a full batch with cfg.
func Run(ctx context.Context, cfg *am.Config, opts ...Option) (*Report, error) {
	return New(cfg, opts...).Run(ctx)
}

// graphConfig points the reference tracer at the configured schema.
func graphConfig(cfg *am.Config) hydronet.GraphConfig {
	gc := hydronet.DefaultGraphConfig()
	gc.EdgeClass = cfg.Trace.EdgeClass
	gc.EdgeKey = cfg.Trace.JoinKey
	if !strings.ContainsAny(cfg.Trace.IdentifierField, "*?[") {
		gc.StartKey = cfg.Trace.IdentifierField
	}
	return gc
}

// Run executes the batch. Setup failures return an error; job and store
// failures are reported, never returned.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	cfg := p.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	report := &Report{
		RunID:            util.NewUniqueID(),
		Version:          version.Get().Version,
		Workspace:        cfg.Workspace.Path,
		Network:          cfg.Network.Path,
		Workers:          cfg.Pulse.Workers,
		SpatialReference: cfg.Output.SpatialReference,
		StartedAt:        start,
	}
	log := logger.ChildLogger(p.log, logger.FieldRunID, report.RunID)
	log.Infow("Starting run",
		logger.FieldWorkspace, cfg.Workspace.Path,
		logger.FieldNetwork, cfg.Network.Path,
		logger.FieldWorkers, cfg.Pulse.Workers,
	)

	topts := trace.OptionsFromConfig(cfg)
	for _, dir := range []string{topts.ScratchRoot, topts.ResultsRoot} {
		if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
			return nil, errors.Wrapf(err, "failed to create %s", dir)
		}
	}

	conn, err := db.OpenWithMigrations(cfg.LedgerPath(), log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open run ledger")
	}
	defer conn.Close()
	ledger := async.NewStore(conn)
	if err := ledger.CreateRun(ctx, &async.Run{
		ID:        report.RunID,
		Workspace: cfg.Workspace.Path,
		Network:   cfg.Network.Path,
		Workers:   cfg.Pulse.Workers,
		StartedAt: start,
	}); err != nil {
		return nil, err
	}

	jobs, err := p.enumerate(ctx, topts, log)
	if err != nil {
		return nil, err
	}
	report.Discovered = len(jobs)
	if err := ledger.SetDiscovered(ctx, report.RunID, len(jobs)); err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if err := ledger.CreateJob(ctx, report.RunID, job); err != nil {
			return nil, err
		}
	}

	emitter := async.NewLedgerEmitter(ledger, report.RunID)
	executor := trace.NewExecutor(topts, isolate.New(topts.ScratchRoot, log), p.tracer, log)
	pool := async.NewWorkerPool(async.WorkerPoolConfig{
		Workers:           cfg.Pulse.Workers,
		DispatchPerSecond: cfg.Pulse.DispatchPerSecond,
	}, executor, emitter, log)
	if p.progress != nil {
		pool.WithProgress(p.progress)
	}
	for _, w := range pool.CheckCapacity(topts.ScratchRoot) {
		log.Warnw(w)
		report.Warnings = append(report.Warnings, w)
	}
	host := pool.GetSystemMetrics()
	report.Host = &host
	log.Infow("Host capacity",
		"workers", host.WorkersTotal,
		"logical_cpus", host.LogicalCPUs,
		"memory_used_gb", host.MemoryUsedGB,
		"memory_total_gb", host.MemoryTotalGB,
	)

	batch := pool.Run(ctx, jobs)
	report.Jobs = summarise(batch)
	report.Succeeded = len(batch.Succeeded())
	report.Failed = len(batch.Failed())
	log.Infow("Finished processing all traces",
		"succeeded", report.Succeeded,
		logger.FieldFailed, report.Failed,
	)

	agg := aggregate.New(aggregate.OptionsFromConfig(cfg), emitter, log)
	aggReport, err := agg.AggregateBatch(ctx, batch)
	if err != nil {
		return nil, errors.Wrap(err, "aggregation failed")
	}
	report.Aggregation = aggReport
	report.Attempted = aggReport.Attempted
	report.Aggregated = aggReport.Aggregated

	report.FinishedAt = time.Now()
	report.Duration = report.FinishedAt.Sub(start)
	if err := ledger.FinishRun(context.WithoutCancel(ctx), report.RunID, report.FinishedAt); err != nil {
		log.Warnw("Failed to finish run in ledger", logger.FieldError, err)
	}
	if report.Failures, err = ledger.ListFailures(context.WithoutCancel(ctx), report.RunID); err != nil {
		log.Warnw("Failed to read failure records", logger.FieldError, err)
	}

	report.Path = p.reportPath
	if report.Path == "" {
		report.Path = filepath.Join(topts.ResultsRoot, "run_"+report.RunID+".yaml")
	}
	if err := WriteReport(report.Path, report); err != nil {
		log.Warnw("Failed to write run report", logger.FieldPath, report.Path, logger.FieldError, err)
		report.Path = ""
	}

	log.Infow("Total time in run",
		logger.FieldDuration, report.Duration.String(),
		"failures", len(report.Failures),
		"report", report.Path,
	)
	return report, nil
}

func (p *Pipeline) enumerate(ctx context.Context, topts trace.Options, log *zap.SugaredLogger) ([]*async.Job, error) {
	log.Infow("Grabbing seed collections", "wildcard", topts.SeedWildcard)
	ws, err := gdb.Open(topts.Workspace, gdb.OpenOptions{ReadOnly: true}, log)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrap(err, "failed to open workspace"),
			"workspace.path must point at an existing .gdb store")
	}
	defer ws.Close()

	jobs, err := trace.Enumerate(ctx, ws, topts)
	if err != nil {
		return nil, err
	}
	log.Infow("Seed collections to process", logger.FieldCount, len(jobs))
	return jobs, nil
}
