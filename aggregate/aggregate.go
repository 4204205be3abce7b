// Package aggregate merges the per-job result stores into the consolidated
// store once every job has finished.
package aggregate

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/teranos/hydrotrace/am"
	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/gdb"
	"github.com/teranos/hydrotrace/logger"
	"github.com/teranos/hydrotrace/pulse/async"
)

// Stage names the aggregation step in failure records.
const Stage = "aggregating"

const defaultRetryInterval = 200 * time.Millisecond

// Options configures an Aggregator.
type Options struct {
	Target         string // consolidated store
	ResultsRoot    string // holds the per-job result stores
	OutputWildcard string // output collection inside a result store
	StoreWildcard  string // result store directory names, for Sweep
	Cooldown       time.Duration
	MaxRetries     int
	RetryInterval  time.Duration
}

// OptionsFromConfig derives aggregator options from a validated config.
func OptionsFromConfig(cfg *am.Config) Options {
	return Options{
		Target:         cfg.AggregateTarget(),
		ResultsRoot:    cfg.ResultsRoot(),
		OutputWildcard: cfg.Trace.OutputPrefix + "*",
		StoreWildcard:  cfg.Trace.StorePrefix + "*" + gdb.Extension,
		Cooldown:       time.Duration(cfg.Aggregate.CooldownSeconds) * time.Second,
		MaxRetries:     cfg.Aggregate.MaxRetries,
		RetryInterval:  defaultRetryInterval,
	}
}

// FailureEmitter records store-scoped failures.
type FailureEmitter interface {
	EmitFailure(ctx context.Context, f *async.Failure) error
}

// Report summarises one aggregation.
type Report struct {
	Target       string          `yaml:"target"`
	Attempted    int             `yaml:"attempted"`
	Aggregated   int             `yaml:"aggregated"`
	Failed       int             `yaml:"failed"`
	Artifacts    []string        `yaml:"artifacts,omitempty"`
	FailedStores []string        `yaml:"failed_stores,omitempty"`
	Failures     []async.Failure `yaml:"failures,omitempty"`
}

// Aggregator copies each result store's output collection into the target.
type Aggregator struct {
	opts     Options
	failures FailureEmitter
	log      *zap.SugaredLogger

	copy func(ctx context.Context, target *gdb.Store, store string) (string, error)
}

// New creates an aggregator. failures may be nil.
func New(opts Options, failures FailureEmitter, log *zap.SugaredLogger) *Aggregator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	a := &Aggregator{opts: opts, failures: failures, log: log.Named("aggregate")}
	a.copy = a.copyOutput
	return a
}

// AggregateBatch waits for every job of the batch to signal completion, then
// merges the result store of each done job. Failed jobs are skipped; their
// failure is already on record.
func (a *Aggregator) AggregateBatch(ctx context.Context, batch *async.Batch) (*Report, error) {
	for _, out := range batch.Outcomes {
		select {
		case <-out.Done():
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "waiting for jobs to finish")
		}
	}
	if err := a.cooldown(ctx); err != nil {
		return nil, err
	}

	var stores []string
	for _, out := range batch.Outcomes {
		if out.Succeeded() {
			stores = append(stores, out.Result)
		}
	}
	return a.merge(ctx, stores)
}

// Sweep merges every result store found under the results root, in name
// order. It does not consult the ledger, so it also picks up stores of
// earlier or interrupted runs.
func (a *Aggregator) Sweep(ctx context.Context) (*Report, error) {
	entries, err := os.ReadDir(a.opts.ResultsRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list result stores in %s", a.opts.ResultsRoot)
	}
	var stores []string
	for _, e := range entries {
		if e.IsDir() && gdb.MatchWildcard(a.opts.StoreWildcard, e.Name()) {
			stores = append(stores, filepath.Join(a.opts.ResultsRoot, e.Name()))
		}
	}
	sort.Strings(stores)
	a.log.Infow("Sweeping result stores", logger.FieldCount, len(stores), logger.FieldTarget, a.opts.Target)
	return a.merge(ctx, stores)
}

func (a *Aggregator) merge(ctx context.Context, stores []string) (*Report, error) {
	report := &Report{Target: a.opts.Target}

	target, err := gdb.Create(a.opts.Target, a.log)
	if err != nil {
		return nil, errors.Wrap(err, "open consolidated store")
	}
	defer func() {
		if err := target.Close(); err != nil {
			a.log.Warnw("Failed to close consolidated store", logger.FieldStore, a.opts.Target, logger.FieldError, err)
		}
	}()

	a.log.Infow("Moving trace outputs", logger.FieldCount, len(stores), logger.FieldTarget, a.opts.Target)
	for _, store := range stores {
		if err := ctx.Err(); err != nil {
			return report, errors.Wrap(err, "aggregation interrupted")
		}
		report.Attempted++

		artifact, err := a.mergeWithRetry(ctx, target, store)
		if err != nil {
			report.Failed++
			report.FailedStores = append(report.FailedStores, store)
			report.Failures = append(report.Failures, a.recordFailure(ctx, store, err))
			a.log.Errorw("Failed to copy trace output", logger.FieldStore, store, logger.FieldError, err)
			continue
		}
		report.Aggregated++
		report.Artifacts = append(report.Artifacts, artifact)
		a.log.Infow("Moved trace output", "artifact", artifact, logger.FieldStore, store)
	}

	a.log.Infow("Finished aggregating result stores",
		logger.FieldAttempted, report.Attempted,
		logger.FieldFailed, report.Failed,
	)
	for _, failed := range report.FailedStores {
		a.log.Infow("Failed store", logger.FieldStore, failed)
	}
	return report, nil
}

// mergeWithRetry retries busy stores with exponential backoff; any other
// error is final.
func (a *Aggregator) mergeWithRetry(ctx context.Context, target *gdb.Store, store string) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.opts.RetryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(a.opts.MaxRetries)), ctx)

	var artifact string
	attempt := 1
	err := backoff.Retry(func() error {
		name, err := a.copy(ctx, target, store)
		if err == nil {
			artifact = name
			return nil
		}
		if !errors.IsLockedError(err) {
			return backoff.Permanent(err)
		}
		a.log.Infow("Store busy, retrying", logger.FieldStore, store, "attempt", attempt, logger.FieldError, err)
		attempt++
		return err
	}, b)
	return artifact, err
}

func (a *Aggregator) copyOutput(ctx context.Context, target *gdb.Store, store string) (string, error) {
	src, err := gdb.Open(store, gdb.OpenOptions{ReadOnly: true}, a.log)
	if err != nil {
		return "", err
	}
	defer src.Close()

	names, err := src.ListFeatureClasses(ctx, a.opts.OutputWildcard, gdb.GeometryAny)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", errors.NewNotFoundError("no %s collection in %s", a.opts.OutputWildcard, store)
	}
	name := names[0]
	if err := gdb.CopyFeatures(ctx, src, name, target, name); err != nil {
		return "", err
	}
	return name, nil
}

func (a *Aggregator) recordFailure(ctx context.Context, store string, err error) async.Failure {
	ec := async.ClassifyError(Stage, err)
	f := async.Failure{
		Scope:     async.ScopeStore,
		Subject:   store,
		Stage:     Stage,
		Code:      ec.Code,
		Detail:    ec.Message,
		CreatedAt: time.Now(),
	}
	if a.failures != nil {
		if emitErr := a.failures.EmitFailure(context.WithoutCancel(ctx), &f); emitErr != nil {
			a.log.Warnw("Failed to record store failure", logger.FieldStore, store, logger.FieldError, emitErr)
		}
	}
	return f
}

func (a *Aggregator) cooldown(ctx context.Context) error {
	if a.opts.Cooldown <= 0 {
		return nil
	}
	a.log.Infow("Cooling down before aggregation", logger.FieldDuration, a.opts.Cooldown)
	t := time.NewTimer(a.opts.Cooldown)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "cooldown interrupted")
	}
}
