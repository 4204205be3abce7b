package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/hydrotrace/errors"
	htest "github.com/teranos/hydrotrace/internal/testing"
)

// recordingEmitter keeps everything in memory.
type recordingEmitter struct {
	mu       sync.Mutex
	states   []JobRecord
	failures []Failure
}

func (e *recordingEmitter) EmitState(_ context.Context, rec *JobRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = append(e.states, *rec)
	return nil
}

func (e *recordingEmitter) EmitFailure(_ context.Context, f *Failure) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, *f)
	return nil
}

func (e *recordingEmitter) failuresFor(seed string) []Failure {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Failure
	for _, f := range e.failures {
		if f.Subject == seed {
			out = append(out, f)
		}
	}
	return out
}

type executorFunc func(ctx context.Context, run *JobRun) error

func (f executorFunc) Execute(ctx context.Context, run *JobRun) error { return f(ctx, run) }

// walk advances run through the happy path, resuming after its current
// state, up to and including last.
func walk(ctx context.Context, run *JobRun, last JobState) error {
	from := 0
	for i, s := range pipelineOrder {
		if s == run.State() {
			from = i + 1
		}
	}
	for _, s := range pipelineOrder[from:] {
		if err := run.Transition(ctx, s); err != nil {
			return err
		}
		if s == last {
			return nil
		}
	}
	return nil
}

var happy = executorFunc(func(ctx context.Context, run *JobRun) error {
	return walk(ctx, run, StateDone)
})

func makeJobs(t *testing.T, n int) []*Job {
	t.Helper()
	jobs := make([]*Job, n)
	for i := range jobs {
		job, err := NewJob(fmt.Sprintf("seg_%d", i), "/n.gdb/d/n", "/w.gdb")
		require.NoError(t, err)
		jobs[i] = job
	}
	return jobs
}

func TestWorkerPool_Barrier(t *testing.T) {
	defer goleak.VerifyNone(t)

	var running, peak atomic.Int32
	exec := executorFunc(func(ctx context.Context, run *JobRun) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return walk(ctx, run, StateDone)
	})

	em := &recordingEmitter{}
	pool := NewWorkerPool(WorkerPoolConfig{Workers: 3}, exec, em, zaptest.NewLogger(t).Sugar())
	batch := pool.Run(context.Background(), makeJobs(t, 10))

	require.Len(t, batch.Outcomes, 10)
	for _, out := range batch.Outcomes {
		assert.Equal(t, StateDone, out.State, out.Job.Seed)
		assert.NoError(t, out.Err)
		assert.False(t, out.Finished.Before(out.Started))
		select {
		case <-out.Done():
		default:
			t.Fatalf("job %s not signalled after Run returned", out.Job.Seed)
		}
	}
	assert.Len(t, batch.Succeeded(), 10)
	assert.Empty(t, batch.Failed())
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Empty(t, em.failures)
	// isolating .. done for every job
	assert.Len(t, em.states, 10*(len(pipelineOrder)-1))
	assert.Zero(t, pool.ActiveWorkers())
}

func TestWorkerPool_EmptyBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := NewWorkerPool(WorkerPoolConfig{Workers: 4}, happy, nil, nil)
	batch := pool.Run(context.Background(), nil)
	assert.Empty(t, batch.Outcomes)
}

func TestWorkerPool_StartSignalsReadinessPerJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	exec := executorFunc(func(ctx context.Context, run *JobRun) error {
		if run.Job().Seed == "seg_1" {
			<-release
		}
		return walk(ctx, run, StateDone)
	})

	pool := NewWorkerPool(WorkerPoolConfig{Workers: 2}, exec, nil, nil)
	batch := pool.Start(context.Background(), makeJobs(t, 2))

	<-batch.Outcomes[0].Done()
	assert.Equal(t, StateDone, batch.Outcomes[0].State)
	select {
	case <-batch.Outcomes[1].Done():
		t.Fatal("blocked job signalled ready")
	default:
	}

	close(release)
	batch.Wait()
	assert.Equal(t, StateDone, batch.Outcomes[1].State)
}

func TestWorkerPool_FailureRecordedOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	traceErr := errors.NewNotFoundError("no starting points")
	exec := executorFunc(func(ctx context.Context, run *JobRun) error {
		if err := walk(ctx, run, StateTracing); err != nil {
			return err
		}
		if run.Job().Seed != "seg_1" {
			return walk(ctx, run, StateDone)
		}
		// executor records the failure, cleans up, then reports it
		run.Fail(ctx, traceErr)
		if err := run.Transition(ctx, StateCleaningUp); err != nil {
			return err
		}
		return traceErr
	})

	em := &recordingEmitter{}
	pool := NewWorkerPool(WorkerPoolConfig{Workers: 2}, exec, em, nil)
	batch := pool.Run(context.Background(), makeJobs(t, 3))

	require.Len(t, batch.Failed(), 1)
	failed := batch.Failed()[0]
	assert.Equal(t, "seg_1", failed.Job.Seed)
	assert.Equal(t, StateTracing, failed.Stage)
	assert.True(t, errors.IsNotFoundError(failed.Err))

	recs := em.failuresFor("seg_1")
	require.Len(t, recs, 1)
	assert.Equal(t, ScopeJob, recs[0].Scope)
	assert.Equal(t, "tracing", recs[0].Stage)
	assert.Equal(t, ErrorCodeNotFound, recs[0].Code)
	assert.Len(t, em.failures, 1)
	assert.Len(t, batch.Succeeded(), 2)
}

func TestWorkerPool_RefusedSettleIsLogged(t *testing.T) {
	defer goleak.VerifyNone(t)

	// done is terminal, so the pool cannot move the job to failed
	exec := executorFunc(func(ctx context.Context, run *JobRun) error {
		if err := walk(ctx, run, StateDone); err != nil {
			return err
		}
		return errors.New("late error")
	})

	core, logs := observer.New(zap.WarnLevel)
	pool := NewWorkerPool(WorkerPoolConfig{Workers: 1}, exec, nil, zap.New(core).Sugar())
	batch := pool.Run(context.Background(), makeJobs(t, 1))

	assert.Equal(t, StateDone, batch.Outcomes[0].State)
	entries := logs.FilterMessage("Failed to settle job").All()
	require.Len(t, entries, 1)
	assert.Equal(t, string(StateFailed), entries[0].ContextMap()["target"])
}

func TestWorkerPool_PanicIsContained(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec := executorFunc(func(ctx context.Context, run *JobRun) error {
		if run.Job().Seed == "seg_0" {
			_ = run.Transition(ctx, StateIsolating)
			panic("nil network")
		}
		return walk(ctx, run, StateDone)
	})

	em := &recordingEmitter{}
	pool := NewWorkerPool(WorkerPoolConfig{Workers: 1}, exec, em, nil)
	batch := pool.Run(context.Background(), makeJobs(t, 2))

	out := batch.Outcomes[0]
	assert.Equal(t, StateFailed, out.State)
	assert.True(t, errors.Is(out.Err, ErrPanic))
	assert.Contains(t, out.Err.Error(), "nil network")
	assert.Equal(t, StateIsolating, out.Stage)

	recs := em.failuresFor("seg_0")
	require.Len(t, recs, 1)
	assert.Equal(t, ErrorCodePanic, recs[0].Code)
	assert.Equal(t, StateDone, batch.Outcomes[1].State)
}

func TestWorkerPool_UnfinishedExecutor(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec := executorFunc(func(ctx context.Context, run *JobRun) error {
		switch run.Job().Seed {
		case "seg_0":
			return walk(ctx, run, StateJoining) // stops mid-pipeline
		default:
			return walk(ctx, run, StateCleaningUp) // pool completes it
		}
	})

	em := &recordingEmitter{}
	pool := NewWorkerPool(WorkerPoolConfig{Workers: 2}, exec, em, nil)
	batch := pool.Run(context.Background(), makeJobs(t, 2))

	assert.Equal(t, StateFailed, batch.Outcomes[0].State)
	assert.Len(t, em.failuresFor("seg_0"), 1)
	assert.Equal(t, StateDone, batch.Outcomes[1].State)
	assert.Empty(t, em.failuresFor("seg_1"))
}

func TestWorkerPool_CancelBeforeDispatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	var executed atomic.Int32
	exec := executorFunc(func(ctx context.Context, run *JobRun) error {
		executed.Add(1)
		return walk(ctx, run, StateDone)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	em := &recordingEmitter{}
	pool := NewWorkerPool(WorkerPoolConfig{Workers: 2}, exec, em, nil)
	batch := pool.Run(ctx, makeJobs(t, 4))

	assert.Zero(t, executed.Load())
	require.Len(t, batch.Failed(), 4)
	for _, out := range batch.Outcomes {
		assert.True(t, errors.Is(out.Err, context.Canceled))
		recs := em.failuresFor(out.Job.Seed)
		require.Len(t, recs, 1)
		assert.Equal(t, ErrorCodeCanceled, recs[0].Code)
		assert.Equal(t, "pending", recs[0].Stage)
	}
}

func TestWorkerPool_CancelLetsRunningJobsFinish(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	exec := executorFunc(func(_ context.Context, run *JobRun) error {
		if run.Job().Seed == "seg_0" {
			close(started)
			time.Sleep(20 * time.Millisecond)
		}
		return walk(context.Background(), run, StateDone)
	})

	pool := NewWorkerPool(WorkerPoolConfig{Workers: 1}, exec, nil, nil)
	batch := pool.Start(ctx, makeJobs(t, 3))
	<-started
	cancel()
	batch.Wait()

	assert.Equal(t, StateDone, batch.Outcomes[0].State)
	for _, out := range batch.Outcomes {
		assert.True(t, out.State.Terminal())
	}
	assert.Equal(t, StateFailed, batch.Outcomes[2].State)
}

func TestWorkerPool_DispatchPacing(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := NewWorkerPool(WorkerPoolConfig{Workers: 5, DispatchPerSecond: 20}, happy, nil, nil)
	start := time.Now()
	batch := pool.Run(context.Background(), makeJobs(t, 5))

	// burst of one, then one every 50ms
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Len(t, batch.Succeeded(), 5)
}

type fakeProgress struct {
	mu       sync.Mutex
	stages   int
	units    int
	tasks    map[string]string
	finished map[string]bool
}

func (p *fakeProgress) EmitStage(string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages++
}

func (p *fakeProgress) EmitProgress(n int, _ map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.units += n
}

func (p *fakeProgress) EmitComplete(map[string]interface{}) {}
func (p *fakeProgress) EmitError(string, error)             {}
func (p *fakeProgress) EmitInfo(string)                     {}

func (p *fakeProgress) AddTask(id, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks[id] = name
}

func (p *fakeProgress) UpdateTaskStatus(id string, completed bool, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished[id] = completed
}

func TestWorkerPool_Progress(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec := executorFunc(func(ctx context.Context, run *JobRun) error {
		if run.Job().Seed == "seg_2" {
			return errors.New("trace failed")
		}
		return walk(ctx, run, StateDone)
	})
	progress := &fakeProgress{tasks: map[string]string{}, finished: map[string]bool{}}
	pool := NewWorkerPool(WorkerPoolConfig{Workers: 2}, exec, nil, nil).WithProgress(progress)
	jobs := makeJobs(t, 3)
	pool.Run(context.Background(), jobs)

	assert.Equal(t, 1, progress.stages)
	assert.Equal(t, 3, progress.units)
	assert.Len(t, progress.tasks, 3)
	assert.True(t, progress.finished[jobs[0].ID])
	assert.False(t, progress.finished[jobs[2].ID])
}

func TestWorkerPool_LedgerEmitter(t *testing.T) {
	ctx := context.Background()
	store := NewStore(htest.CreateTestDB(t))
	run := &Run{ID: "run1", Workspace: "/w.gdb", Network: "/n.gdb/d/n", Workers: 2, StartedAt: time.Now()}
	require.NoError(t, store.CreateRun(ctx, run))

	jobs := makeJobs(t, 4)
	for _, job := range jobs {
		require.NoError(t, store.CreateJob(ctx, run.ID, job))
	}

	exec := executorFunc(func(ctx context.Context, r *JobRun) error {
		r.SetWorkspace("/scratch/" + r.Job().Seed + ".gdb")
		if r.Job().Seed == "seg_3" {
			_ = r.Transition(ctx, StateIsolating)
			return errors.New("copy failed")
		}
		r.SetResult("/results/trace_" + r.Job().Seed + ".gdb")
		return walk(ctx, r, StateDone)
	})

	pool := NewWorkerPool(WorkerPoolConfig{Workers: 2}, exec, NewLedgerEmitter(store, run.ID), zaptest.NewLogger(t).Sugar())
	pool.Run(ctx, jobs)

	counts, err := store.JobCounts(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, map[JobState]int{StateDone: 3, StateFailed: 1}, counts)

	rec, err := store.GetJob(ctx, jobs[3].ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, "copy failed", rec.Error)
	assert.NotNil(t, rec.StartedAt)
	assert.NotNil(t, rec.FinishedAt)

	rec, err = store.GetJob(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "/results/trace_seg_0.gdb", rec.ResultPath)

	failures, err := store.ListFailures(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "seg_3", failures[0].Subject)
	assert.Equal(t, "isolating", failures[0].Stage)
}

func TestCapacityChecks(t *testing.T) {
	assert.Equal(t, 1, calculateSafeWorkerCount(0.5))
	assert.Equal(t, 1, calculateSafeWorkerCount(1.2))
	assert.Equal(t, 6, calculateSafeWorkerCount(4.0))

	assert.Empty(t, ValidateWorkers(1))
	if w := ValidateWorkers(1 << 20); w != "" {
		assert.Contains(t, w, "exceeds logical CPUs")
	}

	pool := NewWorkerPool(WorkerPoolConfig{Workers: 1}, happy, nil, nil)
	m := pool.GetSystemMetrics()
	assert.Equal(t, 1, m.WorkersTotal)
	assert.Zero(t, m.WorkersActive)
	for _, w := range pool.CheckCapacity(t.TempDir()) {
		assert.NotEmpty(t, w)
	}
}
