package trace

import (
	"context"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/hydrotrace/am"
	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/gdb"
	"github.com/teranos/hydrotrace/hydronet"
	htest "github.com/teranos/hydrotrace/internal/testing"
	"github.com/teranos/hydrotrace/isolate"
	"github.com/teranos/hydrotrace/pulse/async"
)

func setup(t *testing.T, seeds []htest.Seed) Options {
	t.Helper()
	dir := t.TempDir()

	cfg := am.Default()
	cfg.Network.Path = htest.BuildNetwork(t, dir, htest.DefaultFlowlines)
	cfg.Workspace.Path = htest.BuildWorkspace(t, dir, seeds)
	cfg.Trace.SeedWildcard = "seg_*"
	require.NoError(t, cfg.Validate())

	opts := OptionsFromConfig(cfg)
	require.NoError(t, os.MkdirAll(opts.ScratchRoot, am.DefaultDirPermissions))
	require.NoError(t, os.MkdirAll(opts.ResultsRoot, am.DefaultDirPermissions))
	return opts
}

func runJobs(t *testing.T, opts Options, tracer hydronet.Tracer) *async.Batch {
	t.Helper()
	ctx := context.Background()
	log := zaptest.NewLogger(t).Sugar()

	ws, err := gdb.Open(opts.Workspace, gdb.OpenOptions{ReadOnly: true}, log)
	require.NoError(t, err)
	jobs, err := Enumerate(ctx, ws, opts)
	require.NoError(t, err)
	require.NoError(t, ws.Close())

	if tracer == nil {
		tracer = hydronet.NewGraphTracer(hydronet.DefaultGraphConfig(), log)
	}
	exec := NewExecutor(opts, isolate.New(opts.ScratchRoot, log), tracer, log)
	pool := async.NewWorkerPool(async.WorkerPoolConfig{Workers: 2}, exec, nil, log)
	return pool.Run(ctx, jobs)
}

// traced maps each output row's NHDPlusID to its Starting_NHDPlusID.
func traced(t *testing.T, resultStore, output string) map[int64]any {
	t.Helper()
	s, err := gdb.Open(resultStore, gdb.OpenOptions{ReadOnly: true}, nil)
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.Search(context.Background(), output, []string{"NHDPlusID", "Starting_NHDPlusID"})
	require.NoError(t, err)
	out := make(map[int64]any, len(rows))
	for _, r := range rows {
		out[r.Attributes["NHDPlusID"].(int64)] = r.Attributes["Starting_NHDPlusID"]
	}
	return out
}

func bySeed(b *async.Batch) map[string]*async.Outcome {
	m := make(map[string]*async.Outcome, len(b.Outcomes))
	for _, o := range b.Outcomes {
		m[o.Job.Seed] = o
	}
	return m
}

func TestEnumerate(t *testing.T) {
	ctx := context.Background()
	opts := setup(t, []htest.Seed{
		{Name: "seg_2", Starts: []int64{20}},
		{Name: "seg_0", Starts: []int64{1}},
		{Name: "seg_1", Starts: []int64{10}},
	})
	ws, err := gdb.Open(opts.Workspace, gdb.OpenOptions{ReadOnly: true}, nil)
	require.NoError(t, err)
	defer ws.Close()

	jobs, err := Enumerate(ctx, ws, opts)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "seg_0", jobs[0].Seed)
	assert.Equal(t, "seg_2", jobs[2].Seed)
	for _, j := range jobs {
		assert.Equal(t, opts.Network, j.Network)
		assert.Equal(t, opts.Workspace, j.Workspace)
	}
	assert.NotEqual(t, jobs[0].ID, jobs[1].ID)

	// default wildcard picks the first split segment only
	opts.SeedWildcard = am.DefaultSeedWildcard
	jobs, err = Enumerate(ctx, ws, opts)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "seg_0", jobs[0].Seed)

	// the polygon AOI is never a seed
	opts.SeedWildcard = "*"
	seeds, err := Seeds(ctx, ws, opts)
	require.NoError(t, err)
	assert.NotContains(t, seeds, htest.AOIName)

	opts.SeedWildcard = "none_*"
	jobs, err = Enumerate(ctx, ws, opts)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	opts.SeedWildcard = "["
	_, err = Enumerate(ctx, ws, opts)
	assert.Error(t, err)
}

func TestFlatten_LastRowWins(t *testing.T) {
	rows := []gdb.Feature{
		{Attributes: map[string]any{"Starting_NHDPlusID": int64(1), "Alt_ID": "a"}},
		{Attributes: map[string]any{"Starting_NHDPlusID": int64(2), "Alt_ID": nil}},
		{Attributes: map[string]any{"Starting_NHDPlusID": int64(3)}},
	}
	m := Flatten(rows, []string{"Starting_NHDPlusID", "Alt_ID"})
	assert.Equal(t, map[string]any{"Starting_NHDPlusID": int64(3), "Alt_ID": nil}, m)

	assert.Empty(t, Flatten(nil, []string{"Starting_NHDPlusID"}))
}

func TestExecutor_TracesDownstream(t *testing.T) {
	opts := setup(t, htest.DefaultSeeds)
	batch := runJobs(t, opts, nil)

	require.Len(t, batch.Succeeded(), 3)
	outcomes := bySeed(batch)

	want := map[string]map[int64]any{
		"seg_0": {1: int64(1), 2: int64(1), 3: int64(1), 4: int64(1), 5: int64(1)},
		"seg_1": {10: int64(10), 3: int64(10), 4: int64(10), 5: int64(10)},
		"seg_2": {20: int64(20), 21: int64(20)},
	}
	for seed, rows := range want {
		out := outcomes[seed]
		require.NotEmpty(t, out.Result, seed)
		assert.Equal(t, rows, traced(t, out.Result, opts.OutputName(seed)), seed)
	}

	// result stores are distinct
	stores := map[string]bool{}
	for _, o := range batch.Outcomes {
		stores[o.Result] = true
	}
	assert.Len(t, stores, 3)

	// every isolated workspace is gone
	entries, err := os.ReadDir(opts.ScratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecutor_PropagatesLastSeedRow(t *testing.T) {
	opts := setup(t, []htest.Seed{{Name: "seg_m", Starts: []int64{1, 20}}})
	batch := runJobs(t, opts, nil)
	require.Len(t, batch.Succeeded(), 1)

	rows := traced(t, batch.Outcomes[0].Result, opts.OutputName("seg_m"))
	ids := make([]int64, 0, len(rows))
	for id, start := range rows {
		ids = append(ids, id)
		assert.Equal(t, int64(20), start, "row %d", id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 20, 21}, ids)
}

func TestExecutor_TraceFailureIsContained(t *testing.T) {
	opts := setup(t, []htest.Seed{
		{Name: "seg_0", Starts: []int64{1}},
		{Name: "seg_9", Starts: []int64{999}},
	})
	batch := runJobs(t, opts, nil)

	outcomes := bySeed(batch)
	assert.Equal(t, async.StateDone, outcomes["seg_0"].State)

	bad := outcomes["seg_9"]
	assert.Equal(t, async.StateFailed, bad.State)
	assert.Equal(t, async.StateTracing, bad.Stage)
	assert.True(t, errors.Is(bad.Err, hydronet.ErrNoStartingPoints))

	entries, err := os.ReadDir(opts.ScratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// lostSelection reports a selection that was never written.
type lostSelection struct{}

func (lostSelection) Trace(_ context.Context, req hydronet.Request) (*hydronet.Result, error) {
	return &hydronet.Result{
		Group:  req.Options.GroupName,
		Layers: map[string]string{"NHDFlowline": hydronet.SelectionName(req.Options.GroupName, "NHDFlowline")},
	}, nil
}

func TestExecutor_CopyFailureFailsAtJoin(t *testing.T) {
	opts := setup(t, []htest.Seed{{Name: "seg_0", Starts: []int64{1}}})
	batch := runJobs(t, opts, lostSelection{})

	out := batch.Outcomes[0]
	assert.Equal(t, async.StateFailed, out.State)
	assert.Equal(t, async.StateJoining, out.Stage)
	assert.True(t, errors.IsNotFoundError(out.Err))
}

type panickingTracer struct{}

func (panickingTracer) Trace(context.Context, hydronet.Request) (*hydronet.Result, error) {
	panic("trace service crashed")
}

func TestExecutor_PanicStillCleansWorkspace(t *testing.T) {
	opts := setup(t, htest.DefaultSeeds[:1])
	batch := runJobs(t, opts, panickingTracer{})

	out := batch.Outcomes[0]
	assert.Equal(t, async.StateFailed, out.State)
	assert.True(t, errors.Is(out.Err, async.ErrPanic))

	entries, err := os.ReadDir(opts.ScratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "isolated workspace left behind")
}

func TestExecutor_MissingNetwork(t *testing.T) {
	opts := setup(t, htest.DefaultSeeds[:1])
	opts.Network = "/nowhere/NHDPlus.gdb/Hydrography/HydroNet_Trace"
	batch := runJobs(t, opts, nil)

	out := batch.Outcomes[0]
	assert.Equal(t, async.StateFailed, out.State)
	assert.Equal(t, async.StateIsolating, out.Stage)
	assert.Empty(t, out.Result)
}

func TestExecutor_NoIdentifierField(t *testing.T) {
	opts := setup(t, htest.DefaultSeeds[:1])
	opts.IdentifierField = "Upstream_*"
	batch := runJobs(t, opts, nil)

	out := batch.Outcomes[0]
	assert.Equal(t, async.StateFailed, out.State)
	assert.Equal(t, async.StateJoining, out.Stage)
	assert.NotEmpty(t, errors.GetAllHints(out.Err))
}

func TestOptionsNaming(t *testing.T) {
	opts := OptionsFromConfig(am.Default())
	assert.Equal(t, "seg_0_TraceGroup", opts.GroupName("seg_0"))
	assert.Equal(t, "tempTrace_seg_0", opts.OutputName("seg_0"))
	assert.Equal(t, "trace_abc", opts.ResultStoreName("abc"))
	assert.Equal(t, "tempTrace_*", opts.OutputWildcard())
	assert.True(t, gdb.MatchWildcard(opts.ResultStoreWildcard(), "trace_abc.gdb"))
}
