package hydronet

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/gdb"
)

// Flowlines 1 -> 2 -> 3 -> 4 with 5 joining at 3, and 6 isolated.
func buildNetwork(t *testing.T, dir string) string {
	t.Helper()
	ctx := context.Background()
	s, err := gdb.CreateIn(dir, "NHDPlus", nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateFeatureClass(ctx, "NHDFlowline", gdb.GeometryLine, []gdb.Field{
		{Name: "NHDPlusID", Type: gdb.FieldInteger},
		{Name: "FromNode", Type: gdb.FieldInteger},
		{Name: "ToNode", Type: gdb.FieldInteger},
	}))
	edge := func(id, from, to int64) gdb.Feature {
		return gdb.Feature{Attributes: map[string]any{"NHDPlusID": id, "FromNode": from, "ToNode": to}}
	}
	require.NoError(t, s.Insert(ctx, "NHDFlowline", []gdb.Feature{
		edge(1, 100, 101),
		edge(2, 101, 102),
		edge(3, 102, 103),
		edge(4, 103, 104),
		edge(5, 200, 102),
		edge(6, 300, 301),
	}))
	return filepath.Join(s.Path(), "Hydrography", "HydroNet_Trace")
}

func buildSeeds(t *testing.T, dir, class string, starts ...int64) string {
	t.Helper()
	ctx := context.Background()
	s, err := gdb.CreateIn(dir, "trace_x", nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateFeatureClass(ctx, class, gdb.GeometryLine, []gdb.Field{
		{Name: "Starting_NHDPlusID", Type: gdb.FieldInteger},
	}))
	var rows []gdb.Feature
	for _, id := range starts {
		rows = append(rows, gdb.Feature{Attributes: map[string]any{"Starting_NHDPlusID": id}})
	}
	require.NoError(t, s.Insert(ctx, class, rows))
	return s.Path()
}

func selectedIDs(t *testing.T, network, collection string) []int64 {
	t.Helper()
	ref, err := ParseNetworkPath(network)
	require.NoError(t, err)
	s, err := gdb.Open(ref.Store, gdb.OpenOptions{ReadOnly: true}, nil)
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.Search(context.Background(), collection, []string{"NHDPlusID"})
	require.NoError(t, err)
	var ids []int64
	for _, r := range rows {
		ids = append(ids, r.Attributes["NHDPlusID"].(int64))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestParseNetworkPath(t *testing.T) {
	ref, err := ParseNetworkPath("/data/NHDPlus_H_0204.gdb/Hydrography/HydroNet_Trace")
	require.NoError(t, err)
	assert.Equal(t, "/data/NHDPlus_H_0204.gdb", ref.Store)
	assert.Equal(t, "Hydrography", ref.Dataset)
	assert.Equal(t, "HydroNet_Trace", ref.Name)
	assert.Equal(t, "NHDPlus_H_0204", ref.StoreBase())

	moved := ref.Relocate("/scratch/NHDPlus_H_0204_abc.gdb")
	assert.Equal(t, filepath.Join("/scratch/NHDPlus_H_0204_abc.gdb", "Hydrography", "HydroNet_Trace"), moved.Path())

	_, err = ParseNetworkPath("/data/plain/Hydrography/HydroNet_Trace")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestGraphTracer_Downstream(t *testing.T) {
	dir := t.TempDir()
	network := buildNetwork(t, dir)
	seeds := buildSeeds(t, dir, "seg_0", 2)

	tracer := NewGraphTracer(DefaultGraphConfig(), zaptest.NewLogger(t).Sugar())
	res, err := tracer.Trace(context.Background(), Request{
		Network:    network,
		StartStore: seeds,
		StartClass: "seg_0",
		Options:    DownstreamOptions("seg_0_TraceGroup"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Selected)

	sel, ok := res.Selection("NHDFlowline")
	require.True(t, ok)
	assert.Equal(t, "seg_0_TraceGroup/NHDFlowline", sel)
	assert.Equal(t, []int64{2, 3, 4}, selectedIDs(t, network, sel))
}

func TestGraphTracer_Upstream(t *testing.T) {
	dir := t.TempDir()
	network := buildNetwork(t, dir)
	seeds := buildSeeds(t, dir, "seg_0", 3)

	opts := DownstreamOptions("seg_0_TraceGroup")
	opts.Direction = Upstream
	res, err := NewGraphTracer(DefaultGraphConfig(), nil).Trace(context.Background(), Request{
		Network: network, StartStore: seeds, StartClass: "seg_0", Options: opts,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 5}, selectedIDs(t, network, res.Layers["NHDFlowline"]))
}

func TestGraphTracer_MultipleStartsClearPrevious(t *testing.T) {
	dir := t.TempDir()
	network := buildNetwork(t, dir)
	seeds := buildSeeds(t, dir, "seg_0", 5, 6)
	tracer := NewGraphTracer(DefaultGraphConfig(), nil)
	ctx := context.Background()

	_, err := tracer.Trace(ctx, Request{Network: network, StartStore: seeds, StartClass: "seg_0", Options: DownstreamOptions("old_TraceGroup")})
	require.NoError(t, err)

	res, err := tracer.Trace(ctx, Request{Network: network, StartStore: seeds, StartClass: "seg_0", Options: DownstreamOptions("seg_0_TraceGroup")})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5, 6}, selectedIDs(t, network, res.Layers["NHDFlowline"]))

	ref, _ := ParseNetworkPath(network)
	s, err := gdb.Open(ref.Store, gdb.OpenOptions{ReadOnly: true}, nil)
	require.NoError(t, err)
	defer s.Close()
	groups, err := s.ListFeatureClasses(ctx, "*_TraceGroup/*", gdb.GeometryAny)
	require.NoError(t, err)
	assert.Equal(t, []string{"seg_0_TraceGroup/NHDFlowline"}, groups)
}

func TestGraphTracer_NoStartingPoints(t *testing.T) {
	dir := t.TempDir()
	network := buildNetwork(t, dir)
	seeds := buildSeeds(t, dir, "seg_9", 999)

	_, err := NewGraphTracer(DefaultGraphConfig(), nil).Trace(context.Background(), Request{
		Network: network, StartStore: seeds, StartClass: "seg_9", Options: DownstreamOptions("seg_9_TraceGroup"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoStartingPoints))
}

func TestGraphTracer_RejectsUnsupportedOptions(t *testing.T) {
	tracer := NewGraphTracer(DefaultGraphConfig(), nil)
	base := Request{Network: "/x/n.gdb/Hydrography/HydroNet_Trace", StartStore: "/x/s.gdb", StartClass: "seg_0", Options: DownstreamOptions("g")}

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"direction", func(r *Request) { r.Options.Direction = "sideways" }},
		{"flow direction", func(r *Request) { r.Options.FlowDirection = "against_digitized" }},
		{"selection type", func(r *Request) { r.Options.SelectionType = "add_to_selection" }},
		{"group name", func(r *Request) { r.Options.GroupName = "" }},
		{"barriers", func(r *Request) { r.Barriers = "dams" }},
		{"starts", func(r *Request) { r.StartClass = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := tracer.Trace(context.Background(), req)
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
		})
	}
}

func TestGraphTracer_MissingNetwork(t *testing.T) {
	dir := t.TempDir()
	seeds := buildSeeds(t, dir, "seg_0", 1)
	_, err := NewGraphTracer(DefaultGraphConfig(), nil).Trace(context.Background(), Request{
		Network:    filepath.Join(dir, "absent.gdb", "Hydrography", "HydroNet_Trace"),
		StartStore: seeds, StartClass: "seg_0", Options: DownstreamOptions("g"),
	})
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}
