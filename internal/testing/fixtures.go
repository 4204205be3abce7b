package testing

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/teranos/hydrotrace/gdb"
)

// Fixture layout names.
const (
	NetworkStoreName = "NHDPlus"
	NetworkDataset   = "Hydrography"
	NetworkName      = "HydroNet_Trace"
	WorkspaceName    = "BCM"
	AOIName          = "HUC_0204"
)

// Flowline is one edge of the fixture network.
type Flowline struct {
	ID       int64
	FromNode int64
	ToNode   int64
}

// DefaultFlowlines is a small dendritic network:
//
//	1 -> 2 -> 3 -> 4 -> 5
//	     10 -> 3
//	20 -> 21 (disconnected)
var DefaultFlowlines = []Flowline{
	{ID: 1, FromNode: 100, ToNode: 101},
	{ID: 2, FromNode: 101, ToNode: 102},
	{ID: 3, FromNode: 102, ToNode: 103},
	{ID: 4, FromNode: 103, ToNode: 104},
	{ID: 5, FromNode: 104, ToNode: 105},
	{ID: 10, FromNode: 200, ToNode: 102},
	{ID: 20, FromNode: 300, ToNode: 301},
	{ID: 21, FromNode: 301, ToNode: 302},
}

// Seed is one seed collection of the fixture workspace. Each start becomes
// one row whose identifier field holds a flowline ID.
type Seed struct {
	Name   string
	Starts []int64
}

// DefaultSeeds trace 1 -> {1..5}, 10 -> {10,3,4,5} and 20 -> {20,21}.
var DefaultSeeds = []Seed{
	{Name: "seg_0", Starts: []int64{1}},
	{Name: "seg_1", Starts: []int64{10}},
	{Name: "seg_2", Starts: []int64{20}},
}

// BuildNetwork creates <dir>/NHDPlus.gdb with an NHDFlowline collection and
// returns the network path <store>/Hydrography/HydroNet_Trace.
func BuildNetwork(t *testing.T, dir string, lines []Flowline) string {
	t.Helper()
	ctx := context.Background()

	s, err := gdb.CreateIn(dir, NetworkStoreName, nil)
	if err != nil {
		t.Fatalf("Failed to create network store: %v", err)
	}
	defer s.Close()

	err = s.CreateFeatureClass(ctx, "NHDFlowline", gdb.GeometryLine, []gdb.Field{
		{Name: "NHDPlusID", Type: gdb.FieldInteger},
		{Name: "FromNode", Type: gdb.FieldInteger},
		{Name: "ToNode", Type: gdb.FieldInteger},
		{Name: "GNIS_Name", Type: gdb.FieldText},
	})
	if err != nil {
		t.Fatalf("Failed to create NHDFlowline: %v", err)
	}

	rows := make([]gdb.Feature, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, gdb.Feature{
			Shape: "LINESTRING",
			Attributes: map[string]any{
				"NHDPlusID": l.ID,
				"FromNode":  l.FromNode,
				"ToNode":    l.ToNode,
				"GNIS_Name": "Creek",
			},
		})
	}
	if err := s.Insert(ctx, "NHDFlowline", rows); err != nil {
		t.Fatalf("Failed to insert flowlines: %v", err)
	}
	return filepath.Join(s.Path(), NetworkDataset, NetworkName)
}

// BuildWorkspace creates <dir>/BCM.gdb holding one line collection per seed
// plus a polygon AOI boundary, and returns the store path.
func BuildWorkspace(t *testing.T, dir string, seeds []Seed) string {
	t.Helper()
	ctx := context.Background()

	s, err := gdb.CreateIn(dir, WorkspaceName, nil)
	if err != nil {
		t.Fatalf("Failed to create workspace store: %v", err)
	}
	defer s.Close()

	if err := s.CreateFeatureClass(ctx, AOIName, gdb.GeometryPolygon, []gdb.Field{
		{Name: "HUC4", Type: gdb.FieldText},
	}); err != nil {
		t.Fatalf("Failed to create AOI: %v", err)
	}

	for _, seed := range seeds {
		if err := s.CreateFeatureClass(ctx, seed.Name, gdb.GeometryLine, []gdb.Field{
			{Name: "Starting_NHDPlusID", Type: gdb.FieldInteger},
			{Name: "Segment", Type: gdb.FieldText},
		}); err != nil {
			t.Fatalf("Failed to create seed %s: %v", seed.Name, err)
		}
		rows := make([]gdb.Feature, 0, len(seed.Starts))
		for _, id := range seed.Starts {
			rows = append(rows, gdb.Feature{
				Shape:      "LINESTRING",
				Attributes: map[string]any{"Starting_NHDPlusID": id, "Segment": seed.Name},
			})
		}
		if err := s.Insert(ctx, seed.Name, rows); err != nil {
			t.Fatalf("Failed to insert seed %s: %v", seed.Name, err)
		}
	}
	return s.Path()
}
