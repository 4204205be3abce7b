package hydronet

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"

	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/gdb"
)

// GraphConfig names the network schema the graph tracer reads.
type GraphConfig struct {
	EdgeClass     string // edge collection inside the network store
	EdgeKey       string // unique edge identifier
	StartKey      string // field on starting points holding an EdgeKey value
	FromNodeField string
	ToNodeField   string
}

// DefaultGraphConfig matches the NHDPlus HR flowline schema.
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		EdgeClass:     "NHDFlowline",
		EdgeKey:       "NHDPlusID",
		StartKey:      "Starting_NHDPlusID",
		FromNodeField: "FromNode",
		ToNodeField:   "ToNode",
	}
}

// GraphTracer traces over the edge collection of a network store. Edge a
// flows into edge b when a's to-node is b's from-node. Starting points are
// matched to edges by key. Barriers are not modelled.
type GraphTracer struct {
	cfg GraphConfig
	log *zap.SugaredLogger
}

// NewGraphTracer creates a tracer for networks with the given schema.
func NewGraphTracer(cfg GraphConfig, logger *zap.SugaredLogger) *GraphTracer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &GraphTracer{cfg: cfg, log: logger.Named("hydronet")}
}

// Trace walks the network from the starting points and writes the reached
// edges as the selection <group>/<edge class> in the network store.
func (t *GraphTracer) Trace(ctx context.Context, req Request) (*Result, error) {
	if err := t.validate(req); err != nil {
		return nil, err
	}
	ref, err := ParseNetworkPath(req.Network)
	if err != nil {
		return nil, err
	}

	keys, err := t.startKeys(ctx, req)
	if err != nil {
		return nil, err
	}

	net, err := gdb.Open(ref.Store, gdb.OpenOptions{}, t.log)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open network %s", req.Network)
	}
	defer net.Close()

	edges, err := net.Search(ctx, t.cfg.EdgeClass, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read edges of %s", req.Network)
	}

	g, byKey := t.buildGraph(edges, req.Options.Direction)

	var starts []graph.Node
	for _, k := range keys {
		if id, ok := byKey[k]; ok {
			starts = append(starts, g.Node(id))
		}
	}
	if len(starts) == 0 {
		return nil, errors.WithDetailf(
			errors.Wrapf(ErrNoStartingPoints, "trace of %s from %q", ref.Name, req.StartClass),
			"%d starting point keys, none matched %s.%s", len(keys), t.cfg.EdgeClass, t.cfg.EdgeKey)
	}

	reached := make(map[int64]bool)
	bfs := traverse.BreadthFirst{}
	for _, s := range starts {
		bfs.Walk(g, s, func(n graph.Node, _ int) bool {
			reached[n.ID()] = true
			return false
		})
	}

	if req.Options.ClearPreviousResults {
		if err := clearResults(ctx, net); err != nil {
			return nil, err
		}
	}

	res := &Result{Group: req.Options.GroupName, Layers: map[string]string{}, Selected: len(reached)}
	if req.Options.HasResultType(ResultSelection) {
		selected := make([]gdb.Feature, 0, len(reached))
		for i, e := range edges {
			if reached[int64(i)] {
				selected = append(selected, gdb.Feature{Shape: e.Shape, Attributes: e.Attributes})
			}
		}
		name := SelectionName(req.Options.GroupName, t.cfg.EdgeClass)
		if err := writeSelection(ctx, net, t.cfg.EdgeClass, name, selected); err != nil {
			return nil, err
		}
		res.Layers[t.cfg.EdgeClass] = name
	}

	t.log.Debugw("Trace complete",
		"network", req.Network,
		"group", req.Options.GroupName,
		"starts", len(starts),
		"selected", len(reached),
	)
	return res, nil
}

func (t *GraphTracer) validate(req Request) error {
	o := req.Options
	switch {
	case o.Direction != Downstream && o.Direction != Upstream:
		return errors.NewInvalidRequestError("unsupported trace direction %q", o.Direction)
	case o.FlowDirection != NoDirection:
		return errors.NewInvalidRequestError("unsupported flow direction %q", o.FlowDirection)
	case o.SelectionType != "" && o.SelectionType != NewSelection:
		return errors.NewInvalidRequestError("unsupported selection type %q", o.SelectionType)
	case strings.TrimSpace(o.GroupName) == "":
		return errors.NewInvalidRequestError("trace result group name is required")
	case req.Barriers != "":
		return errors.NewInvalidRequestError("barrier collections are not supported by the graph tracer")
	case req.StartStore == "" || req.StartClass == "":
		return errors.NewInvalidRequestError("starting points are required")
	}
	return nil
}

// startKeys reads the edge keys of the starting points.
func (t *GraphTracer) startKeys(ctx context.Context, req Request) ([]string, error) {
	starts, err := gdb.Open(req.StartStore, gdb.OpenOptions{ReadOnly: true}, t.log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open starting points")
	}
	defer starts.Close()

	rows, err := starts.Search(ctx, req.StartClass, []string{t.cfg.StartKey})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read starting points %q", req.StartClass)
	}
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		if k, ok := gdb.KeyString(r.Attributes[t.cfg.StartKey]); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// buildGraph creates one node per edge feature, identified by its index in
// edges, and links edges that share a node. Upstream traces link in reverse.
func (t *GraphTracer) buildGraph(edges []gdb.Feature, dir Direction) (*simple.DirectedGraph, map[string]int64) {
	g := simple.NewDirectedGraph()
	byKey := make(map[string]int64, len(edges))
	byFrom := make(map[string][]int64)

	for i, e := range edges {
		id := int64(i)
		g.AddNode(simple.Node(id))
		if k, ok := gdb.KeyString(e.Attributes[t.cfg.EdgeKey]); ok {
			byKey[k] = id
		}
		if from, ok := gdb.KeyString(e.Attributes[t.cfg.FromNodeField]); ok {
			byFrom[from] = append(byFrom[from], id)
		}
	}

	for i, e := range edges {
		to, ok := gdb.KeyString(e.Attributes[t.cfg.ToNodeField])
		if !ok {
			continue
		}
		for _, next := range byFrom[to] {
			if next == int64(i) {
				continue
			}
			u, v := simple.Node(int64(i)), simple.Node(next)
			if dir == Upstream {
				u, v = v, u
			}
			if !g.HasEdgeFromTo(u.ID(), v.ID()) {
				g.SetEdge(g.NewEdge(u, v))
			}
		}
	}
	return g, byKey
}

func clearResults(ctx context.Context, net *gdb.Store) error {
	previous, err := net.ListFeatureClasses(ctx, "*_TraceGroup/*", gdb.GeometryAny)
	if err != nil {
		return errors.Wrap(err, "failed to list previous trace results")
	}
	for _, name := range previous {
		if err := net.DeleteFeatureClass(ctx, name); err != nil {
			return errors.Wrapf(err, "failed to clear previous trace result %q", name)
		}
	}
	return nil
}

func writeSelection(ctx context.Context, net *gdb.Store, edgeClass, name string, selected []gdb.Feature) error {
	fc, err := net.Describe(ctx, edgeClass)
	if err != nil {
		return err
	}
	if err := net.CreateFeatureClass(ctx, name, fc.GeometryType, fc.Fields); err != nil {
		return errors.Wrapf(err, "failed to create selection %q", name)
	}
	if err := net.Insert(ctx, name, selected); err != nil {
		return errors.Wrapf(err, "failed to write selection %q", name)
	}
	return nil
}
