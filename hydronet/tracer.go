package hydronet

import (
	"context"

	"github.com/teranos/hydrotrace/errors"
)

// Direction is the traversal direction relative to flow.
type Direction string

const (
	Downstream Direction = "downstream"
	Upstream   Direction = "upstream"
)

// FlowDirection selects how edge flow direction is determined.
type FlowDirection string

// NoDirection follows edges in their digitized direction.
const NoDirection FlowDirection = "no_direction"

// ResultType is an output produced by a trace.
type ResultType string

const (
	ResultNetworkLayers ResultType = "network_layers"
	ResultSelection     ResultType = "selection"
)

// SelectionType controls how a trace combines with existing selections.
type SelectionType string

const NewSelection SelectionType = "new_selection"

// ErrNoStartingPoints is returned when no starting point lies on the network.
var ErrNoStartingPoints = errors.New("no starting points located on the network")

// Options is the trace configuration.
type Options struct {
	Direction                      Direction
	FlowDirection                  FlowDirection
	ExcludeBarriers                bool
	ValidateConsistency            bool
	IgnoreBarriersAtStartingPoints bool
	IgnoreIndeterminateFlow        bool
	ResultTypes                    []ResultType
	SelectionType                  SelectionType
	ClearPreviousResults           bool
	// GroupName names the result group; selections are written as
	// <GroupName>/<edge class>.
	GroupName string
}

// DownstreamOptions is the fixed configuration used for per-seed traces.
func DownstreamOptions(group string) Options {
	return Options{
		Direction:                      Downstream,
		FlowDirection:                  NoDirection,
		ExcludeBarriers:                true,
		ValidateConsistency:            false,
		IgnoreBarriersAtStartingPoints: false,
		IgnoreIndeterminateFlow:        true,
		ResultTypes:                    []ResultType{ResultNetworkLayers, ResultSelection},
		SelectionType:                  NewSelection,
		ClearPreviousResults:           true,
		GroupName:                      group,
	}
}

// HasResultType reports whether t was requested.
func (o Options) HasResultType(t ResultType) bool {
	for _, r := range o.ResultTypes {
		if r == t {
			return true
		}
	}
	return false
}

// Request is one trace invocation.
type Request struct {
	// Network is the <store>/<dataset>/<network> path to trace.
	Network string
	// StartStore and StartClass locate the starting point collection.
	StartStore string
	StartClass string
	// Barriers optionally names a barrier collection in StartStore.
	Barriers string
	Options  Options
}

// Result describes what a trace produced.
type Result struct {
	Group string
	// Layers maps each network edge class to the collection holding its
	// selected features.
	Layers   map[string]string
	Selected int
}

// Selection returns the selection collection for an edge class.
func (r *Result) Selection(edgeClass string) (string, bool) {
	name, ok := r.Layers[edgeClass]
	return name, ok
}

// Tracer runs network traces.
type Tracer interface {
	Trace(ctx context.Context, req Request) (*Result, error)
}

// SelectionName is where a trace writes the selection of edgeClass.
func SelectionName(group, edgeClass string) string {
	return group + "/" + edgeClass
}
