// Package trace runs one downstream trace job: isolate the network, copy the
// seed, trace, join and propagate the seed identifiers onto the result.
package trace

import (
	"github.com/teranos/hydrotrace/am"
)

// GroupSuffix is appended to the seed name to form its trace result group.
const GroupSuffix = "_TraceGroup"

// Options is the immutable executor configuration.
type Options struct {
	Network   string // shared network path <store>/<dataset>/<network>
	Workspace string // shared workspace store

	SeedWildcard    string
	IdentifierField string // wildcard over seed fields
	JoinKey         string // flowline key matched against the identifier
	EdgeClass       string
	OutputPrefix    string
	StorePrefix     string

	ScratchRoot string
	ResultsRoot string
}

// OptionsFromConfig derives executor options from a validated config.
func OptionsFromConfig(cfg *am.Config) Options {
	return Options{
		Network:         cfg.Network.Path,
		Workspace:       cfg.Workspace.Path,
		SeedWildcard:    cfg.Trace.SeedWildcard,
		IdentifierField: cfg.Trace.IdentifierField,
		JoinKey:         cfg.Trace.JoinKey,
		EdgeClass:       cfg.Trace.EdgeClass,
		OutputPrefix:    cfg.Trace.OutputPrefix,
		StorePrefix:     cfg.Trace.StorePrefix,
		ScratchRoot:     cfg.ScratchRoot(),
		ResultsRoot:     cfg.ResultsRoot(),
	}
}

// GroupName is the trace result group of a seed.
func (o Options) GroupName(seed string) string { return seed + GroupSuffix }

// OutputName is the collection a seed's trace is written to.
func (o Options) OutputName(seed string) string { return o.OutputPrefix + seed }

// ResultStoreName is the per-job result store name for id, without extension.
func (o Options) ResultStoreName(id string) string { return o.StorePrefix + id }

// OutputWildcard matches the output collection inside a result store.
func (o Options) OutputWildcard() string { return o.OutputPrefix + "*" }

// ResultStoreWildcard matches result store directory names.
func (o Options) ResultStoreWildcard() string { return o.StorePrefix + "*.gdb" }
