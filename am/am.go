// Package am holds the hydrotrace run configuration ("I am").
//
// Configuration is an explicit immutable value: it is loaded once, validated,
// and then passed into the pipeline, the worker pool and every job.
package am

import (
	"path/filepath"
	"strings"
)

// Config represents the hydrotrace configuration
type Config struct {
	Workspace WorkspaceConfig `mapstructure:"workspace" toml:"workspace"`
	Network   NetworkConfig   `mapstructure:"network" toml:"network"`
	Pulse     PulseConfig     `mapstructure:"pulse" toml:"pulse"`
	Trace     TraceConfig     `mapstructure:"trace" toml:"trace"`
	Aggregate AggregateConfig `mapstructure:"aggregate" toml:"aggregate"`
	Output    OutputConfig    `mapstructure:"output" toml:"output"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
}

// WorkspaceConfig points at the shared workspace holding the seed collections
type WorkspaceConfig struct {
	Path string `mapstructure:"path" toml:"path"` // Shared workspace store (e.g. /data/BCM.gdb)
	AOI  string `mapstructure:"aoi" toml:"aoi"`   // Area-of-interest boundary collection (bounds only)
}

// NetworkConfig points at the hydrologic network used by the tracer.
// Path has the form <network store>/<dataset>/<network>; the resource that gets
// copied per job is the store two levels up.
type NetworkConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// PulseConfig configures the worker pool
type PulseConfig struct {
	Workers           int     `mapstructure:"workers" toml:"workers"`                         // Number of parallel workers
	DispatchPerSecond float64 `mapstructure:"dispatch_per_second" toml:"dispatch_per_second"` // Dispatch pacing (0 = unlimited)
	ScratchDir        string  `mapstructure:"scratch_dir" toml:"scratch_dir"`                 // Isolated workspaces (default: <workspace dir>/temp_dir)
	ResultsDir        string  `mapstructure:"results_dir" toml:"results_dir"`                 // Per-job result stores (default: <workspace dir>/trace_outputs)
}

// TraceConfig names the collections and fields the trace executor works with
type TraceConfig struct {
	SeedWildcard    string `mapstructure:"seed_wildcard" toml:"seed_wildcard"`       // Seed collections ("already split" segments)
	IdentifierField string `mapstructure:"identifier_field" toml:"identifier_field"` // Seed identifier field wildcard, propagated downstream
	JoinKey         string `mapstructure:"join_key" toml:"join_key"`                 // Key on the traced flowlines matched against the identifier
	EdgeClass       string `mapstructure:"edge_class" toml:"edge_class"`             // Line class inside the trace result group
	OutputPrefix    string `mapstructure:"output_prefix" toml:"output_prefix"`       // Temporary output collection prefix
	StorePrefix     string `mapstructure:"store_prefix" toml:"store_prefix"`         // Per-job result store prefix
}

// AggregateConfig configures the merge into the consolidated store
type AggregateConfig struct {
	Target          string `mapstructure:"target" toml:"target"`                     // Consolidated store (default: the workspace)
	CooldownSeconds int    `mapstructure:"cooldown_seconds" toml:"cooldown_seconds"` // Extra delay after all jobs signalled ready
	MaxRetries      int    `mapstructure:"max_retries" toml:"max_retries"`           // Retries for busy stores
}

// OutputConfig carries output settings that the core never applies
type OutputConfig struct {
	SpatialReference int `mapstructure:"spatial_reference" toml:"spatial_reference"` // EPSG code, e.g. 32618 (UTM 18N)
}

// LogConfig configures the dual-sink run log
type LogConfig struct {
	Dir       string `mapstructure:"dir" toml:"dir"` // Directory for the run log (default: current directory)
	JSON      bool   `mapstructure:"json" toml:"json"`
	Verbosity int    `mapstructure:"verbosity" toml:"verbosity"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644

	ScratchDirName = "temp_dir"
	ResultsDirName = "trace_outputs"
	LedgerFileName = "hydrotrace_ledger.db"
)

// workspaceParent returns the directory containing the workspace store
func (c *Config) workspaceParent() string {
	return filepath.Dir(strings.TrimRight(c.Workspace.Path, `/\`))
}

// ScratchRoot returns the directory holding isolated workspaces
func (c *Config) ScratchRoot() string {
	if c.Pulse.ScratchDir != "" {
		return c.Pulse.ScratchDir
	}
	return filepath.Join(c.workspaceParent(), ScratchDirName)
}

// ResultsRoot returns the directory holding per-job result stores
func (c *Config) ResultsRoot() string {
	if c.Pulse.ResultsDir != "" {
		return c.Pulse.ResultsDir
	}
	return filepath.Join(c.workspaceParent(), ResultsDirName)
}

// AggregateTarget returns the consolidated store path
func (c *Config) AggregateTarget() string {
	if c.Aggregate.Target != "" {
		return c.Aggregate.Target
	}
	return c.Workspace.Path
}

// LedgerPath returns the run ledger database path (inside the results root)
func (c *Config) LedgerPath() string {
	return filepath.Join(c.ResultsRoot(), LedgerFileName)
}

// LogDir returns the directory for run logs
func (c *Config) LogDir() string {
	if c.Log.Dir != "" {
		return c.Log.Dir
	}
	return "."
}
