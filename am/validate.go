package am

import (
	"path/filepath"

	"github.com/teranos/hydrotrace/errors"
)

// Validate checks that the configuration is usable for a run
func (c *Config) Validate() error {
	if c.Workspace.Path == "" {
		return errors.WithHint(
			errors.NewInvalidRequestError("workspace.path is required"),
			"set workspace.path in hydrotrace.toml or pass --workspace")
	}
	if c.Network.Path == "" {
		return errors.WithHint(
			errors.NewInvalidRequestError("network.path is required"),
			"network.path has the form <network store>/<dataset>/<network>")
	}
	if filepath.Dir(filepath.Dir(c.Network.Path)) == filepath.Dir(c.Network.Path) {
		return errors.NewInvalidRequestError("network.path %q must name <store>/<dataset>/<network>", c.Network.Path)
	}

	// Zero workers would never drain the job list
	if c.Pulse.Workers <= 0 {
		return errors.NewInvalidRequestError("pulse.workers must be > 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.DispatchPerSecond < 0 {
		return errors.NewInvalidRequestError("pulse.dispatch_per_second must be >= 0, got %f", c.Pulse.DispatchPerSecond)
	}

	if c.Trace.SeedWildcard == "" {
		return errors.NewInvalidRequestError("trace.seed_wildcard cannot be empty")
	}
	if _, err := filepath.Match(c.Trace.SeedWildcard, ""); err != nil {
		return errors.NewInvalidRequestError("trace.seed_wildcard %q is not a valid pattern", c.Trace.SeedWildcard)
	}
	if c.Trace.IdentifierField == "" || c.Trace.JoinKey == "" || c.Trace.EdgeClass == "" {
		return errors.NewInvalidRequestError("trace.identifier_field, trace.join_key and trace.edge_class are required")
	}
	if c.Trace.OutputPrefix == "" || c.Trace.StorePrefix == "" {
		return errors.NewInvalidRequestError("trace.output_prefix and trace.store_prefix are required")
	}

	if c.Aggregate.CooldownSeconds < 0 {
		return errors.NewInvalidRequestError("aggregate.cooldown_seconds must be >= 0, got %d", c.Aggregate.CooldownSeconds)
	}
	if c.Aggregate.MaxRetries < 0 {
		return errors.NewInvalidRequestError("aggregate.max_retries must be >= 0, got %d", c.Aggregate.MaxRetries)
	}
	if c.Log.Verbosity < 0 {
		return errors.NewInvalidRequestError("log.verbosity must be >= 0, got %d", c.Log.Verbosity)
	}

	return nil
}
