package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teranos/hydrotrace/am"
	"github.com/teranos/hydrotrace/errors"
)

// flagKeys maps CLI flags onto configuration keys. Flags only override the
// config when set on the command line.
var flagKeys = map[string]string{
	"workspace":   "workspace.path",
	"aoi":         "workspace.aoi",
	"network":     "network.path",
	"workers":     "pulse.workers",
	"scratch-dir": "pulse.scratch_dir",
	"results-dir": "pulse.results_dir",
	"seeds":       "trace.seed_wildcard",
	"target":      "aggregate.target",
	"cooldown":    "aggregate.cooldown_seconds",
	"log-dir":     "log.dir",
	"json":        "log.json",
}

// loadConfig builds the effective configuration: defaults, config files,
// environment, an explicit --config file, then command line flags.
func loadConfig(cmd *cobra.Command) (*am.Config, error) {
	v := am.NewViper()
	if err := applyFlags(cmd, v); err != nil {
		return nil, err
	}
	cfg, err := am.LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	if verbosity, err := cmd.Flags().GetCount("verbose"); err == nil && cmd.Flags().Changed("verbose") {
		cfg.Log.Verbosity = verbosity
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, v *viper.Viper) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.MergeInConfig(); err != nil {
			return errors.Wrapf(err, "failed to read config file %s", path)
		}
	}
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "failed to bind --%s", name)
		}
	}
	return nil
}

// addPathFlags registers the flags shared by commands that read the workspace.
func addPathFlags(cmd *cobra.Command) {
	cmd.Flags().String("workspace", "", "Shared workspace store (e.g. /data/BCM.gdb)")
	cmd.Flags().String("network", "", "Network path <store>/<dataset>/<network>")
	cmd.Flags().String("seeds", "", "Seed collection wildcard (default \"*_0\")")
}
