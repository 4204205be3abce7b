package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/hydrotrace/gdb"
	"github.com/teranos/hydrotrace/logger"
	"github.com/teranos/hydrotrace/trace"
)

// SeedsCmd lists the seed collections a run would trace
var SeedsCmd = &cobra.Command{
	Use:   "seeds",
	Short: "List the seed collections a run would pick up",
	Long: `List the line collections of the workspace matching the seed wildcard,
in the order a run enumerates them.

Examples:
  hydrotrace seeds
  hydrotrace seeds --seeds 'seg_*'`,
	RunE: runSeeds,
}

func init() {
	addPathFlags(SeedsCmd)
}

func runSeeds(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Workspace.Path == "" {
		return errRequired("workspace.path")
	}

	ws, err := gdb.Open(cfg.Workspace.Path, gdb.OpenOptions{ReadOnly: true}, logger.Logger)
	if err != nil {
		return err
	}
	defer ws.Close()

	seeds, err := trace.Seeds(cmd.Context(), ws, trace.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, s := range seeds {
		pterm.Fprintln(out, s)
	}
	pterm.Fprintln(out, pterm.Gray(pterm.Sprintf("%d seed collections match %q", len(seeds), cfg.Trace.SeedWildcard)))
	return nil
}
