package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/hydrotrace/aggregate"
	"github.com/teranos/hydrotrace/logger"
)

// AggregateCmd re-merges result stores into the consolidated store
var AggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Merge every result store under the results directory",
	Long: `Walk the results directory and copy the trace output of every
trace_*.gdb store into the consolidated store. Use this to finish a run
that was interrupted before aggregation, or to merge into a new target.

Examples:
  hydrotrace aggregate
  hydrotrace aggregate --target /data/AllTraceOutputs.gdb`,
	RunE: runAggregate,
}

func init() {
	AggregateCmd.Flags().String("workspace", "", "Shared workspace store (e.g. /data/BCM.gdb)")
	AggregateCmd.Flags().String("results-dir", "", "Directory holding result stores")
	AggregateCmd.Flags().String("target", "", "Consolidated store (default: the workspace)")
}

func runAggregate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.AggregateTarget() == "" {
		return errRequired("workspace.path or aggregate.target")
	}

	agg := aggregate.New(aggregate.OptionsFromConfig(cfg), nil, logger.ComponentLogger("aggregate"))
	report, err := agg.Sweep(cmd.Context())
	if err != nil {
		return err
	}

	pterm.DefaultSection.Println("Aggregation")
	printAggregateSummary(report)
	return nil
}
