package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/hydrotrace/cmd/hydrotrace/commands"
	"github.com/teranos/hydrotrace/logger"
)

var rootCmd = &cobra.Command{
	Use:   "hydrotrace",
	Short: "hydrotrace - parallel downstream trace batches over a hydrologic network",
	Long: `hydrotrace - parallel downstream trace batches over a hydrologic network.

For every seed line collection in a workspace, hydrotrace traces the full
downstream flow path through a private copy of the network, tags the traced
flowlines with the seed's identifiers and merges all results into one store.

Available commands:
  run       - Trace every seed and aggregate the results
  aggregate - Re-merge result stores found under the results directory
  seeds     - List the seed collections a run would pick up
  am        - Manage hydrotrace configuration ("I am")
  version   - Show version information

Examples:
  hydrotrace run --workspace /data/BCM.gdb --network /data/NHDPlus.gdb/Hydrography/HydroNet_Trace -w 8
  hydrotrace seeds
  hydrotrace aggregate --target /data/AllTraceOutputs.gdb
  hydrotrace am show --format yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip for commands that print machine-readable output
		if cmd.Name() == "show" || cmd.Name() == "version" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if _, err := logger.InitializeRun(logger.RunOptions{Level: logger.VerbosityToLevel(verbosity)}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: hydrotrace.toml cascade)")

	// Add commands
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.AggregateCmd)
	rootCmd.AddCommand(commands.SeedsCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
