package commands

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/hydrotrace/logger"
	"github.com/teranos/hydrotrace/pipeline"
	"github.com/teranos/hydrotrace/pulse"
)

// RunCmd traces every seed and aggregates the results
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Trace every seed and aggregate the results",
	Long: `Trace every seed collection of the workspace downstream through a private
copy of the network, then merge every result into the consolidated store.

A run writes:
  <log dir>/<workspace>_<timestamp>.log          append-only run log
  <log dir>/<workspace>_<timestamp>_report.yaml  run report
  <results dir>/trace_<id>.gdb                   one result store per seed
  <results dir>/hydrotrace_ledger.db             job states and failure records

Failed seeds never stop the run; they are listed in the report.

Examples:
  hydrotrace run --workspace /data/BCM.gdb --network /data/NHDPlus.gdb/Hydrography/HydroNet_Trace
  hydrotrace run -w 8 --seeds 'seg_*'
  hydrotrace run --target /data/AllTraceOutputs.gdb -v`,
	RunE: runRun,
}

func init() {
	addPathFlags(RunCmd)
	RunCmd.Flags().String("aoi", "", "Area-of-interest boundary collection in the workspace")
	RunCmd.Flags().IntP("workers", "w", 1, "Number of parallel trace workers")
	RunCmd.Flags().String("scratch-dir", "", "Directory for isolated network copies (default <workspace dir>/temp_dir)")
	RunCmd.Flags().String("results-dir", "", "Directory for result stores (default <workspace dir>/trace_outputs)")
	RunCmd.Flags().String("target", "", "Consolidated store (default: the workspace)")
	RunCmd.Flags().Int("cooldown", 0, "Seconds to wait after all jobs finished before aggregating")
	RunCmd.Flags().String("log-dir", "", "Directory for the run log (default: current directory)")
	RunCmd.Flags().Bool("json", false, "JSON console log and progress events")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logFile := filepath.Join(cfg.LogDir(), logger.LogFileName(cfg.Workspace.Path, time.Now()))
	logPath, err := logger.InitializeRun(logger.RunOptions{
		LogFile: logFile,
		JSON:    cfg.Log.JSON,
		Level:   logger.VerbosityToLevel(cfg.Log.Verbosity),
	})
	if err != nil {
		return err
	}
	defer logger.Cleanup()

	var progress pulse.ProgressEmitter
	if cfg.Log.JSON {
		progress = pulse.NewJSONEmitter()
	} else {
		pterm.DefaultHeader.Println("hydrotrace run")
		pterm.Info.Printf("Logging to %s\n", logPath)
		progress = pulse.NewCLIEmitter(cfg.Log.Verbosity)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := pipeline.Run(ctx, cfg,
		pipeline.WithProgress(progress),
		pipeline.WithReportPath(strings.TrimSuffix(logPath, ".log")+"_report.yaml"),
	)
	if err != nil {
		progress.EmitError("run", err)
		return err
	}

	progress.EmitComplete(map[string]interface{}{
		"discovered": report.Discovered,
		"succeeded":  report.Succeeded,
		"failed":     report.Failed,
		"aggregated": report.Aggregated,
		"report":     report.Path,
	})
	if !cfg.Log.JSON {
		printRunSummary(report)
	}
	return nil
}
