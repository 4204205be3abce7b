package logger

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/hydrotrace/errors"
)

var (
	// Global logger instance
	Logger *zap.SugaredLogger
	// Flag to track if JSON output is enabled
	JSONOutput bool

	// closeFile releases the run log file opened by InitializeRun
	closeFile func() error
)

func init() {
	// Safe no-op logger until Initialize is called
	Logger = zap.NewNop().Sugar()
}

// RunOptions configures the dual-sink logger used by a batch run.
type RunOptions struct {
	// LogFile is appended to; it is created if missing. Empty disables the file sink.
	LogFile string
	// JSON switches the console sink to JSON.
	JSON bool
	// Level applies to both sinks.
	Level zapcore.Level
	// Console receives the live log (defaults to stdout).
	Console zapcore.WriteSyncer
}

// Initialize sets up a console-only global logger.
func Initialize(jsonOutput bool) error {
	_, err := InitializeRun(RunOptions{JSON: jsonOutput, Level: zap.InfoLevel})
	return err
}

// InitializeRun sets up the global logger with a persistent append-only file sink
// and a live console sink. Returns the absolute path of the log file (empty when
// no file sink was requested).
func InitializeRun(opts RunOptions) (string, error) {
	JSONOutput = opts.JSON

	console := opts.Console
	if console == nil {
		console = zapcore.AddSync(os.Stdout)
	}

	var consoleEncoder zapcore.Encoder
	if opts.JSON {
		consoleEncoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		consoleEncoder = newMinimalEncoder()
	}
	cores := []zapcore.Core{zapcore.NewCore(consoleEncoder, console, opts.Level)}

	var logPath string
	if opts.LogFile != "" {
		abs, err := filepath.Abs(opts.LogFile)
		if err != nil {
			return "", errors.Wrapf(err, "resolve log file %s", opts.LogFile)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return "", errors.Wrapf(err, "create log directory for %s", abs)
		}
		f, err := os.OpenFile(abs, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return "", errors.Wrapf(err, "open log file %s", abs)
		}
		cores = append(cores, zapcore.NewCore(newFileEncoder(), zapcore.AddSync(f), opts.Level))
		logPath = abs

		Cleanup()
		closeFile = f.Close
	}

	Logger = zap.New(zapcore.NewTee(cores...)).Sugar()
	return logPath, nil
}

// newFileEncoder renders "2006-01-02 15:04:05 - message key=value" lines for the run log.
func newFileEncoder() zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " - "
	cfg.CallerKey = ""
	return zapcore.NewConsoleEncoder(cfg)
}

// LogFileName returns "<workspace-base>_<YYYYmmddHHMMSS>.log" for a run started at t.
func LogFileName(workspace string, t time.Time) string {
	base := filepath.Base(strings.TrimRight(workspace, `/\`))
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "hydrotrace"
	}
	return base + "_" + t.Format("20060102150405") + ".log"
}

// Cleanup flushes buffered log entries and closes the run log file
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
	if closeFile != nil {
		_ = closeFile()
		closeFile = nil
	}
}

// Infow logs an info message with structured fields
func Infow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, keysAndValues...)
	}
}

// Errorw logs an error message with structured fields
func Errorw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Errorw(msg, keysAndValues...)
	}
}

// Warnw logs a warning message with structured fields
func Warnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Warnw(msg, keysAndValues...)
	}
}

// Debugw logs a debug message with structured fields
func Debugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Debugw(msg, keysAndValues...)
	}
}
