package logger

import "go.uber.org/zap/zapcore"

// Verbosity level constants for CLI flag counts.
const (
	VerbosityUser  = 0 // No flags: milestones, per-job outcomes, warnings and errors
	VerbosityDebug = 1 // -v: + state transitions, store operations and cleanup reports
)

// VerbosityToLevel maps verbosity flags (-v) to zap log levels.
// Run milestones must always reach the log file, so the floor is InfoLevel.
func VerbosityToLevel(verbosity int) zapcore.Level {
	if verbosity >= VerbosityDebug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
