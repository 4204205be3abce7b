package logger

import (
	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across hydrotrace.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldRunID = "run_id"
	FieldJobID = "job_id"

	// Components
	FieldComponent = "component"
	FieldWorkerID  = "worker_id"

	// Domain
	FieldSeed      = "seed"
	FieldStore     = "store"
	FieldWorkspace = "workspace"
	FieldNetwork   = "network"
	FieldTarget    = "target"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldDuration   = "duration"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"
	FieldStage     = "stage"

	// Counts
	FieldCount     = "count"
	FieldWorkers   = "workers"
	FieldAttempted = "attempted"
	FieldFailed    = "failed"
	FieldRemoved   = "removed"
	FieldKept      = "kept"

	// Status
	FieldState = "state"
	FieldPath  = "path"
)

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
//	pool := async.NewWorkerPool(cfg, exec, ledger, logger.ComponentLogger("pulse"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
//
//	jobLogger := logger.ChildLogger(baseLogger, logger.FieldJobID, job.ID, logger.FieldSeed, job.Seed)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
