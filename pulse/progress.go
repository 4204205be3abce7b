// Package pulse holds the batch execution infrastructure shared by the
// worker pool and its callers.
package pulse

// ProgressEmitter receives progress updates during a batch. It is
// domain-agnostic; implementations decide how to present them.
type ProgressEmitter interface {
	// EmitStage announces the start of a processing stage
	EmitStage(stage string, message string)

	// EmitProgress announces that count more units finished, with optional metadata
	EmitProgress(count int, metadata map[string]interface{})

	// EmitComplete announces completion with a summary
	EmitComplete(summary map[string]interface{})

	// EmitError announces an error during processing
	EmitError(stage string, err error)

	// EmitInfo emits a general informational message
	EmitInfo(message string)
}

// TaskTracker is an optional interface a ProgressEmitter can implement to
// follow individual units of work.
type TaskTracker interface {
	// AddTask registers a task that will be tracked
	AddTask(taskID string, taskName string)

	// UpdateTaskStatus records a task's outcome
	// completed: true if the task finished successfully, false if it failed
	UpdateTaskStatus(taskID string, completed bool, result string)
}
