package pulse

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"go.uber.org/zap"

	"github.com/teranos/hydrotrace/logger"
)

// ProgressEvent is a structured progress event
type ProgressEvent struct {
	Type      string                 `json:"type"`      // "stage", "progress", "task", "complete", "error", "info"
	Timestamp time.Time              `json:"timestamp"` // When this event occurred
	Data      map[string]interface{} `json:"data"`      // Event-specific data
}

// CLIEmitter prints progress to the terminal using pterm. It also tracks
// tasks so it can show a running done/failed count.
type CLIEmitter struct {
	verbosity int

	mu        sync.Mutex
	total     int
	finished  int
	failed    int
	taskNames map[string]string
}

// NewCLIEmitter creates a CLI progress emitter for terminal output
func NewCLIEmitter(verbosity int) *CLIEmitter {
	return &CLIEmitter{verbosity: verbosity, taskNames: make(map[string]string)}
}

// EmitStage prints a stage announcement to terminal
func (e *CLIEmitter) EmitStage(stage string, message string) {
	pterm.Printf("🔄 %s: %s\n", pterm.LightCyan(stage), message)
}

// EmitProgress prints per-unit progress at verbosity >= 1
func (e *CLIEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	if e.verbosity < 1 {
		return
	}
	seed, _ := metadata["seed"].(string)
	state, _ := metadata["state"].(string)
	if seed != "" {
		pterm.Printf("  %s %s %s\n", pterm.Gray("→"), seed, pterm.Gray(state))
		return
	}
	pterm.Printf("✅ Processed %s items\n", pterm.Green(fmt.Sprintf("%d", count)))
}

// EmitComplete prints completion summary
func (e *CLIEmitter) EmitComplete(summary map[string]interface{}) {
	pterm.Success.Println("Processing complete!")
	if e.verbosity >= 1 {
		for key, value := range summary {
			pterm.Printf("  %s: %v\n", key, value)
		}
	}
}

// EmitError prints an error
func (e *CLIEmitter) EmitError(stage string, err error) {
	pterm.Error.Printf("Error in %s: %v\n", stage, err)
}

// EmitInfo prints informational message
func (e *CLIEmitter) EmitInfo(message string) {
	if e.verbosity >= 1 {
		pterm.Info.Println(message)
	}
}

// AddTask registers a task
func (e *CLIEmitter) AddTask(taskID string, taskName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.taskNames[taskID] = taskName
	e.total++
}

// UpdateTaskStatus prints a task's outcome with the running count
func (e *CLIEmitter) UpdateTaskStatus(taskID string, completed bool, result string) {
	e.mu.Lock()
	e.finished++
	if !completed {
		e.failed++
	}
	name := e.taskNames[taskID]
	finished, total := e.finished, e.total
	e.mu.Unlock()

	counter := pterm.Gray(fmt.Sprintf("[%d/%d]", finished, total))
	if completed {
		pterm.Printf("%s %s %s\n", counter, pterm.LightGreen("✓"), name)
		return
	}
	pterm.Printf("%s %s %s %s\n", counter, pterm.Red("✗"), name, pterm.Gray(result))
}

// Counts returns finished and failed task counts
func (e *CLIEmitter) Counts() (finished, failed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished, e.failed
}

// JSONEmitter writes one JSON event per line. The first failed write is
// logged at debug level; later failures are dropped.
type JSONEmitter struct {
	mu          sync.Mutex
	encoder     *json.Encoder
	log         *zap.SugaredLogger
	writeFailed bool
}

// NewJSONEmitter creates a JSON progress emitter on stdout
func NewJSONEmitter() *JSONEmitter {
	return NewJSONEmitterTo(os.Stdout)
}

// NewJSONEmitterTo creates a JSON progress emitter on w
func NewJSONEmitterTo(w io.Writer) *JSONEmitter {
	return &JSONEmitter{encoder: json.NewEncoder(w), log: logger.ComponentLogger("progress")}
}

func (e *JSONEmitter) emit(typ string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.encoder.Encode(ProgressEvent{Type: typ, Timestamp: time.Now(), Data: data})
	if err != nil && !e.writeFailed {
		e.writeFailed = true
		e.log.Debugw("Failed to write progress event", "event", typ, logger.FieldError, err)
	}
}

// EmitStage emits a stage event as JSON
func (e *JSONEmitter) EmitStage(stage string, message string) {
	e.emit("stage", map[string]interface{}{"stage": stage, "message": message})
}

// EmitProgress emits a progress event as JSON
func (e *JSONEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	data := map[string]interface{}{"count": count}
	for k, v := range metadata {
		data[k] = v
	}
	e.emit("progress", data)
}

// EmitComplete emits a completion event as JSON
func (e *JSONEmitter) EmitComplete(summary map[string]interface{}) {
	e.emit("complete", summary)
}

// EmitError emits an error event as JSON
func (e *JSONEmitter) EmitError(stage string, err error) {
	e.emit("error", map[string]interface{}{"stage": stage, "error": err.Error()})
}

// EmitInfo emits an info event as JSON
func (e *JSONEmitter) EmitInfo(message string) {
	e.emit("info", map[string]interface{}{"message": message})
}

// AddTask emits a task registration event
func (e *JSONEmitter) AddTask(taskID string, taskName string) {
	e.emit("task", map[string]interface{}{"id": taskID, "name": taskName, "status": "queued"})
}

// UpdateTaskStatus emits a task outcome event
func (e *JSONEmitter) UpdateTaskStatus(taskID string, completed bool, result string) {
	status := "failed"
	if completed {
		status = "done"
	}
	e.emit("task", map[string]interface{}{"id": taskID, "status": status, "result": result})
}
