// Package async runs a fixed batch of trace jobs on a pool of workers and
// records their progress in the run ledger.
package async

import (
	"time"

	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/internal/util"
)

// JobState is the position of a job in its lifecycle.
type JobState string

const (
	StatePending       JobState = "pending"
	StateIsolating     JobState = "isolating"
	StateCopyingSeed   JobState = "copying_seed"
	StateTracing       JobState = "tracing"
	StateCopyingResult JobState = "copying_result"
	StateJoining       JobState = "joining"
	StatePropagating   JobState = "propagating"
	StateCleaningUp    JobState = "cleaning_up"
	StateDone          JobState = "done"
	StateFailed        JobState = "failed"
)

// pipelineOrder is the happy path; each state may only advance to the next.
var pipelineOrder = []JobState{
	StatePending,
	StateIsolating,
	StateCopyingSeed,
	StateTracing,
	StateCopyingResult,
	StateJoining,
	StatePropagating,
	StateCleaningUp,
	StateDone,
}

// IsValidState returns true if the string names a JobState
func IsValidState(s string) bool {
	if JobState(s) == StateFailed {
		return true
	}
	for _, st := range pipelineOrder {
		if JobState(s) == st {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether from -> to is legal. Besides the happy path,
// any non-terminal state may jump to cleaning_up (failure path) or failed.
func CanTransition(from, to JobState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	if to == StateCleaningUp && from != StateCleaningUp {
		return true
	}
	for i := 0; i < len(pipelineOrder)-1; i++ {
		if pipelineOrder[i] == from {
			return pipelineOrder[i+1] == to
		}
	}
	return false
}

// Job is one seed to trace. It is immutable once enumerated.
type Job struct {
	ID        string    `json:"id" yaml:"id"`
	Seed      string    `json:"seed" yaml:"seed"`           // seed collection name in the shared workspace
	Network   string    `json:"network" yaml:"network"`     // shared network path
	Workspace string    `json:"workspace" yaml:"workspace"` // shared workspace store path
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// NewJob creates a job with a fresh identifier.
func NewJob(seed, network, workspace string) (*Job, error) {
	if seed == "" {
		return nil, errors.NewInvalidRequestError("seed cannot be empty")
	}
	if network == "" || workspace == "" {
		return nil, errors.NewInvalidRequestError("job for %s needs a network and a workspace", seed)
	}
	return &Job{
		ID:        util.NewUniqueID(),
		Seed:      seed,
		Network:   network,
		Workspace: workspace,
		CreatedAt: time.Now(),
	}, nil
}

// Outcome is what the pool learned about one job. Fields are written by the
// worker before Done is closed and are read-only afterwards.
type Outcome struct {
	Job       *Job
	State     JobState
	Err       error
	Stage     JobState // state the job was in when it failed
	Workspace string   // isolated workspace used, if any
	Result    string   // result store produced, if any
	Started   time.Time
	Finished  time.Time

	done chan struct{}
}

func newOutcome(job *Job) *Outcome {
	return &Outcome{Job: job, State: StatePending, done: make(chan struct{})}
}

// Done is closed once the job reached a terminal state.
func (o *Outcome) Done() <-chan struct{} { return o.done }

// Succeeded reports whether the job finished in StateDone.
func (o *Outcome) Succeeded() bool { return o.State == StateDone }

// Duration is the wall time the job spent in a worker.
func (o *Outcome) Duration() time.Duration {
	if o.Started.IsZero() || o.Finished.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}
