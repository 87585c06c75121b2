package models

import "time"

// RunStatus is the final status of an orchestrator run.
type RunStatus string

const (
	// RunCompleted indicates every subtask of the goal completed.
	RunCompleted RunStatus = "completed"
	// RunAborted indicates the run hit its round or time budget, or was stopped.
	RunAborted RunStatus = "aborted"
	// RunStalled indicates the planner found no further work for an unfinished goal.
	RunStalled RunStatus = "stalled"
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunCompleted, RunAborted, RunStalled:
		return true
	default:
		return false
	}
}

// Outcome is the user-visible result of a run.
type Outcome struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`
	// GoalID is the ID of the goal task.
	GoalID string `json:"goal_id"`
	// Goal is the goal text.
	Goal string `json:"goal"`
	// Status is the final run status.
	Status RunStatus `json:"status"`
	// Reason explains non-completed outcomes.
	Reason string `json:"reason,omitempty"`
	// Result is the final result, or the partial result at termination.
	Result string `json:"result"`
	// Rounds is the number of plan/dispatch rounds executed.
	Rounds int `json:"rounds"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the run finished.
	EndedAt time.Time `json:"ended_at"`
}

// Succeeded returns true if the run completed.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Status == RunCompleted
}
