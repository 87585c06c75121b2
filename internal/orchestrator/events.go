// Package orchestrator drives a goal to completion: it plans subtasks,
// creates an agent per subtask, dispatches them and re-plans from the
// results until the goal completes, stalls or runs out of budget.
package orchestrator

import (
	"time"

	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventRunStarted indicates a run has begun for a goal.
	EventRunStarted EventType = "run_started"
	// EventPlanCreated indicates the planner produced subtasks.
	EventPlanCreated EventType = "plan_created"
	// EventTaskQueued indicates a subtask is about to get an agent.
	EventTaskQueued EventType = "task_queued"
	// EventTaskStarted indicates an agent was assigned and started.
	EventTaskStarted EventType = "task_started"
	// EventAgentStep carries one recorded agent step.
	EventAgentStep EventType = "agent_step"
	// EventTaskCompleted indicates a subtask completed.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a subtask failed, was exhausted or aborted.
	EventTaskFailed EventType = "task_failed"
	// EventRunDone indicates the run finished with an outcome.
	EventRunDone EventType = "run_done"
)

// Event is emitted by the orchestrator. Events feed the TUI, metrics and
// publishers.
type Event struct {
	// Type is the kind of event.
	Type EventType `json:"type"`
	// RunID identifies the run.
	RunID string `json:"run_id,omitempty"`
	// TaskID is the ID of the related task, if applicable.
	TaskID string `json:"task_id,omitempty"`
	// ParentID is the ID of the parent task, if applicable.
	ParentID string `json:"parent_id,omitempty"`
	// AgentID is the ID of the related agent, if applicable.
	AgentID string `json:"agent_id,omitempty"`
	// AgentKind is the template of the related agent.
	AgentKind string `json:"agent_kind,omitempty"`
	// Description is the task or goal text.
	Description string `json:"description,omitempty"`
	// Message provides additional context about the event.
	Message string `json:"message,omitempty"`
	// Error contains error details for failure events.
	Error string `json:"error,omitempty"`
	// Step is set for agent_step events.
	Step *models.Step `json:"step,omitempty"`
	// Status is the run status for run_done events.
	Status models.RunStatus `json:"status,omitempty"`
	// Round is the planning round the event belongs to.
	Round int `json:"round,omitempty"`
	// Count is the number of subtasks for plan_created events.
	Count int `json:"count,omitempty"`
	// Duration is the elapsed time for task and run completion events.
	Duration time.Duration `json:"duration,omitempty"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}
