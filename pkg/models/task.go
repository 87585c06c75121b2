package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates an agent is working on the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed, was exhausted or was aborted.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for completed and failed.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether next is a legal successor of s.
// The only legal edges are pending->running and running->{completed,failed}.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusRunning
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	default:
		return false
	}
}

// TaskResult is the payload recorded when a task reaches a terminal status.
type TaskResult struct {
	// Output is the result text, or the best partial output for failures.
	Output string `json:"output"`
	// Reason explains a non-successful outcome.
	Reason string `json:"reason,omitempty"`
	// Steps is the number of reasoning steps recorded by the agent.
	Steps int `json:"steps,omitempty"`
}

// Task represents a unit of work in the task hierarchy.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// ParentID is the ID of the parent task, empty for a goal.
	ParentID string `json:"parent_id,omitempty"`
	// Description is the text handed to the agent or planner.
	Description string `json:"description"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Children lists child task IDs in planning order.
	Children []string `json:"children,omitempty"`
	// AssignedAgent is the ID of the agent working on this task.
	AssignedAgent string `json:"assigned_agent,omitempty"`
	// Result is set only once the task is terminal.
	Result *TaskResult `json:"result,omitempty"`
	// Priority is the planner-assigned priority (lower runs first).
	Priority int `json:"priority,omitempty"`
	// Capability is the planner's tool hint for this task.
	Capability string `json:"capability,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the task was assigned.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// EndedAt is when the task reached a terminal status.
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	c := t
	if t.Children != nil {
		c.Children = append([]string(nil), t.Children...)
	}
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.EndedAt != nil {
		e := *t.EndedAt
		c.EndedAt = &e
	}
	return c
}

// Duration returns how long the task ran, or zero if it never started.
func (t Task) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	if t.EndedAt == nil {
		return time.Since(*t.StartedAt)
	}
	return t.EndedAt.Sub(*t.StartedAt)
}
