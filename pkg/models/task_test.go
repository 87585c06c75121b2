package models

import (
	"testing"
	"time"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"running is valid", TaskStatusRunning, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("done"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_CanTransitionTo(t *testing.T) {
	all := []TaskStatus{TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed}
	legal := map[[2]TaskStatus]bool{
		{TaskStatusPending, TaskStatusRunning}:   true,
		{TaskStatusRunning, TaskStatusCompleted}: true,
		{TaskStatusRunning, TaskStatusFailed}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			want := legal[[2]TaskStatus{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusRunning, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTask_CloneIsDeep(t *testing.T) {
	started := time.Now()
	orig := Task{
		ID:        "t1",
		Children:  []string{"a", "b"},
		Result:    &TaskResult{Output: "579"},
		StartedAt: &started,
	}

	c := orig.Clone()
	c.Children[0] = "changed"
	c.Result.Output = "changed"
	*c.StartedAt = started.Add(time.Hour)

	if orig.Children[0] != "a" {
		t.Errorf("Children aliased: got %q", orig.Children[0])
	}
	if orig.Result.Output != "579" {
		t.Errorf("Result aliased: got %q", orig.Result.Output)
	}
	if !orig.StartedAt.Equal(started) {
		t.Errorf("StartedAt aliased")
	}
}

func TestTask_Duration(t *testing.T) {
	var task Task
	if d := task.Duration(); d != 0 {
		t.Errorf("Duration() of unstarted task = %v, want 0", d)
	}

	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	task.StartedAt = &start
	task.EndedAt = &end
	if d := task.Duration(); d != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", d)
	}
}

func TestRunStatus_Valid(t *testing.T) {
	for _, s := range []RunStatus{RunCompleted, RunAborted, RunStalled} {
		if !s.Valid() {
			t.Errorf("RunStatus(%q).Valid() = false", s)
		}
	}
	if RunStatus("halted").Valid() {
		t.Error("unknown run status reported valid")
	}
}

func TestOutcome_Succeeded(t *testing.T) {
	var nilOutcome *Outcome
	if nilOutcome.Succeeded() {
		t.Error("nil outcome should not succeed")
	}
	if !(&Outcome{Status: RunCompleted}).Succeeded() {
		t.Error("completed outcome should succeed")
	}
	if (&Outcome{Status: RunStalled}).Succeeded() {
		t.Error("stalled outcome should not succeed")
	}
}
