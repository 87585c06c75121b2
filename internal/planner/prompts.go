package planner

import (
	"fmt"
	"strings"

	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// Variant selects the prompt template.
type Variant int

const (
	// Basic is used before the goal has any subtasks.
	Basic Variant = iota
	// WithFeedback is used once subtasks exist.
	WithFeedback
	// Replan is used when a previous plan produced failures.
	Replan
)

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case Basic:
		return "basic"
	case WithFeedback:
		return "with_feedback"
	case Replan:
		return "replan"
	default:
		return "unknown"
	}
}

// SystemPrompt frames every planner call.
const SystemPrompt = `You are a task planning expert. You break goals into small subtasks that a single specialist agent can finish with a calculator, data analysis, search, file or text tools. You only plan; you never execute.`

// planFormat is appended to every variant.
const planFormat = `Respond with JSON only, in this format:

{
  "tasks": [
    {
      "id": "task_1",
      "description": "a specific, self-contained subtask",
      "tool_type": "search|calculator|data_analysis|file_ops|general",
      "priority": "high|normal|low"
    }
  ],
  "strategy": "sequential|parallel|mixed",
  "estimated_time": 60,
  "done": false
}

Only list work that is still needed. Completed subtasks stay completed.
If the goal needs no further work, respond with {"tasks": [], "done": true}.`

const basicInstructions = `Break the goal into 1-5 executable subtasks.
1. Make every description specific and include the inputs it needs.
2. Pick the most suitable tool type.
3. Order subtasks so that each one can use the results before it.`

const feedbackInstructions = `Adjust the plan to the current state.
1. Build on the completed work instead of repeating it.
2. Add only the subtasks that are still missing.
3. Keep the order and priorities sensible.`

const replanInstructions = `The previous plan ran into failures. Analyze them and plan again.
1. Work out why each failed subtask failed.
2. Change the approach: split, rephrase or pick a different tool.
3. Make sure the goal can still be reached.`

// maxOutputInPrompt bounds how much of a task's output is quoted back.
const maxOutputInPrompt = 200

// buildPrompt renders the user prompt for req.
func buildPrompt(v Variant, req Request, recent []HistoryEntry) string {
	var b strings.Builder

	switch v {
	case Replan:
		b.WriteString(replanInstructions)
	case WithFeedback:
		b.WriteString(feedbackInstructions)
	default:
		b.WriteString(basicInstructions)
	}

	fmt.Fprintf(&b, "\n\n## Goal\n%s\n", req.Goal)

	if v != Basic {
		b.WriteString("\n## Current State\n")
		writeHierarchy(&b, req.Snapshot, req.GoalID, 0)
	}

	if failures := failedTasks(req.Snapshot, req.GoalID); len(failures) > 0 {
		b.WriteString("\n## Failures\n")
		for _, t := range failures {
			fmt.Fprintf(&b, "- %s\n", t.Description)
			if t.Result == nil {
				continue
			}
			if t.Result.Reason != "" {
				fmt.Fprintf(&b, "  reason: %s\n", t.Result.Reason)
			}
			if t.Result.Output != "" {
				fmt.Fprintf(&b, "  partial output: %s\n", progress.Truncate(t.Result.Output, maxOutputInPrompt))
			}
		}
	}

	if v == Replan && req.Prior != nil {
		b.WriteString("\n## Previous Plan\n")
		for i, s := range req.Prior.Subtasks {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, s.Description, s.ToolType)
		}
	}

	b.WriteString("\n## Planning History\n")
	if len(recent) == 0 {
		b.WriteString("none\n")
	}
	for _, h := range recent {
		fmt.Fprintf(&b, "- %s plan: %d task(s), result %s, state %s\n",
			h.Variant, h.TaskCount, h.Kind, h.State)
	}

	b.WriteString("\n")
	b.WriteString(planFormat)
	return b.String()
}

func writeHierarchy(b *strings.Builder, snap progress.Snapshot, id string, depth int) {
	children := snap.Children(id)
	if depth == 0 && len(children) == 0 {
		b.WriteString("no subtasks yet\n")
		return
	}
	for _, c := range children {
		fmt.Fprintf(b, "%s- [%s] %s", strings.Repeat("  ", depth), c.Status, c.Description)
		if c.Status == models.TaskStatusCompleted && c.Result != nil && c.Result.Output != "" {
			fmt.Fprintf(b, " => %s", progress.Truncate(c.Result.Output, maxOutputInPrompt))
		}
		b.WriteString("\n")
		writeHierarchy(b, snap, c.ID, depth+1)
	}
}

func failedTasks(snap progress.Snapshot, goalID string) []models.Task {
	var out []models.Task
	for _, t := range snap.Descendants(goalID) {
		if t.Status == models.TaskStatusFailed {
			out = append(out, t)
		}
	}
	return out
}

// stateSummary is the one-line state recorded in planning history.
func stateSummary(snap progress.Snapshot, goalID string) string {
	var done, failed, open int
	for _, t := range snap.Descendants(goalID) {
		switch t.Status {
		case models.TaskStatusCompleted:
			done++
		case models.TaskStatusFailed:
			failed++
		default:
			open++
		}
	}
	if done+failed+open == 0 {
		return "initial"
	}
	return fmt.Sprintf("%d completed, %d failed, %d open", done, failed, open)
}
