package progress

import (
	"fmt"
	"strings"

	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// StatusSymbol returns the single-character marker used in reports.
func StatusSymbol(st models.TaskStatus) string {
	switch st {
	case models.TaskStatusPending:
		return "○"
	case models.TaskStatusRunning:
		return "◐"
	case models.TaskStatusCompleted:
		return "●"
	case models.TaskStatusFailed:
		return "✗"
	default:
		return "?"
	}
}

// Report renders the snapshot as an indented tree followed by a stats line.
func Report(snap Snapshot) string {
	var b strings.Builder

	roots := snap.Roots()
	if len(roots) == 0 {
		b.WriteString("No tasks.\n")
	}
	for _, root := range roots {
		writeTask(&b, snap, root, 0)
	}

	st := snap.Stats()
	fmt.Fprintf(&b, "\nTasks: %d total, %d pending, %d running, %d completed, %d failed",
		st.Total, st.Pending, st.Running, st.Completed, st.Failed)
	if st.Total > 0 {
		fmt.Fprintf(&b, " (%.0f%% complete, %.0f%% failed)", st.CompletionRate*100, st.FailureRate*100)
	}
	b.WriteString("\n")
	if len(snap.Agents) > 0 {
		fmt.Fprintf(&b, "Agents: %d registered\n", len(snap.Agents))
	}
	return b.String()
}

func writeTask(b *strings.Builder, snap Snapshot, t models.Task, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%s%s %s", indent, StatusSymbol(t.Status), Truncate(t.Description, 72))
	if t.AssignedAgent != "" {
		fmt.Fprintf(b, " [%s]", t.AssignedAgent)
	}
	b.WriteString("\n")

	if t.Result != nil {
		if t.Result.Reason != "" {
			fmt.Fprintf(b, "%s    reason: %s\n", indent, Truncate(t.Result.Reason, 100))
		}
		if t.Result.Output != "" {
			fmt.Fprintf(b, "%s    result: %s\n", indent, Truncate(t.Result.Output, 100))
		}
	}

	for _, c := range snap.Children(t.ID) {
		writeTask(b, snap, c, depth+1)
	}
}

// Truncate shortens s to at most n runes, collapsing newlines.
func Truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
